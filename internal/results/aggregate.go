// Package results derives rankings, personal results and facilitator statistics
// from the submission ledger. Everything here is recomputed on read.
package results

import (
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/tabletop/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Accuracy is earned/possible as a percentage with two decimals, 0 when nothing
// was possible.
func Accuracy(earned, possible decimal.Decimal) decimal.Decimal {
	if !possible.IsPositive() {
		return decimal.Zero
	}
	return earned.Div(possible).Mul(hundred).Round(2)
}

// seconds reports d in seconds with two decimals.
func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// tally sums a set of responses.
type tally struct {
	points    decimal.Decimal
	possible  decimal.Decimal
	correct   int
	responses int
	first     time.Time
	last      time.Time
}

func (t *tally) add(r domain.Response) {
	t.points = t.points.Add(r.PointsEarned)
	t.possible = t.possible.Add(r.PointsPossible)
	if r.IsCorrect {
		t.correct++
	}
	if t.responses == 0 || r.SubmittedAt.Before(t.first) {
		t.first = r.SubmittedAt
	}
	if t.responses == 0 || r.SubmittedAt.After(t.last) {
		t.last = r.SubmittedAt
	}
	t.responses++
}

func (t *tally) accuracy() decimal.Decimal {
	return Accuracy(t.points, t.possible)
}

// activeTime is the span between the first and the last submission.
func (t *tally) activeTime() float64 {
	if t.responses == 0 {
		return 0
	}
	return seconds(t.last.Sub(t.first))
}

// averageInterval is the mean gap between consecutive submissions, nil with fewer
// than two. Consecutive gaps telescope, so the mean is the span over the gap count.
func (t *tally) averageInterval() *float64 {
	if t.responses < 2 {
		return nil
	}
	v := seconds(t.last.Sub(t.first) / time.Duration(t.responses-1))
	return &v
}

// span is the round completion time, nil with fewer than two submissions.
func (t *tally) span() *float64 {
	if t.responses < 2 {
		return nil
	}
	v := seconds(t.last.Sub(t.first))
	return &v
}

// byUser tallies the responses of the ranked participants only.
func byUser(ranked []domain.Participant, rs []domain.Response) map[string]*tally {
	m := make(map[string]*tally, len(ranked))
	for _, p := range ranked {
		m[p.UserID] = &tally{}
	}
	for _, r := range rs {
		if t, ok := m[r.UserID]; ok {
			t.add(r)
		}
	}
	return m
}

// Rank orders the accepted participants of t: anyone with a response before anyone
// without, then by points descending, then by earlier final submission, then by
// join order. Positions are the sort index plus one, ties are not compressed.
func Rank(t *domain.Training, rs []domain.Response) domain.Ranking {
	ranked := t.Ranked()
	tallies := byUser(ranked, rs)

	entries := make([]domain.RankingEntry, 0, len(ranked))
	for _, p := range ranked {
		tl := tallies[p.UserID]
		e := domain.RankingEntry{
			UserID:         p.UserID,
			Nickname:       p.Nickname,
			TotalPoints:    tl.points,
			TotalPossible:  tl.possible,
			CorrectCount:   tl.correct,
			TotalResponses: tl.responses,
		}
		if tl.responses > 0 {
			last := tl.last
			e.LastSubmittedAt = &last
		}
		entries = append(entries, e)
	}

	slices.SortStableFunc(entries, compareEntries)
	for i := range entries {
		entries[i].Position = i + 1
	}

	return domain.Ranking{
		TrainingID:   t.TrainingID,
		TrainingName: t.Name,
		Status:       t.Status,
		Entries:      entries,
	}
}

func compareEntries(a, b domain.RankingEntry) int {
	switch {
	case a.LastSubmittedAt == nil && b.LastSubmittedAt == nil:
		return 0
	case a.LastSubmittedAt == nil:
		return 1
	case b.LastSubmittedAt == nil:
		return -1
	}

	if c := b.TotalPoints.Cmp(a.TotalPoints); c != 0 {
		return c
	}
	return a.LastSubmittedAt.Compare(*b.LastSubmittedAt)
}

type Personal struct {
	TotalPoints     decimal.Decimal `json:"total_points"`
	TotalPossible   decimal.Decimal `json:"total_possible"`
	Accuracy        decimal.Decimal `json:"accuracy"`
	CorrectCount    int             `json:"correct_count"`
	IncorrectCount  int             `json:"incorrect_count"`
	TotalResponses  int             `json:"total_responses"`
	AverageInterval *float64        `json:"average_interval"`
	ActiveTime      float64         `json:"active_time"`
}

type Standing struct {
	Position          int `json:"position"`
	TotalParticipants int `json:"total_participants"`
}

// General holds anonymous averages over all participants. Accuracy and
// points average over everyone with a response, the interval over everyone with
// at least two.
type General struct {
	Participants      int             `json:"participants"`
	AverageAccuracy   decimal.Decimal `json:"average_accuracy"`
	AveragePoints     decimal.Decimal `json:"average_points"`
	AverageInterval   *float64        `json:"average_interval"`
	AverageActiveTime *float64        `json:"average_active_time"`
}

type RoundStat struct {
	RoundID               int             `json:"round_id"`
	Title                 string          `json:"title"`
	Responses             int             `json:"responses"`
	Points                decimal.Decimal `json:"points"`
	Possible              decimal.Decimal `json:"possible"`
	Accuracy              decimal.Decimal `json:"accuracy"`
	AverageAccuracy       decimal.Decimal `json:"average_accuracy"`
	CompletionTime        *float64        `json:"completion_time"`
	AverageCompletionTime *float64        `json:"average_completion_time"`
}

type TypeStat struct {
	Type      domain.QuestionType `json:"type"`
	Responses int                 `json:"responses"`
	Correct   int                 `json:"correct"`
	Points    decimal.Decimal     `json:"points"`
	Possible  decimal.Decimal     `json:"possible"`
	Accuracy  decimal.Decimal     `json:"accuracy"`
}

// Results is a participant's private view of a training.
type Results struct {
	Personal         Personal    `json:"personal"`
	Ranking          Standing    `json:"ranking"`
	General          General     `json:"general"`
	PerRound         []RoundStat `json:"per_round"`
	TypeStats        []TypeStat  `json:"type_stats"`
	TrainingDuration float64     `json:"training_duration"`
}

// Compute builds userID's results. The scenario supplies round titles; callers must
// fail rather than pass an empty scenario when it cannot be read.
func Compute(t *domain.Training, sc *domain.Scenario, rs []domain.Response, userID string, now time.Time) Results {
	ranked := t.Ranked()
	tallies := byUser(ranked, rs)
	mine := tallies[userID]
	if mine == nil {
		mine = &tally{}
	}

	return Results{
		Personal: Personal{
			TotalPoints:     mine.points,
			TotalPossible:   mine.possible,
			Accuracy:        mine.accuracy(),
			CorrectCount:    mine.correct,
			IncorrectCount:  mine.responses - mine.correct,
			TotalResponses:  mine.responses,
			AverageInterval: mine.averageInterval(),
			ActiveTime:      mine.activeTime(),
		},
		Ranking:          standing(Rank(t, rs), userID, mine.responses),
		General:          general(tallies),
		PerRound:         perRound(sc, ranked, rs, userID),
		TypeStats:        typeStats(rs, userID),
		TrainingDuration: seconds(t.TrainingTimer.ElapsedAt(now)),
	}
}

func standing(r domain.Ranking, userID string, responses int) Standing {
	s := Standing{TotalParticipants: len(r.Entries)}
	if responses == 0 {
		s.Position = s.TotalParticipants
		return s
	}
	for _, e := range r.Entries {
		if e.UserID == userID {
			s.Position = e.Position
			break
		}
	}
	return s
}

func general(tallies map[string]*tally) General {
	var (
		g                  General
		accuracy, points   decimal.Decimal
		interval, active   float64
		intervals, actives int
	)
	for _, tl := range tallies {
		if tl.responses == 0 {
			continue
		}
		g.Participants++
		accuracy = accuracy.Add(tl.accuracy())
		points = points.Add(tl.points)
		active += tl.activeTime()
		actives++
		if v := tl.averageInterval(); v != nil {
			interval += *v
			intervals++
		}
	}

	if g.Participants > 0 {
		n := decimal.NewFromInt(int64(g.Participants))
		g.AverageAccuracy = accuracy.Div(n).Round(2)
		g.AveragePoints = points.Div(n).Round(2)
	}
	g.AverageInterval = mean(interval, intervals)
	g.AverageActiveTime = mean(active, actives)
	return g
}

func mean(sum float64, n int) *float64 {
	if n == 0 {
		return nil
	}
	v := math.Round(sum/float64(n)*100) / 100
	return &v
}

// perRound compares the user's rounds with everyone's. Round averages pool all
// responses of the round, the user's own included.
func perRound(sc *domain.Scenario, ranked []domain.Participant, rs []domain.Response, userID string) []RoundStat {
	members := make(map[string]struct{}, len(ranked))
	for _, p := range ranked {
		members[p.UserID] = struct{}{}
	}

	rounds := make(map[int]map[string]*tally)
	for _, r := range rs {
		if _, ok := members[r.UserID]; !ok {
			continue
		}
		if rounds[r.RoundID] == nil {
			rounds[r.RoundID] = make(map[string]*tally)
		}
		tl := rounds[r.RoundID][r.UserID]
		if tl == nil {
			tl = &tally{}
			rounds[r.RoundID][r.UserID] = tl
		}
		tl.add(r)
	}

	ids := make([]int, 0, len(rounds))
	for id, users := range rounds {
		if _, ok := users[userID]; ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	stats := make([]RoundStat, 0, len(ids))
	for _, id := range ids {
		var (
			pooled tally
			span   float64
			spans  int
		)
		for _, tl := range rounds[id] {
			pooled.points = pooled.points.Add(tl.points)
			pooled.possible = pooled.possible.Add(tl.possible)
			if v := tl.span(); v != nil {
				span += *v
				spans++
			}
		}

		mine := rounds[id][userID]
		st := RoundStat{
			RoundID:               id,
			Responses:             mine.responses,
			Points:                mine.points,
			Possible:              mine.possible,
			Accuracy:              mine.accuracy(),
			AverageAccuracy:       pooled.accuracy(),
			CompletionTime:        mine.span(),
			AverageCompletionTime: mean(span, spans),
		}
		if round, ok := sc.Round(id); ok {
			st.Title = round.Title
		}
		stats = append(stats, st)
	}
	return stats
}

var typeOrder = []domain.QuestionType{
	domain.QuestionMultipleChoice,
	domain.QuestionTrueFalse,
	domain.QuestionNumeric,
	domain.QuestionMatching,
	domain.QuestionOrdering,
}

func typeStats(rs []domain.Response, userID string) []TypeStat {
	m := make(map[domain.QuestionType]*tally)
	for _, r := range rs {
		if r.UserID != userID {
			continue
		}
		qt := r.QuestionType.Normalize()
		if m[qt] == nil {
			m[qt] = &tally{}
		}
		m[qt].add(r)
	}

	stats := make([]TypeStat, 0, len(m))
	for _, qt := range typeOrder {
		tl, ok := m[qt]
		if !ok {
			continue
		}
		stats = append(stats, TypeStat{
			Type:      qt,
			Responses: tl.responses,
			Correct:   tl.correct,
			Points:    tl.points,
			Possible:  tl.possible,
			Accuracy:  tl.accuracy(),
		})
	}
	return stats
}

type QuestionStat struct {
	RoundID       int                 `json:"round_id"`
	QuestionID    string              `json:"question_id"`
	Type          domain.QuestionType `json:"type"`
	Answers       int                 `json:"answers"`
	Correct       int                 `json:"correct"`
	Accuracy      decimal.Decimal     `json:"accuracy"`
	AveragePoints decimal.Decimal     `json:"average_points"`
}

type ParticipantStat struct {
	UserID          string          `json:"user_id"`
	Nickname        string          `json:"nickname"`
	Position        int             `json:"position"`
	TotalPoints     decimal.Decimal `json:"total_points"`
	TotalPossible   decimal.Decimal `json:"total_possible"`
	Accuracy        decimal.Decimal `json:"accuracy"`
	CorrectCount    int             `json:"correct_count"`
	TotalResponses  int             `json:"total_responses"`
	AverageInterval *float64        `json:"average_interval"`
	ActiveTime      float64         `json:"active_time"`
}

// Statistics is the facilitator's view over every participant and question.
type Statistics struct {
	Participants     []ParticipantStat `json:"participants"`
	Questions        []QuestionStat    `json:"questions"`
	TotalResponses   int               `json:"total_responses"`
	TrainingDuration float64           `json:"training_duration"`
}

// ComputeStatistics lists every scenario question, answered or not, and every
// ranked participant in ranking order.
func ComputeStatistics(t *domain.Training, sc *domain.Scenario, rs []domain.Response, now time.Time) Statistics {
	ranked := t.Ranked()
	tallies := byUser(ranked, rs)

	st := Statistics{
		TrainingDuration: seconds(t.TrainingTimer.ElapsedAt(now)),
	}

	for _, e := range Rank(t, rs).Entries {
		tl := tallies[e.UserID]
		st.TotalResponses += tl.responses
		st.Participants = append(st.Participants, ParticipantStat{
			UserID:          e.UserID,
			Nickname:        e.Nickname,
			Position:        e.Position,
			TotalPoints:     tl.points,
			TotalPossible:   tl.possible,
			Accuracy:        tl.accuracy(),
			CorrectCount:    tl.correct,
			TotalResponses:  tl.responses,
			AverageInterval: tl.averageInterval(),
			ActiveTime:      tl.activeTime(),
		})
	}

	type key struct {
		round    int
		question string
	}
	questions := make(map[key]*tally)
	for _, r := range rs {
		if _, ok := tallies[r.UserID]; !ok {
			continue
		}
		k := key{r.RoundID, r.QuestionID}
		if questions[k] == nil {
			questions[k] = &tally{}
		}
		questions[k].add(r)
	}

	for ri, round := range sc.Rounds {
		for _, q := range round.Questions {
			qs := QuestionStat{RoundID: ri, QuestionID: q.ID, Type: q.Type.Normalize()}
			if tl, ok := questions[key{ri, q.ID}]; ok {
				qs.Answers = tl.responses
				qs.Correct = tl.correct
				qs.Accuracy = tl.accuracy()
				qs.AveragePoints = tl.points.Div(decimal.NewFromInt(int64(tl.responses))).Round(2)
			}
			st.Questions = append(st.Questions, qs)
		}
	}
	return st
}
