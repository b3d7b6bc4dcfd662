// Package grading validates submitted answers against a question's answer key and
// scores them.
//
// Validity and correctness are separate outcomes: a malformed answer is reported
// with Valid=false and must never reach the ledger, while a well-formed wrong
// answer is a legitimate zero (or partial) score.
package grading

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/victornm/tabletop/internal/domain"
)

// Result is the outcome of grading a single answer.
type Result struct {
	Valid          bool
	Message        string
	IsCorrect      bool
	PointsEarned   decimal.Decimal
	PointsPossible decimal.Decimal
}

func invalid(possible decimal.Decimal, format string, args ...any) Result {
	return Result{
		Valid:          false,
		Message:        fmt.Sprintf(format, args...),
		PointsPossible: possible,
	}
}

func binary(correct bool, possible decimal.Decimal) Result {
	r := Result{
		Valid:          true,
		IsCorrect:      correct,
		PointsEarned:   decimal.Zero,
		PointsPossible: possible,
	}
	if correct {
		r.PointsEarned = possible
	}
	return r
}

// Grade scores answer, the raw JSON submitted by the client, against q. It is a pure
// function of its inputs.
func Grade(q domain.Question, answer json.RawMessage) Result {
	possible := decimal.NewFromFloat(q.Points)
	if possible.IsNegative() {
		possible = decimal.Zero
	}

	v, err := decode(answer)
	if err != nil {
		return invalid(possible, "answer is not valid JSON")
	}
	if v == nil {
		return invalid(possible, "answer is required")
	}

	switch q.Type.Normalize() {
	case domain.QuestionTrueFalse:
		return gradeTrueFalse(q, v, possible)
	case domain.QuestionNumeric:
		return gradeNumeric(q, v, possible)
	case domain.QuestionMatching:
		return gradeMatching(q, v, possible)
	case domain.QuestionOrdering:
		return gradeOrdering(q, v, possible)
	default:
		return gradeMultipleChoice(q, v, possible)
	}
}

func decode(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()

	var v any
	if err := d.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func gradeMultipleChoice(q domain.Question, v any, possible decimal.Decimal) Result {
	n, ok := v.(json.Number)
	if !ok {
		return invalid(possible, "answer must be an option index")
	}

	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < 0 || f >= float64(len(q.Options)) {
		return invalid(possible, "answer must be an option index between 0 and %d", len(q.Options)-1)
	}

	want, ok := toFloat(q.CorrectAnswer)
	return binary(ok && f == want, possible)
}

func gradeTrueFalse(q domain.Question, v any, possible decimal.Decimal) Result {
	b, ok := v.(bool)
	if !ok {
		return invalid(possible, "answer must be true or false")
	}

	want, ok := q.CorrectAnswer.(bool)
	return binary(ok && b == want, possible)
}

func gradeNumeric(q domain.Question, v any, possible decimal.Decimal) Result {
	n, ok := v.(json.Number)
	if !ok {
		return invalid(possible, "answer must be a number")
	}

	// Parsing the literal keeps the comparison exact: 0.4 - 0.3 is 0.1, not 0.10000000000000003.
	got, err := decimal.NewFromString(n.String())
	if err != nil {
		return invalid(possible, "answer must be a finite number")
	}

	want, ok := toFloat(q.CorrectAnswer)
	if !ok {
		return binary(false, possible)
	}

	tolerance := decimal.NewFromFloat(q.Tolerance)
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}

	diff := got.Sub(decimal.NewFromFloat(want)).Abs()
	return binary(diff.LessThanOrEqual(tolerance), possible)
}

func gradeMatching(q domain.Question, v any, possible decimal.Decimal) Result {
	arr, ok := v.([]any)
	if !ok {
		return invalid(possible, "answer must be a list of matches")
	}
	if len(arr) != len(q.CorrectMatches) {
		return invalid(possible, "answer must contain exactly %d matches", len(q.CorrectMatches))
	}

	pairs := make([]domain.Match, 0, len(arr))
	for _, el := range arr {
		m, ok := el.(map[string]any)
		if !ok {
			return invalid(possible, "each match must be an object with left and right")
		}
		left, lok := m["left"].(string)
		right, rok := m["right"].(string)
		if !lok || !rok {
			return invalid(possible, "each match must have string left and right values")
		}
		pairs = append(pairs, domain.Match{Left: left, Right: right})
	}

	remaining := make(map[domain.Match]int, len(q.CorrectMatches))
	for _, m := range q.CorrectMatches {
		remaining[m]++
	}

	correct := 0
	for _, p := range pairs {
		if remaining[p] > 0 {
			remaining[p]--
			correct++
		}
	}

	return scoreItems(correct, len(q.CorrectMatches), q.PartialCredit, q.PointsPerMatch, possible)
}

func gradeOrdering(q domain.Question, v any, possible decimal.Decimal) Result {
	arr, ok := v.([]any)
	if !ok {
		return invalid(possible, "answer must be a list of item ids")
	}
	if len(arr) != len(q.CorrectOrder) {
		return invalid(possible, "answer must contain exactly %d items", len(q.CorrectOrder))
	}

	ids := make([]string, 0, len(arr))
	for _, el := range arr {
		id, ok := el.(string)
		if !ok {
			return invalid(possible, "item ids must be strings")
		}
		ids = append(ids, id)
	}

	remaining := make(map[string]int, len(q.CorrectOrder))
	for _, id := range q.CorrectOrder {
		remaining[id]++
	}
	for _, id := range ids {
		if remaining[id] == 0 {
			return invalid(possible, "answer must contain exactly the question's items")
		}
		remaining[id]--
	}

	correct := 0
	for i, id := range ids {
		if id == q.CorrectOrder[i] {
			correct++
		}
	}

	return scoreItems(correct, len(q.CorrectOrder), q.PartialCredit, q.PointsPerPosition, possible)
}

// scoreItems awards per-item credit rounded to 2 decimals and capped at possible.
// The answer is correct only when every item is; without partial credit that is
// the only way to earn points.
func scoreItems(correct, total int, partial bool, perItem *float64, possible decimal.Decimal) Result {
	if !partial {
		return binary(correct == total, possible)
	}

	per := possible.Div(decimal.NewFromInt(int64(total)))
	if perItem != nil {
		per = decimal.NewFromFloat(*perItem)
	}

	earned := per.Mul(decimal.NewFromInt(int64(correct))).Round(2)
	if earned.GreaterThanOrEqual(possible) {
		earned = possible
	}
	if earned.IsNegative() {
		earned = decimal.Zero
	}

	return Result{
		Valid:          true,
		IsCorrect:      correct == total,
		PointsEarned:   earned,
		PointsPossible: possible,
	}
}

// toFloat reads a numeric answer key as decoded from JSON or YAML.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
