package domain

// QuestionType is one of the five gradable question kinds.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionTrueFalse      QuestionType = "true-false"
	QuestionNumeric        QuestionType = "numeric"
	QuestionMatching       QuestionType = "matching"
	QuestionOrdering       QuestionType = "ordering"
)

// Normalize maps an unset or unknown type to multiple-choice, the default used
// when grouping statistics.
func (t QuestionType) Normalize() QuestionType {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionNumeric, QuestionMatching, QuestionOrdering:
		return t
	}
	return QuestionMultipleChoice
}

// Scenario is an externally authored, read-only exercise definition.
type Scenario struct {
	ID          string  `json:"id" yaml:"id"`
	Title       string  `json:"title" yaml:"title"`
	Description string  `json:"description" yaml:"description"`
	Rounds      []Round `json:"rounds" yaml:"rounds"`
}

// Round returns the round at index i.
func (s *Scenario) Round(i int) (*Round, bool) {
	if i < 0 || i >= len(s.Rounds) {
		return nil, false
	}
	return &s.Rounds[i], true
}

type Round struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	Questions   []Question `json:"questions" yaml:"questions"`
	Metrics     []string   `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// Question returns the question with the given id.
func (r *Round) Question(id string) (*Question, bool) {
	for i := range r.Questions {
		if r.Questions[i].ID == id {
			return &r.Questions[i], true
		}
	}
	return nil, false
}

// Question carries its own answer key. CorrectAnswer holds an option index for
// multiple-choice, a bool for true-false and a number for numeric questions.
type Question struct {
	ID                string       `json:"id" yaml:"id"`
	Type              QuestionType `json:"type" yaml:"type"`
	Text              string       `json:"question" yaml:"question"`
	Options           []string     `json:"options,omitempty" yaml:"options,omitempty"`
	Items             []Item       `json:"items,omitempty" yaml:"items,omitempty"`
	Points            float64      `json:"points" yaml:"points"`
	CorrectAnswer     any          `json:"correctAnswer,omitempty" yaml:"correctAnswer,omitempty"`
	CorrectMatches    []Match      `json:"correctMatches,omitempty" yaml:"correctMatches,omitempty"`
	CorrectOrder      []string     `json:"correctOrder,omitempty" yaml:"correctOrder,omitempty"`
	Tolerance         float64      `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	PartialCredit     bool         `json:"partialCredit,omitempty" yaml:"partialCredit,omitempty"`
	PointsPerMatch    *float64     `json:"pointsPerMatch,omitempty" yaml:"pointsPerMatch,omitempty"`
	PointsPerPosition *float64     `json:"pointsPerPosition,omitempty" yaml:"pointsPerPosition,omitempty"`
	Justification     string       `json:"justification,omitempty" yaml:"justification,omitempty"`
}

// Item is an orderable entry of an ordering question.
type Item struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`
}

// Match is a single left/right pairing of a matching question.
type Match struct {
	Left  string `json:"left" yaml:"left"`
	Right string `json:"right" yaml:"right"`
}
