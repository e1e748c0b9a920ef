package domain

import (
	"fmt"
	"slices"

	"github.com/aretw0/limpopo/internal/markdown"
)

// Choice is a keyed option of a question. The key is stable for script logic,
// the text is what the respondent sees and answers with.
type Choice struct {
	Key  string
	Text string
}

// Choices is the set of acceptable answers of a question: either any text,
// an ordered list of strings, or an ordered list of keyed choices.
type Choices struct {
	any   bool
	items []Choice
	keyed bool
}

// AnyChoice accepts any reply.
func AnyChoice() Choices {
	return Choices{any: true}
}

// ChoiceList builds an ordered list of plain options.
func ChoiceList(options ...string) Choices {
	items := make([]Choice, len(options))
	for i, o := range options {
		items[i] = Choice{Key: o, Text: o}
	}
	return Choices{items: items}
}

// KeyedChoices builds an ordered mapping of key to display text.
func KeyedChoices(choices ...Choice) Choices {
	return Choices{items: slices.Clone(choices), keyed: true}
}

// IsAny reports whether the choices accept any reply.
func (c Choices) IsAny() bool { return c.any }

// Keyed reports whether the choices were built from key/text pairs.
func (c Choices) Keyed() bool { return c.keyed }

// Options returns the ordered display texts. It is nil for AnyChoice.
func (c Choices) Options() []string {
	if c.any {
		return nil
	}
	out := make([]string, len(c.items))
	for i, item := range c.items {
		out[i] = item.Text
	}
	return out
}

// Text returns the display text of the choice with the given key, or "" if absent.
func (c Choices) Text(key string) string {
	for _, item := range c.items {
		if item.Key == key {
			return item.Text
		}
	}
	return ""
}

// Contains reports whether text is one of the display texts.
func (c Choices) Contains(text string) bool {
	for _, item := range c.items {
		if item.Text == text {
			return true
		}
	}
	return false
}

func (c Choices) validate() error {
	if c.any {
		return nil
	}
	if len(c.items) == 0 {
		return fmt.Errorf("%w: choices must be AnyChoice or a non-empty collection", ErrInvalidQuestion)
	}
	for i, item := range c.items {
		if item.Text == "" {
			return fmt.Errorf("%w: choice #%d has empty text", ErrInvalidQuestion, i+1)
		}
		if c.keyed && item.Key == "" {
			return fmt.Errorf("%w: choice #%d has empty key", ErrInvalidQuestion, i+1)
		}
	}
	return nil
}

// Question is a single prompt of a quiz script.
type Question struct {
	Topic        string
	Choices      Choices
	StrictChoose bool
	ColumnCount  int
	Inline       bool

	plainText string
}

// QuestionOption customizes a Question.
type QuestionOption func(*Question)

// WithStrictChoose toggles whether answers must be one of the options.
func WithStrictChoose(strict bool) QuestionOption {
	return func(q *Question) {
		q.StrictChoose = strict
	}
}

// WithColumnCount sets how many buttons a transport places per row.
func WithColumnCount(n int) QuestionOption {
	return func(q *Question) {
		q.ColumnCount = n
	}
}

// WithInline toggles inline (attached) buttons versus a reply keyboard.
func WithInline(inline bool) QuestionOption {
	return func(q *Question) {
		q.Inline = inline
	}
}

// NewQuestion builds and validates a question.
// Defaults: strict choose, two columns, inline buttons.
func NewQuestion(topic string, choices Choices, opts ...QuestionOption) (Question, error) {
	q := Question{
		Topic:        topic,
		Choices:      choices,
		StrictChoose: true,
		ColumnCount:  2,
		Inline:       true,
	}
	for _, opt := range opts {
		opt(&q)
	}

	if q.Topic == "" {
		return Question{}, fmt.Errorf("%w: empty topic", ErrInvalidQuestion)
	}
	if q.ColumnCount <= 0 {
		return Question{}, fmt.Errorf("%w: column count must be positive, got %d", ErrInvalidQuestion, q.ColumnCount)
	}
	if err := q.Choices.validate(); err != nil {
		return Question{}, err
	}

	q.plainText = markdown.PlainText(q.Topic)
	return q, nil
}

// MustQuestion is like NewQuestion but panics on invalid input.
// It simplifies safe initialization of package-level questions.
func MustQuestion(topic string, choices Choices, opts ...QuestionOption) Question {
	q, err := NewQuestion(topic, choices, opts...)
	if err != nil {
		panic(err)
	}
	return q
}

// Options returns the ordered list of choice display strings.
func (q Question) Options() []string {
	return q.Choices.Options()
}

// PlainText returns the topic stripped of markdown. It is the canonical topic:
// the text persisted with each answer and the key of the replay cache.
func (q Question) PlainText() string {
	if q.plainText == "" && q.Topic != "" {
		return markdown.PlainText(q.Topic)
	}
	return q.plainText
}

// ValidateAnswer checks the answer against the question's choices.
func (q Question) ValidateAnswer(a Answer) error {
	if q.StrictChoose && !q.Choices.IsAny() && !q.Choices.Contains(a.Text) {
		return fmt.Errorf("%w: question %q does not accept %q", ErrWrongAnswer, q.PlainText(), a.Text)
	}
	return nil
}
