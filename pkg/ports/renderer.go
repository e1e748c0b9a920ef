package ports

import (
	"strconv"

	"github.com/aretw0/limpopo/pkg/domain"
)

// QuestionRenderer shapes questions and answers for a specific transport.
// It is selected when the session service is constructed.
type QuestionRenderer interface {
	// RenderQuestion turns a question into an outbound payload.
	RenderQuestion(q domain.Question) domain.Payload

	// NormalizeAnswer maps a raw reply (e.g. button callback data) to answer text.
	NormalizeAnswer(q domain.Question, text string) string
}

// PlainRenderer renders options as buttons whose data equals their text.
type PlainRenderer struct{}

// RenderQuestion implements QuestionRenderer.
func (PlainRenderer) RenderQuestion(q domain.Question) domain.Payload {
	return domain.Payload{
		Text:    q.Topic,
		Buttons: domain.LayoutButtons(textButtons(q.Options()), q.ColumnCount),
		Inline:  q.Inline,
	}
}

// NormalizeAnswer implements QuestionRenderer. The reply is used as is.
func (PlainRenderer) NormalizeAnswer(_ domain.Question, text string) string {
	return text
}

// IndexRenderer renders inline options as buttons carrying their 1-based index and maps
// an index reply back to the option text. Non-inline questions behave like PlainRenderer.
type IndexRenderer struct{}

// RenderQuestion implements QuestionRenderer.
func (IndexRenderer) RenderQuestion(q domain.Question) domain.Payload {
	if !q.Inline {
		return PlainRenderer{}.RenderQuestion(q)
	}
	options := q.Options()
	buttons := make([]domain.Button, len(options))
	for i, text := range options {
		buttons[i] = domain.Button{Text: text, Data: strconv.Itoa(i + 1)}
	}
	return domain.Payload{
		Text:    q.Topic,
		Buttons: domain.LayoutButtons(buttons, q.ColumnCount),
		Inline:  true,
	}
}

// NormalizeAnswer implements QuestionRenderer.
func (IndexRenderer) NormalizeAnswer(q domain.Question, text string) string {
	options := q.Options()
	if len(options) == 0 || !q.Inline {
		return text
	}
	index, err := strconv.Atoi(text)
	if err != nil || index < 1 || index > len(options) {
		return text
	}
	return options[index-1]
}

func textButtons(options []string) []domain.Button {
	if len(options) == 0 {
		return nil
	}
	buttons := make([]domain.Button, len(options))
	for i, text := range options {
		buttons[i] = domain.Button{Text: text}
	}
	return buttons
}
