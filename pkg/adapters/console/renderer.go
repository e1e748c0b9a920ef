package console

import (
	"strconv"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/ports"
)

// Renderer lets the respondent answer with the number printed next to an option.
type Renderer struct{}

// RenderQuestion implements ports.QuestionRenderer.
func (Renderer) RenderQuestion(q domain.Question) domain.Payload {
	return ports.PlainRenderer{}.RenderQuestion(q)
}

// NormalizeAnswer implements ports.QuestionRenderer.
func (Renderer) NormalizeAnswer(q domain.Question, text string) string {
	options := q.Options()
	index, err := strconv.Atoi(text)
	if err != nil || index < 1 || index > len(options) {
		return text
	}
	return options[index-1]
}
