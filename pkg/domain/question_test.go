package domain_test

import (
	"testing"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQuestion_Defaults(t *testing.T) {
	q, err := domain.NewQuestion("Choose **yes** or no!", domain.KeyedChoices(
		domain.Choice{Key: "yes", Text: "Yes"},
		domain.Choice{Key: "no", Text: "No"},
	))
	require.NoError(t, err)

	assert.True(t, q.StrictChoose)
	assert.True(t, q.Inline)
	assert.Equal(t, 2, q.ColumnCount)
	assert.Equal(t, []string{"Yes", "No"}, q.Options())
	assert.Equal(t, "Yes", q.Choices.Text("yes"))
	assert.Equal(t, "Choose yes or no!", q.PlainText())
}

func TestNewQuestion_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		choices domain.Choices
		opts    []domain.QuestionOption
	}{
		{"empty topic", "", domain.AnyChoice(), nil},
		{"empty list", "Pick", domain.ChoiceList(), nil},
		{"empty option", "Pick", domain.ChoiceList("a", ""), nil},
		{"empty key", "Pick", domain.KeyedChoices(domain.Choice{Text: "A"}), nil},
		{"zero columns", "Pick", domain.ChoiceList("a"), []domain.QuestionOption{domain.WithColumnCount(0)}},
		{"zero value choices", "Pick", domain.Choices{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewQuestion(tt.topic, tt.choices, tt.opts...)
			assert.ErrorIs(t, err, domain.ErrInvalidQuestion)
		})
	}
}

func TestMustQuestion_Panics(t *testing.T) {
	assert.Panics(t, func() {
		domain.MustQuestion("", domain.AnyChoice())
	})
}

func TestQuestion_ValidateAnswer(t *testing.T) {
	strict := domain.MustQuestion("Pick", domain.ChoiceList("a", "b"))
	loose := domain.MustQuestion("Pick", domain.ChoiceList("a", "b"), domain.WithStrictChoose(false))
	free := domain.MustQuestion("Say anything", domain.AnyChoice())

	assert.NoError(t, strict.ValidateAnswer(domain.Answer{Text: "a"}))
	assert.ErrorIs(t, strict.ValidateAnswer(domain.Answer{Text: "c"}), domain.ErrWrongAnswer)
	assert.NoError(t, loose.ValidateAnswer(domain.Answer{Text: "c"}))
	assert.NoError(t, free.ValidateAnswer(domain.Answer{Text: "anything"}))
	assert.Nil(t, free.Options())
}

func TestRespondent_Validate(t *testing.T) {
	assert.NoError(t, domain.Respondent{ID: "1", Messenger: domain.MessengerTelegram}.Validate())
	assert.ErrorIs(t, domain.Respondent{Messenger: domain.MessengerTelegram}.Validate(), domain.ErrInvalidRespondent)
	assert.ErrorIs(t, domain.Respondent{ID: "1", Messenger: "icq"}.Validate(), domain.ErrInvalidRespondent)
	assert.Equal(t, "web:42", domain.Respondent{ID: "42", Messenger: domain.MessengerWeb}.Key())
}

func TestLayoutButtons(t *testing.T) {
	buttons := []domain.Button{{Text: "1"}, {Text: "2"}, {Text: "3"}, {Text: "4"}, {Text: "5"}}

	rows := domain.LayoutButtons(buttons, 2)
	require.Len(t, rows, 3)
	assert.Len(t, rows[0], 2)
	assert.Len(t, rows[1], 2)
	assert.Equal(t, []domain.Button{{Text: "5"}}, rows[2])

	assert.Len(t, domain.LayoutButtons(buttons, 10), 1)
	assert.Nil(t, domain.LayoutButtons(nil, 2))
}

func TestOutcome(t *testing.T) {
	assert.True(t, domain.OutcomeCompleted.Terminal())
	assert.True(t, domain.OutcomeCancelled.Terminal())
	assert.False(t, domain.OutcomeInterrupted.Terminal())
	assert.Equal(t, "interrupted", domain.OutcomeInterrupted.String())
}
