package ports

import (
	"context"

	"github.com/aretw0/limpopo/pkg/domain"
)

// Storage defines the persistence gateway of the dialog engine.
// Every call made by the engine is wrapped in a retry policy that consults Retryable.
type Storage interface {
	// CreateDialog upserts the respondent and inserts a new open dialog, returning its ID.
	CreateDialog(ctx context.Context, respondent domain.Respondent) (domain.DialogID, error)

	// SaveQuestionAndAnswer appends a step to the dialog history.
	SaveQuestionAndAnswer(ctx context.Context, dialogID domain.DialogID, step domain.Step) error

	// SaveFunctionCall records the idempotency key of a side effect.
	// Recording an existing key is not an error.
	SaveFunctionCall(ctx context.Context, dialogID domain.DialogID, key domain.CallKey) error

	// CloseDialog marks the dialog finished with a terminal outcome.
	// OutcomeInterrupted leaves the dialog open so it can be restored.
	CloseDialog(ctx context.Context, dialogID domain.DialogID, outcome domain.Outcome) error

	// LastDialogID returns the most recent unfinished dialog of the respondent whose
	// active-pause status equals onPause. The boolean is false when none exists.
	LastDialogID(ctx context.Context, respondentID string, messenger domain.Messenger, onPause bool) (domain.DialogID, bool, error)

	// DialogSteps returns the persisted steps ordered by creation.
	DialogSteps(ctx context.Context, dialogID domain.DialogID) ([]domain.Step, error)

	// CalledFunctions returns the idempotency keys recorded for the dialog.
	CalledFunctions(ctx context.Context, dialogID domain.DialogID) ([]domain.CallKey, error)

	// Pause creates an active pause record. It returns false if one already exists.
	Pause(ctx context.Context, dialogID domain.DialogID) (bool, error)

	// CancelPause finishes the active pause record. It returns false if none was active.
	CancelPause(ctx context.Context, dialogID domain.DialogID) (bool, error)

	// Retryable reports whether err belongs to the adapter's transient failure set.
	Retryable(err error) bool
}

// Operation names used for retry logging, metrics and fault injection.
const (
	OpCreateDialog          = "create_dialog"
	OpSaveQuestionAndAnswer = "save_question_and_answer"
	OpSaveFunctionCall      = "save_function_call"
	OpCloseDialog           = "close_dialog"
	OpLastDialogID          = "get_last_dialog_id"
	OpDialogSteps           = "get_messages_from_dialog"
	OpCalledFunctions       = "get_called_functions"
	OpPause                 = "pause"
	OpCancelPause           = "cancel_pause"
)
