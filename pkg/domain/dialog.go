package domain

import "time"

// DialogID is the storage-assigned identifier of a dialog. Zero means unassigned.
type DialogID int64

// DialogState is the position of a dialog in its ask cycle.
type DialogState string

const (
	StateIdle           DialogState = "idle"
	StateAwaitingAnswer DialogState = "awaiting_answer"
	StateValidating     DialogState = "validating"
	StateAnswered       DialogState = "answered"
	StateClosed         DialogState = "closed"
)

// Outcome is recorded when a dialog is closed.
type Outcome int

const (
	// OutcomeInterrupted ends the live session without a terminal mark (timeout,
	// shutdown, pause, script failure). The dialog stays restorable.
	OutcomeInterrupted Outcome = iota
	// OutcomeCompleted marks a dialog whose script ran to the end.
	OutcomeCompleted
	// OutcomeCancelled marks a dialog the respondent cancelled or restarted.
	OutcomeCancelled
)

// Terminal reports whether the outcome finishes the dialog in storage.
func (o Outcome) Terminal() bool {
	return o == OutcomeCompleted || o == OutcomeCancelled
}

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "interrupted"
	}
}

// Step is a persisted question/answer pair.
type Step struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// CallKey is the idempotency key of a side effect executed through CallOnce.
type CallKey uint64

// PauseRecord suspends a dialog without closing it.
// At most one active record exists per dialog.
type PauseRecord struct {
	DialogID   DialogID   `json:"dialog_id"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Active     bool       `json:"active"`
}
