package domain

import "errors"

// ErrInvalidQuestion is returned when a Question is constructed with malformed parameters.
var ErrInvalidQuestion = errors.New("invalid question")

// ErrInvalidSettings is returned when engine or transport settings fail validation.
var ErrInvalidSettings = errors.New("invalid settings")

// ErrInvalidRespondent is returned when a Respondent lacks an ID or a known messenger.
var ErrInvalidRespondent = errors.New("invalid respondent")

// ErrWrongAnswer is returned by Question.ValidateAnswer when a strict question receives
// a reply outside its options. It never escapes Dialog.Ask.
var ErrWrongAnswer = errors.New("wrong answer")

// ErrTimeout is returned by Dialog.Ask when no acceptable answer arrives in time.
// The session is closed without a terminal outcome and may be restored later.
var ErrTimeout = errors.New("answer timeout")

// ErrDialogStopped is returned when a dialog can no longer make progress because its
// persistence layer is exhausted. The session has already been removed from the registry.
var ErrDialogStopped = errors.New("dialog stopped")

// ErrDialogNotFound is returned when no live or restorable dialog exists for a respondent.
var ErrDialogNotFound = errors.New("dialog not found")

// ErrDialogExists is returned when a live dialog is created for a respondent that already has one.
var ErrDialogExists = errors.New("dialog already exists")

// ErrDialogClosed is returned by operations on a dialog that has been closed.
var ErrDialogClosed = errors.New("dialog closed")

// ErrStorageUnavailable marks a transient storage failure. Adapters wrap it to signal
// that an operation may succeed when retried.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrInvalidInput is returned when an inbound message is rejected before delivery,
// for example because it is too large or not valid UTF-8.
var ErrInvalidInput = errors.New("invalid input")
