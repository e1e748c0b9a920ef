package limpopo

import (
	"github.com/aretw0/limpopo/pkg/ports"
	"github.com/aretw0/limpopo/pkg/session"
)

// Version is the release of the engine. It is overridden at build time with
// -ldflags "-X github.com/aretw0/limpopo.Version=...".
var Version = "0.1.0"

// New creates a dialog service running quiz for every respondent.
// It is a shorthand for session.NewService.
func New(quiz session.QuizFunc, storage ports.Storage, transport ports.Transport, opts ...session.Option) (*session.Service, error) {
	return session.NewService(quiz, storage, transport, opts...)
}
