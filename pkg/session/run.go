package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/aretw0/limpopo/pkg/domain"
)

var errAlreadyRunning = errors.New("quiz already running")

// RunQuiz runs the quiz script of d and closes the dialog according to its result:
// completion finishes the dialog, a timeout or failure leaves it restorable, and
// cancellation or a stopped dialog are silent. The script's error is returned.
// Cancelling ctx closes the dialog without a terminal outcome.
func (s *Service) RunQuiz(ctx context.Context, d *Dialog) error {
	if d.svc != s {
		return fmt.Errorf("%w: dialog belongs to another service", domain.ErrDialogNotFound)
	}
	if !d.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(d.done)

	stop := context.AfterFunc(ctx, d.cancel)
	defer stop()

	err := s.runScript(d)
	closeCtx := s.baseCtx

	switch {
	case err == nil:
		if cerr := s.closeDialog(closeCtx, d, domain.OutcomeCompleted); cerr != nil {
			s.logger.Error("failed to close completed dialog", append(d.logAttrs(), "err", cerr)...)
		}
	case errors.Is(err, domain.ErrTimeout):
		s.logger.Info("dialog timed out", d.logAttrs()...)
		_ = s.closeDialog(closeCtx, d, domain.OutcomeInterrupted)
	case errors.Is(err, domain.ErrDialogStopped),
		errors.Is(err, domain.ErrDialogClosed),
		errors.Is(err, context.Canceled):
		s.logger.Debug("dialog ended", append(d.logAttrs(), "err", err)...)
		_ = s.closeDialog(closeCtx, d, domain.OutcomeInterrupted)
	default:
		s.logger.Error("quiz failed", append(d.logAttrs(), "err", err)...)
		_ = s.closeDialog(closeCtx, d, domain.OutcomeInterrupted)
	}
	return err
}

// supervise runs a registered dialog in the background.
func (s *Service) supervise(d *Dialog) {
	defer s.wg.Done()
	_ = s.RunQuiz(d.ctx, d)
}

func (s *Service) runScript(d *Dialog) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("quiz panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return s.quiz(d.ctx, d)
}
