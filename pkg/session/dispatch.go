package session

import (
	"context"
	"errors"
	"strings"

	"github.com/aretw0/limpopo/internal/sanitize"
	"github.com/aretw0/limpopo/pkg/domain"
)

// Dispatch routes an inbound message of a respondent. Command tokens start, cancel,
// pause or resume the dialog; any other text is delivered to the live dialog,
// restoring it from storage first when needed. Text that fails sanitation is rejected
// with an error wrapping domain.ErrInvalidInput.
func (s *Service) Dispatch(ctx context.Context, respondent domain.Respondent, msg domain.Message) error {
	if err := respondent.Validate(); err != nil {
		return err
	}
	text, err := sanitize.Text(msg.Text, s.settings.MaxInputSize)
	if err != nil {
		s.logger.Warn("inbound message rejected", "respondent", respondent.Key(), "id", msg.ID, "err", err)
		return err
	}
	msg.Text = text

	switch command := strings.TrimSpace(msg.Text); {
	case command == s.settings.StartCommand:
		_, err := s.Start(ctx, respondent)
		return err
	case isCommand(command, s.settings.CancelCommand):
		return s.reply(ctx, respondent, s.Cancel(ctx, respondent), s.settings.Messages.Cancelled)
	case isCommand(command, s.settings.PauseCommand):
		_, err := s.Pause(ctx, respondent)
		return s.reply(ctx, respondent, err, s.settings.Messages.Paused)
	case isCommand(command, s.settings.ResumeCommand):
		_, err := s.resume(ctx, respondent, s.settings.Messages.PauseCancelled)
		if errors.Is(err, domain.ErrDialogExists) {
			return nil
		}
		return s.reply(ctx, respondent, err, "")
	}

	for range 2 {
		d, err := s.GetOrRestore(ctx, respondent)
		if errors.Is(err, domain.ErrDialogNotFound) {
			if s.settings.ReplyWithoutDialogue {
				return s.notify(ctx, respondent, s.settings.foreword())
			}
			return nil
		}
		if err != nil {
			return err
		}
		// The dialog may finish between lookup and delivery; look again once.
		if err := d.HandleMessage(ctx, msg); !errors.Is(err, domain.ErrDialogClosed) {
			return err
		}
	}
	return nil
}

// reply sends the no-dialog notice for domain.ErrDialogNotFound and text on success.
func (s *Service) reply(ctx context.Context, respondent domain.Respondent, err error, text string) error {
	switch {
	case errors.Is(err, domain.ErrDialogNotFound):
		return s.notify(ctx, respondent, s.settings.Messages.NoDialog)
	case err != nil:
		return err
	}
	return s.notify(ctx, respondent, text)
}

func isCommand(text, command string) bool {
	return command != "" && text == command
}
