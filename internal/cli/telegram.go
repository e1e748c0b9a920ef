package cli

import (
	"context"
	"errors"

	"github.com/aretw0/limpopo/pkg/adapters/telegram"
	"github.com/aretw0/limpopo/pkg/ports"
	"github.com/aretw0/limpopo/pkg/session"
)

// ErrMissingToken is returned when no bot token is configured.
var ErrMissingToken = errors.New("telegram token is required (set LIMPOPO_TELEGRAM_TOKEN)")

// RunTelegram runs quiz as a Telegram bot until ctx is cancelled.
func RunTelegram(ctx context.Context, rt *Runtime, quiz session.QuizFunc) error {
	cfg := rt.Config.Telegram
	ctx, cancel := rt.Guard(ctx)
	defer cancel()
	if cfg.Token == "" {
		return ErrMissingToken
	}

	bot, err := telegram.NewBot(cfg.Token)
	if err != nil {
		return err
	}
	adapter := telegram.New(bot, telegram.WithLogger(rt.Logger))

	svc, err := rt.NewService(quiz, adapter, cfg.Settings, ports.IndexRenderer{})
	if err != nil {
		return err
	}
	defer stopService(svc, rt.Logger)

	return handleExecutionError(adapter.Listen(ctx, bot, svc))
}
