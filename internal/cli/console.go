package cli

import (
	"context"
	"io"

	"github.com/aretw0/limpopo/internal/presentation/tui"
	"github.com/aretw0/limpopo/pkg/adapters/console"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/session"
	"github.com/muesli/termenv"
)

// ConsoleOptions configures RunConsole.
type ConsoleOptions struct {
	In  io.Reader
	Out io.Writer
	// Start is dispatched before the first line is read. Empty waits for the respondent.
	Start string
	// Interactive prints the input prompt. Piped input reads silently.
	Interactive bool
}

// RunConsole runs quiz for the local respondent until the input ends or ctx is cancelled.
func RunConsole(ctx context.Context, rt *Runtime, quiz session.QuizFunc, opts ConsoleOptions) error {
	cfg := rt.Config.Console
	ctx, cancel := rt.Guard(ctx)
	defer cancel()

	var consoleOpts []console.Option
	if cfg.NoColor {
		consoleOpts = append(consoleOpts, console.WithProfile(termenv.Ascii))
	}
	if !opts.Interactive {
		consoleOpts = append(consoleOpts, console.WithPrompt(""))
	}
	if cfg.Markdown {
		render, err := tui.NewRenderer(cfg.NoColor, 80)
		if err != nil {
			return err
		}
		consoleOpts = append(consoleOpts, console.WithMarkdown(render))
	}
	term := console.New(opts.In, opts.Out, consoleOpts...)

	svc, err := rt.NewService(quiz, term, cfg.Settings, console.Renderer{})
	if err != nil {
		return err
	}
	defer stopService(svc, rt.Logger)

	respondent := domain.Respondent{
		ID:        cfg.RespondentID,
		Messenger: domain.MessengerConsole,
	}
	rt.Logger.Debug("Console session started", "respondent", respondent.Key())
	return handleExecutionError(term.Run(ctx, svc, respondent, opts.Start))
}
