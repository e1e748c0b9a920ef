package cli

import (
	"context"
	"errors"
	"io"

	httpAdapter "github.com/aretw0/limpopo/pkg/adapters/http"
	"github.com/aretw0/limpopo/pkg/adapters/mcp"
	"github.com/aretw0/limpopo/pkg/session"
)

// RunMCP serves quiz to an MCP client over in and out until ctx is cancelled or in ends.
// Agents answer as web respondents and use the http transport settings.
func RunMCP(ctx context.Context, rt *Runtime, quiz session.QuizFunc, in io.Reader, out io.Writer) error {
	cfg := rt.Config.HTTP
	ctx, cancel := rt.Guard(ctx)
	defer cancel()

	transport := httpAdapter.NewTransport(cfg.OutboxSize, rt.Logger)
	svc, err := rt.NewService(quiz, transport, cfg.Settings, nil)
	if err != nil {
		return err
	}
	defer stopService(svc, rt.Logger)

	srv := mcp.NewServer(svc, transport,
		mcp.WithLogger(rt.Logger),
		mcp.WithStartCommand(cfg.StartCommand),
	)
	err = srv.ServeStdio(ctx, in, out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return handleExecutionError(err)
}
