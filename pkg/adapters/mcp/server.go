// Package mcp exposes dialogs to AI agents over the Model Context Protocol: the agent
// is the respondent, replying through tools and reading the quiz's messages back.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/limpopo"
	httpAdapter "github.com/aretw0/limpopo/pkg/adapters/http"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Dispatcher routes inbound messages to dialogs. *session.Service implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, respondent domain.Respondent, msg domain.Message) error
}

// Server wraps a dialog service and exposes it as an MCP server.
type Server struct {
	dispatcher Dispatcher
	transport  *httpAdapter.Transport
	mcpServer  *server.MCPServer
	start      string
	wait       time.Duration
	settle     time.Duration
	logger     *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStartCommand sets the token start_dialog sends. Default "/start".
func WithStartCommand(command string) Option {
	return func(s *Server) {
		s.start = command
	}
}

// WithWait bounds how long a tool waits for the quiz's first message (wait) and for
// the quiz to go quiet afterwards (settle).
func WithWait(wait, settle time.Duration) Option {
	return func(s *Server) {
		s.wait = wait
		s.settle = settle
	}
}

// NewServer creates an MCP server. transport must be the Transport the dispatcher
// sends through.
func NewServer(dispatcher Dispatcher, transport *httpAdapter.Transport, opts ...Option) *Server {
	s := &Server{
		dispatcher: dispatcher,
		transport:  transport,
		mcpServer: server.NewMCPServer("limpopo-mcp", strings.TrimSpace(limpopo.Version),
			server.WithToolCapabilities(false),
		),
		start:  "/start",
		wait:   5 * time.Second,
		settle: 200 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the protocol over in and out until ctx is cancelled or in ends.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("MCP server listening (stdio)")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	// TOOL: start_dialog
	s.mcpServer.AddTool(mcp.NewTool("start_dialog",
		mcp.WithDescription("Start a new dialog for a respondent and return the first messages of the quiz."),
		mcp.WithString("respondent_id", mcp.Required(), mcp.Description("Identifier of the respondent")),
	), s.handleStart)

	// TOOL: reply
	s.mcpServer.AddTool(mcp.NewTool("reply",
		mcp.WithDescription("Answer the pending question of the respondent's dialog and return the messages that follow."),
		mcp.WithString("respondent_id", mcp.Required(), mcp.Description("Identifier of the respondent")),
		mcp.WithString("text", mcp.Required(), mcp.Description("The reply, usually one of the offered buttons")),
	), s.handleReply)

	// TOOL: fetch_messages
	s.mcpServer.AddTool(mcp.NewTool("fetch_messages",
		mcp.WithDescription("Return and forget the messages queued for the respondent."),
		mcp.WithString("respondent_id", mcp.Required(), mcp.Description("Identifier of the respondent")),
	), s.handleFetch)
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("respondent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.exchange(ctx, id, s.start)
}

func (s *Server) handleReply(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("respondent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.exchange(ctx, id, text)
}

func (s *Server) handleFetch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("respondent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return messagesResult(s.transport.Drain(id))
}

// exchange dispatches text and collects what the quiz sends back until it goes quiet.
func (s *Server) exchange(ctx context.Context, respondentID, text string) (*mcp.CallToolResult, error) {
	respondent := domain.Respondent{ID: respondentID, Messenger: domain.MessengerWeb}
	if err := respondent.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ch, cancel := s.transport.Streams().Subscribe(respondentID)
	defer cancel()

	msg := domain.Message{ID: s.transport.Next(respondentID), Text: text}
	if err := s.dispatcher.Dispatch(ctx, respondent, msg); err != nil {
		s.logger.Error("MCP dispatch failed", "respondent", respondent.Key(), "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("dispatch failed: %v", err)), nil
	}

	// The first message may take up to wait; later ones restart the shorter settle window.
	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return messagesResult(s.transport.Drain(respondentID))
		case _, ok := <-ch:
			if !ok {
				return messagesResult(s.transport.Drain(respondentID))
			}
			timer.Reset(s.settle)
		}
	}
}

func messagesResult(messages []httpAdapter.Envelope) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode messages: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
