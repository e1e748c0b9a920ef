// Package http exposes the dialog engine to web clients: respondents post their
// replies and fetch the engine's messages by polling or over server-sent events.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/limpopo"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatcher routes inbound messages to dialogs. *session.Service implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, respondent domain.Respondent, msg domain.Message) error
}

// Server serves the web transport.
type Server struct {
	Dispatcher Dispatcher
	Transport  *Transport

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics mounts /metrics for the given gatherer.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// WithLogger configures a logger for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// InboundMessage is the body of POST /respondents/{id}/messages.
type InboundMessage struct {
	Text      string         `json:"text"`
	Username  string         `json:"username,omitempty"`
	FirstName string         `json:"first_name,omitempty"`
	LastName  string         `json:"last_name,omitempty"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
}

// NewHandler creates the HTTP handler of the web transport.
func NewHandler(dispatcher Dispatcher, transport *Transport, opts ...Option) http.Handler {
	server := &Server{
		Dispatcher: dispatcher,
		Transport:  transport,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(Spec())
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})
	if server.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{}))
	}

	// Routes described by openapi.yaml.
	r.Group(func(r chi.Router) {
		if doc, err := loadSpec(context.Background()); err != nil {
			server.logger.Error("OpenAPI validation disabled", "err", err)
		} else if validate, err := validateRequests(doc, server.logger); err != nil {
			server.logger.Error("OpenAPI validation disabled", "err", err)
		} else {
			r.Use(validate)
		}

		r.Get("/health", server.GetHealth)
		r.Get("/info", server.GetInfo)
		r.Route("/respondents/{id}", func(r chi.Router) {
			r.Post("/messages", server.PostMessage)
			r.Get("/messages", server.GetMessages)
			r.Get("/events", server.SubscribeEvents)
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PostMessage handles the POST /respondents/{id}/messages request.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	respondent := domain.Respondent{
		ID:        id,
		Messenger: domain.MessengerWeb,
		Username:  body.Username,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		ExtraData: body.ExtraData,
	}
	if err := respondent.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg := domain.Message{ID: s.Transport.Next(id), Text: body.Text}
	if err := s.Dispatcher.Dispatch(r.Context(), respondent, msg); err != nil {
		status := statusOf(err)
		http.Error(w, fmt.Sprintf("Dispatch error: %v", err), status)
		if status == http.StatusInternalServerError {
			s.logger.Error("Dispatch failed", "respondent", respondent.Key(), "err", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]domain.MessageID{"id": msg.ID}); err != nil {
		s.logger.Error("PostMessage response encode failed", "err", err)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRespondent), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrStopped), errors.Is(err, domain.ErrDialogStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// GetMessages handles the GET /respondents/{id}/messages request. Fetched messages are
// removed from the outbox.
func (s *Server) GetMessages(w http.ResponseWriter, r *http.Request) {
	messages := s.Transport.Drain(chi.URLParam(r, "id"))
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(messages); err != nil {
		s.logger.Error("GetMessages response encode failed", "err", err)
	}
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"app":     "limpopo-http",
		"version": strings.TrimSpace(limpopo.Version),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SubscribeEvents handles the GET /respondents/{id}/events request (SSE).
// Messages delivered to the stream stay in the outbox until fetched.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: streaming not supported")
		return
	}

	id := chi.URLParam(r, "id")
	ch, cancel := s.Transport.Streams().Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "respondent", id)
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				s.logger.Error("SSE: encode failed", "err", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", env.ID, data)
			flusher.Flush()
		}
	}
}
