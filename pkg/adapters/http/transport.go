package http

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/limpopo/pkg/domain"
)

// DefaultOutboxSize bounds the undelivered messages kept per respondent.
const DefaultOutboxSize = 100

// Envelope is an outbound message waiting to be fetched by the web client.
type Envelope struct {
	ID      domain.MessageID  `json:"id"`
	Text    string            `json:"text"`
	Buttons [][]domain.Button `json:"buttons,omitempty"`
	Inline  bool              `json:"inline,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

// Transport queues outbound payloads per respondent and numbers every message of a chat,
// inbound and outbound, from one counter so that message IDs order the conversation.
type Transport struct {
	mu      sync.Mutex
	seq     map[string]domain.MessageID
	outbox  map[string][]Envelope
	size    int
	streams *StreamManager
	logger  *slog.Logger
}

// NewTransport creates an in-process web transport. A non-positive size selects DefaultOutboxSize.
func NewTransport(size int, logger *slog.Logger) *Transport {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		seq:     make(map[string]domain.MessageID),
		outbox:  make(map[string][]Envelope),
		size:    size,
		streams: NewStreamManager(logger),
		logger:  logger,
	}
}

// Send implements ports.Transport.
func (t *Transport) Send(ctx context.Context, respondentID string, payload domain.Payload) (domain.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	env := Envelope{
		ID:      t.nextLocked(respondentID),
		Text:    payload.Text,
		Buttons: payload.Buttons,
		Inline:  payload.Inline,
		SentAt:  time.Now().UTC(),
	}
	queue := append(t.outbox[respondentID], env)
	if len(queue) > t.size {
		t.logger.Warn("HTTP: outbox full, dropping oldest message", "respondent", respondentID, "id", queue[0].ID)
		queue = queue[len(queue)-t.size:]
	}
	t.outbox[respondentID] = queue
	t.mu.Unlock()

	t.streams.Broadcast(respondentID, env)
	return env.ID, nil
}

// Next reserves the ID of an inbound message.
func (t *Transport) Next(respondentID string) domain.MessageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextLocked(respondentID)
}

func (t *Transport) nextLocked(respondentID string) domain.MessageID {
	t.seq[respondentID]++
	return t.seq[respondentID]
}

// Drain returns and forgets the queued messages of a respondent, oldest first.
func (t *Transport) Drain(respondentID string) []Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	queue := t.outbox[respondentID]
	delete(t.outbox, respondentID)
	if queue == nil {
		return []Envelope{}
	}
	return queue
}

// Streams exposes the live subscriptions fed by Send.
func (t *Transport) Streams() *StreamManager {
	return t.streams
}

// StreamManager fans outbound messages out to active SSE connections.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- Envelope]struct{} // respondent ID -> set of channels
	logger      *slog.Logger
}

// NewStreamManager creates an empty subscription set.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- Envelope]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a channel for the respondent's outbound messages.
// The returned function unsubscribes and closes the channel.
func (sm *StreamManager) Subscribe(respondentID string) (<-chan Envelope, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Envelope, 10)
	if _, ok := sm.subscribers[respondentID]; !ok {
		sm.subscribers[respondentID] = make(map[chan<- Envelope]struct{})
	}
	sm.subscribers[respondentID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[respondentID]; ok {
			if _, found := subs[ch]; !found {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, respondentID)
			}
		}
	}
}

// Broadcast delivers env to every subscriber of the respondent without blocking.
func (sm *StreamManager) Broadcast(respondentID string, env Envelope) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[respondentID] {
		select {
		case ch <- env:
		default:
			// Slow client.
			sm.logger.Warn("SSE: client buffer full, dropping message", "respondent", respondentID, "id", env.ID)
		}
	}
}

// Subscribers returns the number of live subscriptions of a respondent.
func (sm *StreamManager) Subscribers(respondentID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[respondentID])
}
