package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/limpopo/pkg/adapters/memory"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/retry"
	"github.com/aretw0/limpopo/pkg/session"
	"github.com/stretchr/testify/require"
)

var (
	yesNo = domain.MustQuestion("Choose *yes* or no!", domain.KeyedChoices(
		domain.Choice{Key: "yes", Text: "Yes"},
		domain.Choice{Key: "no", Text: "No"},
	))
	age   = domain.MustQuestion("How old are you?", domain.AnyChoice())
	color = domain.MustQuestion("Favourite color?", domain.ChoiceList("Red", "Green", "Blue"), domain.WithColumnCount(3))
)

// recorder is a Transport that numbers outbound messages sequentially.
type recorder struct {
	mu   sync.Mutex
	last domain.MessageID
	sent []domain.Payload
}

func (r *recorder) Send(_ context.Context, _ string, p domain.Payload) (domain.MessageID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last++
	r.sent = append(r.sent, p)
	return r.last, nil
}

func (r *recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, p := range r.sent {
		out[i] = p.Text
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.Texts()) >= n }, 2*time.Second, 5*time.Millisecond,
		"expected at least %d outbound messages", n)
	return r.Texts()
}

type harness struct {
	store     *memory.Store
	transport *recorder
	svc       *session.Service
	answers   chan domain.Answer
	results   chan error
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func testSettings() session.Settings {
	s := session.DefaultSettings()
	s.AnswerTimeout = 2 * time.Second
	return s
}

func newHarness(t *testing.T, quiz func(h *harness) session.QuizFunc, opts ...session.Option) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		transport: &recorder{},
		answers:   make(chan domain.Answer, 16),
		results:   make(chan error, 16),
	}
	h.svc = h.service(t, quiz(h), opts...)
	return h
}

// service builds another service on the harness store and transport.
func (h *harness) service(t *testing.T, quiz session.QuizFunc, opts ...session.Option) *session.Service {
	t.Helper()
	all := append([]session.Option{
		session.WithSettings(testSettings()),
		session.WithRetryPolicy(fastPolicy()),
	}, opts...)
	svc, err := session.NewService(quiz, h.store, h.transport, all...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return svc
}

// askAll asks every question in order and reports each answer and the final result.
func askAll(questions ...domain.Question) func(h *harness) session.QuizFunc {
	return func(h *harness) session.QuizFunc {
		return func(ctx context.Context, d *session.Dialog) error {
			for _, q := range questions {
				a, err := d.Ask(ctx, q)
				if err != nil {
					h.results <- err
					return err
				}
				h.answers <- a
			}
			h.results <- nil
			return nil
		}
	}
}

func (h *harness) answer(t *testing.T) domain.Answer {
	t.Helper()
	select {
	case a := <-h.answers:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an answer")
		return domain.Answer{}
	}
}

func (h *harness) result(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.results:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the quiz to finish")
		return nil
	}
}

func waitDone(t *testing.T, d *session.Dialog) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("dialog did not finish")
	}
}

func respondent(id string) domain.Respondent {
	return domain.Respondent{ID: id, Messenger: domain.MessengerTelegram, Username: "user" + id}
}
