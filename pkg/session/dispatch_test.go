package session_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_Foreword(t *testing.T) {
	ctx := context.Background()

	t.Run("reply without dialogue", func(t *testing.T) {
		h := newHarness(t, askAll(yesNo))
		require.NoError(t, h.svc.Dispatch(ctx, respondent("new"), domain.Message{ID: 1, Text: "hello"}))
		assert.Equal(t, []string{"To take the survey, please send /start"}, h.transport.Texts())
		assert.Zero(t, h.svc.Len())
	})

	t.Run("silent", func(t *testing.T) {
		settings := testSettings()
		settings.ReplyWithoutDialogue = false
		h := newHarness(t, askAll(yesNo), session.WithSettings(settings))
		require.NoError(t, h.svc.Dispatch(ctx, respondent("new"), domain.Message{ID: 1, Text: "hello"}))
		assert.Empty(t, h.transport.Texts())
	})
}

func TestDispatch_Commands(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, askAll(yesNo, age))
	msgs := testSettings().Messages
	r := respondent("commander")

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 1, Text: " /start "}))
	h.transport.waitFor(t, 1)
	first, ok := h.svc.Lookup(r.Key())
	require.True(t, ok)

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 10, Text: "/pause"}))
	texts := h.transport.waitFor(t, 2)
	assert.Equal(t, msgs.Paused, texts[1])
	assert.Zero(t, h.svc.Len())

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 11, Text: "/pause"}))
	texts = h.transport.waitFor(t, 3)
	assert.Equal(t, msgs.NoDialog, texts[2])

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 12, Text: "/resume"}))
	texts = h.transport.waitFor(t, 5)
	assert.Equal(t, msgs.PauseCancelled, texts[3])
	assert.Equal(t, yesNo.Topic, texts[4])

	resumed, ok := h.svc.Lookup(r.Key())
	require.True(t, ok)
	assert.Equal(t, first.ID(), resumed.ID())

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 20, Text: "Yes"}))
	texts = h.transport.waitFor(t, 6)
	assert.Equal(t, age.Topic, texts[5])

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 21, Text: "/cancel"}))
	texts = h.transport.waitFor(t, 7)
	assert.Equal(t, msgs.Cancelled, texts[6])
	waitDone(t, resumed)
	outcome, finished := h.store.Outcome(resumed.ID())
	assert.True(t, finished)
	assert.Equal(t, domain.OutcomeCancelled, outcome)

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 22, Text: "/cancel"}))
	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 23, Text: "/resume"}))
	texts = h.transport.waitFor(t, 9)
	assert.Equal(t, []string{msgs.NoDialog, msgs.NoDialog}, texts[7:9])
}

func TestDispatch_StartReplacesLiveDialog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, askAll(yesNo))
	r := respondent("again")

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 1, Text: "/start"}))
	first, ok := h.svc.Lookup(r.Key())
	require.True(t, ok)

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 2, Text: "/start"}))
	waitDone(t, first)
	second, ok := h.svc.Lookup(r.Key())
	require.True(t, ok)
	assert.NotEqual(t, first.ID(), second.ID())

	outcome, finished := h.store.Outcome(first.ID())
	assert.True(t, finished)
	assert.Equal(t, domain.OutcomeCancelled, outcome)
}

func TestDispatch_InvalidRespondent(t *testing.T) {
	h := newHarness(t, askAll(yesNo))
	err := h.svc.Dispatch(context.Background(), domain.Respondent{Messenger: domain.MessengerWeb}, domain.Message{Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrInvalidRespondent)
}

func TestDispatch_SanitizesInput(t *testing.T) {
	ctx := context.Background()
	settings := testSettings()
	settings.MaxInputSize = 16
	h := newHarness(t, askAll(age), session.WithSettings(settings))
	r := respondent("typist")

	_, err := h.svc.Start(ctx, r)
	require.NoError(t, err)
	h.transport.waitFor(t, 1)

	err = h.svc.Dispatch(ctx, r, domain.Message{ID: 1000, Text: strings.Repeat("9", 17)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 1001, Text: "4\x002\r\n"}))
	assert.Equal(t, "42\n", h.answer(t).Text)
}

func TestDispatch_FIFOPerRespondent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, askAll(age, color, yesNo))
	r := respondent("fast")

	_, err := h.svc.Start(ctx, r)
	require.NoError(t, err)

	// All replies arrive before the second question is sent.
	for i, text := range []string{"42", "Blue", "Yes"} {
		require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: domain.MessageID(1000 + i), Text: text}))
	}

	assert.Equal(t, "42", h.answer(t).Text)
	assert.Equal(t, "Blue", h.answer(t).Text)
	assert.Equal(t, "Yes", h.answer(t).Text)
	require.NoError(t, h.result(t))
	assert.Equal(t, []string{age.Topic, color.Topic, yesNo.Topic}, h.transport.Texts())
}

func TestDispatch_FullInboxIsolatesRespondents(t *testing.T) {
	ctx := context.Background()
	settings := testSettings()
	settings.InboxSize = 1
	release := make(chan struct{})

	h := newHarness(t, func(h *harness) session.QuizFunc {
		return func(ctx context.Context, d *session.Dialog) error {
			if d.Respondent().ID == "busy" {
				select {
				case <-release:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			a, err := d.Ask(ctx, age)
			if err != nil {
				return err
			}
			h.answers <- a
			return nil
		}
	}, session.WithSettings(settings))

	busy, free := respondent("busy"), respondent("free")
	_, err := h.svc.Start(ctx, busy)
	require.NoError(t, err)
	require.NoError(t, h.svc.Dispatch(ctx, busy, domain.Message{ID: 1000, Text: "first"}))

	blocked := make(chan error, 1)
	go func() {
		blocked <- h.svc.Dispatch(ctx, busy, domain.Message{ID: 1001, Text: "second"})
	}()
	select {
	case err := <-blocked:
		t.Fatalf("Dispatch to a full inbox returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = h.svc.Start(ctx, free)
	require.NoError(t, err)
	require.NoError(t, h.svc.Dispatch(ctx, free, domain.Message{ID: 1002, Text: "30"}))
	assert.Equal(t, "30", h.answer(t).Text)

	close(release)
	assert.Equal(t, "first", h.answer(t).Text)
	select {
	case err := <-blocked:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch stayed blocked after the inbox drained")
	}
}
