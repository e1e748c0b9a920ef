package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/ports"
	"github.com/aretw0/limpopo/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialog_YesNoScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, askAll(yesNo))

	// Dialog ids are assigned by storage; occupy 1..41.
	for range 41 {
		_, err := h.store.CreateDialog(ctx, respondent("someone-else"))
		require.NoError(t, err)
	}
	h.transport.last = 99

	r := respondent("scenario")
	d, err := h.svc.Start(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, domain.DialogID(42), d.ID())

	h.transport.waitFor(t, 1)
	require.Eventually(t, func() bool { return d.State() == domain.StateAwaitingAnswer }, time.Second, time.Millisecond)
	assert.Equal(t, domain.MessageID(100), d.LastQuestionID())

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 101, Text: "Maybe"}))
	texts := h.transport.waitFor(t, 2)
	assert.Equal(t, testSettings().Messages.WrongAnswer, texts[1])
	assert.Equal(t, domain.MessageID(100), d.LastQuestionID(), "re-prompts keep the watermark")

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 102, Text: "Yes"}))
	assert.Equal(t, domain.Answer{Text: "Yes"}, h.answer(t))
	require.NoError(t, h.result(t))

	steps, err := h.store.DialogSteps(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []domain.Step{{Question: "Choose yes or no!", Answer: "Yes"}}, steps)

	waitDone(t, d)
	outcome, finished := h.store.Outcome(42)
	assert.True(t, finished)
	assert.Equal(t, domain.OutcomeCompleted, outcome)
	assert.Zero(t, h.svc.Len())
}

func TestDialog_StaleMessageDiscarded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, askAll(yesNo))
	h.transport.last = 99

	r := respondent("stale")
	d, err := h.svc.Start(ctx, r)
	require.NoError(t, err)
	h.transport.waitFor(t, 1)
	require.Eventually(t, func() bool { return d.LastQuestionID() == 100 }, time.Second, time.Millisecond)

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 99, Text: "Yes"}))
	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 103, Text: "No"}))

	assert.Equal(t, domain.Answer{Text: "No"}, h.answer(t))
	assert.Equal(t, domain.MessageID(100), d.LastQuestionID())
	assert.Equal(t, []string{yesNo.Topic}, h.transport.Texts(), "stale replies produce no visible output")
}

func TestDialog_StrictAnswersStayInOptions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, askAll(color, age))
	r := respondent("strict")

	_, err := h.svc.Start(ctx, r)
	require.NoError(t, err)
	h.transport.waitFor(t, 1)

	inputs := []string{"red", "", "Purple", "Red ", "Green"}
	for i, text := range inputs {
		require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: domain.MessageID(1000 + i), Text: text}))
	}

	a := h.answer(t)
	assert.Equal(t, "Green", a.Text)
	assert.Contains(t, color.Options(), a.Text)

	texts := h.transport.waitFor(t, 6)
	for _, text := range texts[1:5] {
		assert.Equal(t, testSettings().Messages.WrongAnswer, text)
	}
	assert.Equal(t, age.Topic, texts[5])

	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 2000, Text: "anything goes"}))
	assert.Equal(t, "anything goes", h.answer(t).Text)
	require.NoError(t, h.result(t))
}

func TestDialog_NonStrictAcceptsFreeText(t *testing.T) {
	ctx := context.Background()
	loose := domain.MustQuestion("Pick or type", domain.ChoiceList("A", "B"), domain.WithStrictChoose(false))
	h := newHarness(t, askAll(loose))
	r := respondent("loose")

	_, err := h.svc.Start(ctx, r)
	require.NoError(t, err)
	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 1000, Text: "C"}))
	assert.Equal(t, "C", h.answer(t).Text)
}

func TestDialog_Timeout(t *testing.T) {
	ctx := context.Background()
	settings := testSettings()
	settings.AnswerTimeout = 100 * time.Millisecond
	h := newHarness(t, askAll(yesNo), session.WithSettings(settings))
	r := respondent("silent")

	begin := time.Now()
	d, err := h.svc.Start(ctx, r)
	require.NoError(t, err)

	err = h.result(t)
	elapsed := time.Since(begin)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, settings.AnswerTimeout)
	assert.Less(t, elapsed, settings.AnswerTimeout+time.Second)

	waitDone(t, d)
	assert.Zero(t, h.svc.Len())
	_, finished := h.store.Outcome(d.ID())
	assert.False(t, finished, "a timeout is not a terminal outcome")

	last, ok, err := h.store.LastDialogID(ctx, r.ID, r.Messenger, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, d.ID(), last, "timed out dialogs stay restorable")
}

func TestDialog_TimeoutCoversReprompts(t *testing.T) {
	ctx := context.Background()
	settings := testSettings()
	settings.AnswerTimeout = 300 * time.Millisecond
	h := newHarness(t, askAll(yesNo), session.WithSettings(settings))
	r := respondent("indecisive")

	begin := time.Now()
	_, err := h.svc.Start(ctx, r)
	require.NoError(t, err)
	h.transport.waitFor(t, 1)

	for i := range 2 {
		time.Sleep(100 * time.Millisecond)
		require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: domain.MessageID(1000 + i), Text: "Maybe"}))
	}

	assert.ErrorIs(t, h.result(t), domain.ErrTimeout)
	assert.Less(t, time.Since(begin), 450*time.Millisecond, "wrong answers must not extend the window")
	assert.Len(t, h.transport.Texts(), 3)
}

func TestDialog_StorageRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, askAll(yesNo))
	r := respondent("flaky")

	h.store.FailNext(ports.OpSaveQuestionAndAnswer, 2)
	d, err := h.svc.Start(ctx, r)
	require.NoError(t, err)
	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 1000, Text: "No"}))

	assert.Equal(t, "No", h.answer(t).Text)
	require.NoError(t, h.result(t))
	assert.Equal(t, 3, h.store.Calls(ports.OpSaveQuestionAndAnswer))

	steps, err := h.store.DialogSteps(ctx, d.ID())
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}

func TestDialog_StorageExhaustedStopsDialog(t *testing.T) {
	ctx := context.Background()
	var escalated atomic.Value
	h := newHarness(t, askAll(yesNo, age), session.WithEscalation(func(_ context.Context, op string, err error) {
		escalated.Store(op)
	}))
	r := respondent("doomed")

	h.store.FailNext(ports.OpSaveQuestionAndAnswer, 3)
	d, err := h.svc.Start(ctx, r)
	require.NoError(t, err)
	require.NoError(t, h.svc.Dispatch(ctx, r, domain.Message{ID: 1000, Text: "Yes"}))

	err = h.result(t)
	assert.ErrorIs(t, err, domain.ErrDialogStopped)
	waitDone(t, d)

	assert.Zero(t, h.svc.Len())
	assert.Equal(t, domain.StateClosed, d.State())
	assert.Equal(t, ports.OpSaveQuestionAndAnswer, escalated.Load())
	assert.Equal(t, []string{yesNo.Topic}, h.transport.Texts(), "nothing else is sent to the respondent")

	_, finished := h.store.Outcome(d.ID())
	assert.False(t, finished)
	assert.ErrorIs(t, d.HandleMessage(ctx, domain.Message{ID: 1001, Text: "Yes"}), domain.ErrDialogClosed)
}

func TestDialog_CallOnceWithinDialog(t *testing.T) {
	ctx := context.Background()
	var runs atomic.Int32
	effect := func(context.Context) error {
		runs.Add(1)
		return nil
	}

	h := newHarness(t, func(h *harness) session.QuizFunc {
		return func(ctx context.Context, d *session.Dialog) error {
			var ran []bool
			for _, arg := range []string{"welcome", "welcome", "goodbye"} {
				ok, err := d.CallOnce(ctx, effect, arg)
				if err != nil {
					return err
				}
				ran = append(ran, ok)
			}
			h.answers <- domain.Answer{Text: boolText(ran...)}
			return nil
		}
	})

	_, err := h.svc.Start(ctx, respondent("once"))
	require.NoError(t, err)
	assert.Equal(t, "true,false,true", h.answer(t).Text)
	assert.EqualValues(t, 2, runs.Load())
}

func TestDialog_CallOnceSurvivesRestore(t *testing.T) {
	ctx := context.Background()
	var runs atomic.Int32
	notify := func(context.Context) error {
		runs.Add(1)
		return nil
	}
	quiz := func(h *harness) session.QuizFunc {
		return func(ctx context.Context, d *session.Dialog) error {
			if _, err := d.CallOnceKey(ctx, "notify", notify); err != nil {
				return err
			}
			a, err := d.Ask(ctx, age)
			if err != nil {
				return err
			}
			h.answers <- a
			return nil
		}
	}

	h := newHarness(t, quiz)
	r := respondent("crash")
	_, err := h.svc.Start(ctx, r)
	require.NoError(t, err)
	h.transport.waitFor(t, 1)
	assert.EqualValues(t, 1, runs.Load())

	// Crash: the process goes away without finishing the dialog.
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.svc.Stop(stopCtx))

	restarted := h.service(t, quiz(h))
	d, err := restarted.RestoreDialog(ctx, r)
	require.NoError(t, err)
	assert.True(t, d.Restored())

	require.NoError(t, restarted.Dispatch(ctx, r, domain.Message{ID: 1000, Text: "33"}))
	assert.Equal(t, "33", h.answer(t).Text)
	waitDone(t, d)
	assert.EqualValues(t, 1, runs.Load(), "the side effect runs exactly once")
}

func TestDialog_CallOnceRecordsBeforeRunning(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	var runs atomic.Int32

	h := newHarness(t, func(h *harness) session.QuizFunc {
		return func(ctx context.Context, d *session.Dialog) error {
			ran, err := d.CallOnceKey(ctx, "charge", func(context.Context) error {
				runs.Add(1)
				return boom
			}, 10)
			h.answers <- domain.Answer{Text: boolText(ran)}
			h.results <- err
			return nil
		}
	})

	d, err := h.svc.Start(ctx, respondent("charge"))
	require.NoError(t, err)
	assert.Equal(t, "true", h.answer(t).Text)
	assert.ErrorIs(t, h.result(t), boom)
	assert.EqualValues(t, 1, runs.Load())

	keys, err := h.store.CalledFunctions(ctx, d.ID())
	require.NoError(t, err)
	assert.Len(t, keys, 1, "a failing call stays recorded")
}

func TestDialog_BackpressureWhenInboxFull(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(*harness) session.QuizFunc {
		return func(ctx context.Context, _ *session.Dialog) error {
			<-ctx.Done()
			return ctx.Err()
		}
	})

	d, err := h.svc.Start(ctx, respondent("busy"))
	require.NoError(t, err)

	for i := range testSettings().InboxSize {
		require.NoError(t, d.HandleMessage(ctx, domain.Message{ID: domain.MessageID(i), Text: "x"}))
	}

	full, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.HandleMessage(full, domain.Message{ID: 99, Text: "x"}), context.DeadlineExceeded)
}

func TestDialog_TellAndAccessors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(h *harness) session.QuizFunc {
		return func(ctx context.Context, d *session.Dialog) error {
			if _, err := d.Tell(ctx, domain.Payload{Text: "Hello", Buttons: [][]domain.Button{{{Text: "Hi"}}}}); err != nil {
				return err
			}
			if err := d.TellText(ctx, "Bye"); err != nil {
				return err
			}
			h.answers <- domain.Answer{Text: d.Respondent().Username}
			h.results <- nil
			return nil
		}
	})

	d, err := h.svc.Start(ctx, respondent("7"))
	require.NoError(t, err)
	assert.False(t, d.Restored())
	assert.Equal(t, "user7", h.answer(t).Text)
	require.NoError(t, h.result(t))
	assert.Equal(t, []string{"Hello", "Bye"}, h.transport.Texts())
	assert.Equal(t, domain.MessageID(0), d.LastQuestionID(), "Tell does not move the watermark")
}

func TestCallKeyOf(t *testing.T) {
	fn := func(context.Context) error { return nil }
	other := func(context.Context) error { return nil }

	assert.Equal(t, session.CallKeyOf(fn, "a", 1), session.CallKeyOf(fn, "a", 1))
	assert.NotEqual(t, session.CallKeyOf(fn, "a", 1), session.CallKeyOf(fn, "a", 2))
	assert.NotEqual(t, session.CallKeyOf(fn, "a"), session.CallKeyOf(other, "a"))
	assert.NotEqual(t, session.CallKeyOf(fn, "ab"), session.CallKeyOf(fn, "a", "b"))
}

func boolText(values ...bool) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		if v {
			out += "true"
		} else {
			out += "false"
		}
	}
	return out
}
