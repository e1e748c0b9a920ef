package ports

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStorageContract runs a suite of tests to verify that a Storage implementation
// adheres to the defined interface contract. newStorage must return an empty store.
func RunStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000")
	respondent := func(id string) domain.Respondent {
		return domain.Respondent{
			ID:        id + "-" + suffix,
			Messenger: domain.MessengerTelegram,
			Username:  "user_" + id,
			FirstName: "First",
			ExtraData: map[string]any{"source": "contract"},
		}
	}

	t.Run("Create and find last dialog", func(t *testing.T) {
		store := newStorage(t)
		r := respondent("create")

		first, err := store.CreateDialog(ctx, r)
		require.NoError(t, err, "CreateDialog should not return error")
		second, err := store.CreateDialog(ctx, r)
		require.NoError(t, err)
		assert.NotZero(t, first)
		assert.NotEqual(t, first, second)

		last, ok, err := store.LastDialogID(ctx, r.ID, r.Messenger, false)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, second, last, "the most recent open dialog wins")
	})

	t.Run("No dialog", func(t *testing.T) {
		store := newStorage(t)
		_, ok, err := store.LastDialogID(ctx, "nobody-"+suffix, domain.MessengerTelegram, false)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Messenger isolation", func(t *testing.T) {
		store := newStorage(t)
		r := respondent("isolated")
		_, err := store.CreateDialog(ctx, r)
		require.NoError(t, err)

		_, ok, err := store.LastDialogID(ctx, r.ID, domain.MessengerViber, false)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Steps keep order", func(t *testing.T) {
		store := newStorage(t)
		id, err := store.CreateDialog(ctx, respondent("steps"))
		require.NoError(t, err)

		want := []domain.Step{
			{Question: "Choose yes or no!", Answer: "Yes"},
			{Question: "How old are you?", Answer: "42"},
			{Question: "Anything else?", Answer: "No"},
		}
		for _, step := range want {
			require.NoError(t, store.SaveQuestionAndAnswer(ctx, id, step))
		}

		got, err := store.DialogSteps(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("Called functions", func(t *testing.T) {
		store := newStorage(t)
		id, err := store.CreateDialog(ctx, respondent("calls"))
		require.NoError(t, err)

		keys := []domain.CallKey{1, 42, domain.CallKey(math.MaxUint64 - 7)}
		for _, k := range keys {
			require.NoError(t, store.SaveFunctionCall(ctx, id, k))
		}
		require.NoError(t, store.SaveFunctionCall(ctx, id, 42), "recording a key twice is not an error")

		got, err := store.CalledFunctions(ctx, id)
		require.NoError(t, err)
		assert.ElementsMatch(t, keys, got)
	})

	t.Run("Close dialog", func(t *testing.T) {
		for _, tc := range []struct {
			outcome   domain.Outcome
			stillOpen bool
		}{
			{domain.OutcomeCompleted, false},
			{domain.OutcomeCancelled, false},
			{domain.OutcomeInterrupted, true},
		} {
			t.Run(tc.outcome.String(), func(t *testing.T) {
				store := newStorage(t)
				r := respondent("close-" + tc.outcome.String())
				id, err := store.CreateDialog(ctx, r)
				require.NoError(t, err)

				require.NoError(t, store.CloseDialog(ctx, id, tc.outcome))

				last, ok, err := store.LastDialogID(ctx, r.ID, r.Messenger, false)
				require.NoError(t, err)
				assert.Equal(t, tc.stillOpen, ok)
				if tc.stillOpen {
					assert.Equal(t, id, last)
				}
			})
		}
	})

	t.Run("Pause lifecycle", func(t *testing.T) {
		store := newStorage(t)
		r := respondent("pause")
		id, err := store.CreateDialog(ctx, r)
		require.NoError(t, err)

		paused, err := store.Pause(ctx, id)
		require.NoError(t, err)
		assert.True(t, paused)

		paused, err = store.Pause(ctx, id)
		require.NoError(t, err)
		assert.False(t, paused, "only one active pause per dialog")

		_, ok, err := store.LastDialogID(ctx, r.ID, r.Messenger, false)
		require.NoError(t, err)
		assert.False(t, ok, "paused dialogs are not restorable")

		last, ok, err := store.LastDialogID(ctx, r.ID, r.Messenger, true)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, id, last)

		cancelled, err := store.CancelPause(ctx, id)
		require.NoError(t, err)
		assert.True(t, cancelled)

		cancelled, err = store.CancelPause(ctx, id)
		require.NoError(t, err)
		assert.False(t, cancelled)

		last, ok, err = store.LastDialogID(ctx, r.ID, r.Messenger, false)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, id, last)

		paused, err = store.Pause(ctx, id)
		require.NoError(t, err)
		assert.True(t, paused, "a dialog can be paused again after resume")
	})

	t.Run("Retryable", func(t *testing.T) {
		store := newStorage(t)
		assert.True(t, store.Retryable(fmt.Errorf("write: %w", domain.ErrStorageUnavailable)))
		assert.False(t, store.Retryable(nil))
		assert.False(t, store.Retryable(domain.ErrDialogNotFound))
	})
}
