package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/limpopo/pkg/adapters/redis"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewFromClient(client, opts...), mr
}

func TestRedisStore_Contract(t *testing.T) {
	ports.RunStorageContract(t, func(t *testing.T) ports.Storage {
		store, _ := newStore(t)
		return store
	})
}

func TestRedisStore_Prefix(t *testing.T) {
	store, mr := newStore(t, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	id, err := store.CreateDialog(ctx, domain.Respondent{ID: "5", Messenger: domain.MessengerTelegram, Username: "neo"})
	require.NoError(t, err)
	assert.Equal(t, domain.DialogID(1), id)

	assert.True(t, mr.Exists("custom:app:dialog:1"), "Expected dialog key with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:open:telegram:5"))
	assert.Equal(t, "neo", mr.HGet("custom:app:respondent:telegram:5", "username"))
}

func TestRedisStore_PauseHistory(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	id, err := store.CreateDialog(ctx, domain.Respondent{ID: "5", Messenger: domain.MessengerWeb})
	require.NoError(t, err)

	_, err = store.Pause(ctx, id)
	require.NoError(t, err)
	_, err = store.CancelPause(ctx, id)
	require.NoError(t, err)
	_, err = store.Pause(ctx, id)
	require.NoError(t, err)

	pauses, err := store.Pauses(ctx, id)
	require.NoError(t, err)
	require.Len(t, pauses, 2)
	assert.True(t, pauses[0].Active)
	assert.False(t, pauses[1].Active)
	assert.NotNil(t, pauses[1].FinishedAt)
}

func TestRedisStore_ClosedDialogStaysClosedAfterPause(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	r := domain.Respondent{ID: "5", Messenger: domain.MessengerWeb}

	id, err := store.CreateDialog(ctx, r)
	require.NoError(t, err)
	_, err = store.Pause(ctx, id)
	require.NoError(t, err)
	require.NoError(t, store.CloseDialog(ctx, id, domain.OutcomeCancelled))

	_, ok, err := store.LastDialogID(ctx, r.ID, r.Messenger, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_RetryableOnConnectionLoss(t *testing.T) {
	store, mr := newStore(t)
	mr.Close()

	_, err := store.CreateDialog(context.Background(), domain.Respondent{ID: "5", Messenger: domain.MessengerWeb})
	require.Error(t, err)
	assert.True(t, store.Retryable(err), "connection errors must be retried: %v", err)
}
