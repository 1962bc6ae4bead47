package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopbridge/golang_services/internal/delivery_service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaker struct{ n int }

func (w *countingWaker) Trigger() { w.n++ }

func TestQueue_Enqueue(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("PersistsAndWakes", func(t *testing.T) {
		repo := newMemoryRepo()
		waker := &countingWaker{}
		q := NewQueue(repo, waker, logger)

		msg, err := q.Enqueue(context.Background(), domain.User("u-1"), domain.CustomDirectMessagePayload{Content: "hi", SentBy: "ops"})
		require.NoError(t, err)
		assert.NotZero(t, msg.ID)
		assert.Equal(t, domain.PriorityCustom, msg.Priority)
		assert.Equal(t, 1, waker.n)

		stored, err := q.Get(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, stored.Status)
	})

	t.Run("RejectsMismatchedDestination", func(t *testing.T) {
		repo := newMemoryRepo()
		waker := &countingWaker{}
		q := NewQueue(repo, waker, logger)

		_, err := q.Enqueue(context.Background(), domain.Channel("c"), domain.CustomDirectMessagePayload{Content: "hi"})
		assert.ErrorIs(t, err, domain.ErrInvalidMessage)
		assert.Zero(t, waker.n)
		assert.Empty(t, repo.msgs)
	})

	t.Run("DefaultOptionsApplyBeforeCallOptions", func(t *testing.T) {
		q := NewQueue(newMemoryRepo(), nil, logger, domain.WithMaxAttempts(5))

		msg, err := q.Enqueue(context.Background(), domain.User("u-1"), domain.CustomDirectMessagePayload{Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, 5, msg.MaxAttempts)

		msg, err = q.Enqueue(context.Background(), domain.User("u-1"), domain.CustomDirectMessagePayload{Content: "hi"}, domain.WithMaxAttempts(1))
		require.NoError(t, err)
		assert.Equal(t, 1, msg.MaxAttempts)
	})

	t.Run("NilWakerIsAllowed", func(t *testing.T) {
		q := NewQueue(newMemoryRepo(), nil, logger)
		_, err := q.Enqueue(context.Background(), domain.Channel("c"), domain.CustomChannelMessagePayload{Content: "hi"})
		assert.NoError(t, err)
	})
}

func TestQueue_Stats(t *testing.T) {
	repo := newMemoryRepo()
	q := NewQueue(repo, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, domain.Channel("c"), domain.CustomChannelMessagePayload{Content: "x"})
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkFailed(ctx, 1, "boom"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats[domain.StatusPending])
	assert.Equal(t, int64(1), stats[domain.StatusFailed])
	assert.Equal(t, int64(0), stats[domain.StatusSent])
}

func TestPurger_PurgeOnce(t *testing.T) {
	repo := newMemoryRepo()
	ctx := context.Background()
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-31 * 24 * time.Hour)

	add := func(created time.Time) int64 {
		msg, err := domain.NewQueuedMessage(domain.Channel("c"), domain.CustomChannelMessagePayload{Content: "x"}, created)
		require.NoError(t, err)
		id, err := repo.Enqueue(ctx, msg)
		require.NoError(t, err)
		return id
	}
	oldSent := add(old)
	oldFailed := add(old)
	oldPending := add(old)
	recentSent := add(now.Add(-time.Hour))
	require.NoError(t, repo.MarkSent(ctx, oldSent, old))
	require.NoError(t, repo.MarkFailed(ctx, oldFailed, "x"))
	require.NoError(t, repo.MarkSent(ctx, recentSent, now))

	p := NewPurger(repo, 30*24*time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return now }
	require.NoError(t, p.PurgeOnce(ctx))

	_, err := repo.GetByID(ctx, oldSent)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetByID(ctx, oldFailed)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pending, err := repo.GetByID(ctx, oldPending)
	require.NoError(t, err, "pending rows are never purged")
	assert.Equal(t, domain.StatusPending, pending.Status)
	_, err = repo.GetByID(ctx, recentSent)
	assert.NoError(t, err)
}
