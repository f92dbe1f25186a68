package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeSweeper) SweepExpiredGrants(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

type fakePurger struct {
	deleted int64
	err     error
}

func (f *fakePurger) PurgeExpiredSessions(context.Context, time.Time) (int64, error) {
	return f.deleted, f.err
}

func TestHandleAuthzSweepAppliesGrace(t *testing.T) {
	sweeper := &fakeSweeper{deleted: 3}
	handler := HandleAuthzSweep(sweeper, 24*time.Hour, slog.New(slog.DiscardHandler))

	before := time.Now().Add(-24 * time.Hour)
	require.NoError(t, handler(context.Background(), asynq.NewTask(TaskAuthzSweepExpired, nil)))
	after := time.Now().Add(-24 * time.Hour)

	// Cutoff sits one grace window in the past.
	assert.False(t, sweeper.cutoff.Before(before))
	assert.False(t, sweeper.cutoff.After(after))
}

func TestHandleAuthzSweepPropagatesError(t *testing.T) {
	boom := errors.New("db down")
	handler := HandleAuthzSweep(&fakeSweeper{err: boom}, time.Hour, slog.New(slog.DiscardHandler))

	err := handler(context.Background(), asynq.NewTask(TaskAuthzSweepExpired, nil))
	assert.ErrorIs(t, err, boom)
}

func TestHandleSessionPurge(t *testing.T) {
	handler := HandleSessionPurge(&fakePurger{deleted: 7}, slog.New(slog.DiscardHandler))
	require.NoError(t, handler(context.Background(), asynq.NewTask(TaskSessionPurge, nil)))

	boom := errors.New("db down")
	handler = HandleSessionPurge(&fakePurger{err: boom}, slog.New(slog.DiscardHandler))
	assert.ErrorIs(t, handler(context.Background(), asynq.NewTask(TaskSessionPurge, nil)), boom)
}
