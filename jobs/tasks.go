package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthzSweepExpired deletes long-expired permission grants.
	TaskAuthzSweepExpired = "authz:sweep_expired"
	// TaskSessionPurge deletes expired session audit rows.
	TaskSessionPurge = "session:purge"
)

// NewAuthzSweepTask constructs the grant sweep task.
func NewAuthzSweepTask() *asynq.Task {
	return asynq.NewTask(TaskAuthzSweepExpired, nil)
}

// NewSessionPurgeTask constructs the session purge task.
func NewSessionPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPurge, nil)
}

// GrantSweeper deletes grant rows whose expiry passed before the cutoff.
// Denials are never swept; they keep denying past expiry.
type GrantSweeper interface {
	SweepExpiredGrants(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionPurger deletes session records past their expiry.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// HandleAuthzSweep returns the handler for TaskAuthzSweepExpired. The grace
// window keeps freshly expired grants visible in admin listings; resolution
// already ignores them, so sweeping late never widens access.
func HandleAuthzSweep(sweeper GrantSweeper, grace time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		cutoff := time.Now().Add(-grace)
		deleted, err := sweeper.SweepExpiredGrants(ctx, cutoff)
		if err != nil {
			logger.Error("authz sweep", slog.Any("error", err))
			return err
		}
		logger.Info("authz sweep completed",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff))
		return nil
	}
}

// HandleSessionPurge returns the handler for TaskSessionPurge.
func HandleSessionPurge(purger SessionPurger, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		deleted, err := purger.PurgeExpiredSessions(ctx, time.Now())
		if err != nil {
			logger.Error("session purge", slog.Any("error", err))
			return err
		}
		logger.Info("session purge completed", slog.Int64("deleted", deleted))
		return nil
	}
}
