package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/hugoboss23-5/swarm/lock"
	"github.com/hugoboss23-5/swarm/task"
)

// Renewal returns middleware that keeps the task's lock lease alive
// while the handler runs. The lease is renewed every interval on the
// resource named by the task, under the fencing token the task holds.
// Renewal stops when the handler returns; the final release is the
// caller's responsibility.
//
// A renewal that fails with a stale token means the lease was lost to
// the sweep loop. The renewal loop stops on the first failure and logs
// it; the coordinator will reject the eventual report the same way.
//
// Tasks without a resource pass through untouched.
func Renewal(mgr *lock.Manager, logger *slog.Logger, interval time.Duration) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		if t.Resource.Key == "" {
			return next(ctx)
		}

		done := make(chan struct{})
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					lease := interval * 3
					if _, err := mgr.Renew(ctx, t.AssignedNode, t.Resource.Key, t.Token, lease); err != nil {
						logger.Warn("lease renewal failed",
							slog.String("task_id", t.ID.String()),
							slog.String("resource", t.Resource.Key),
							slog.Uint64("token", t.Token),
							slog.String("error", err.Error()),
						)
						return
					}
				}
			}
		}()

		err := next(ctx)
		close(done)
		<-stopped
		return err
	}
}
