package store

import (
	"context"
	"log/slog"
	"time"
)

const ttlSweepInterval = 5 * time.Minute

// StartTTLWorker runs a background goroutine that periodically deletes
// sessions idle longer than the TTL. It stops when the context is canceled.
func StartTTLWorker(ctx context.Context, s Store, ttl time.Duration) {
	ticker := time.NewTicker(ttlSweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("session TTL worker started", "interval", ttlSweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				deleted, err := s.DeleteIdle(ctx, ttl)
				if err != nil {
					slog.Error("TTL worker failed to delete idle sessions", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("TTL worker deleted idle sessions", "count", deleted)
				}
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
