package service

import (
	"context"
	"log/slog"
)

// BestEffort runs a side effect whose failure must never propagate: the
// outcome is logged and swallowed. Used for lastRunAt persistence, stale
// asset cleanup, and cache invalidation.
func BestEffort(ctx context.Context, logger *slog.Logger, op string, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "best-effort operation failed",
			"op", op,
			"error", err,
		)
	}
}
