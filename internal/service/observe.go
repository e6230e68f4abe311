package service

import (
	"attribution/internal/types"
	"context"
	"log/slog"
)

// LogObserver reports store and classifier events through logger. Storage
// failures are warnings; bookkeeping events are debug output.
func LogObserver(logger *slog.Logger) types.Observer {
	return func(e types.Event) {
		level := slog.LevelDebug
		switch e.Kind {
		case types.EventReadFailed, types.EventDecodeFailed, types.EventEncodeFailed,
			types.EventWriteFailed, types.EventWriteDropped, types.EventStorageOffline:
			level = slog.LevelWarn
		case types.EventCleanup:
			level = slog.LevelInfo
		}

		attrs := []any{"kind", string(e.Kind)}
		if e.VisitorID != "" {
			attrs = append(attrs, "visitor_id", e.VisitorID)
		}
		if e.Key != "" {
			attrs = append(attrs, "key", e.Key)
		}
		if e.Kind == types.EventCleanup {
			attrs = append(attrs, "swept", e.Count)
		}
		if e.Err != nil {
			attrs = append(attrs, "error", e.Err)
		}
		logger.Log(context.Background(), level, "attribution event", attrs...)
	}
}
