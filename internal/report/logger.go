package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// teeHandler fans every record out to the console and the run log.
type teeHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t.console.Enabled(ctx, level) || t.file.Enabled(ctx, level)
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if t.console.Enabled(ctx, r.Level) {
		errs = append(errs, t.console.Handle(ctx, r))
	}
	if t.file.Enabled(ctx, r.Level) {
		errs = append(errs, t.file.Handle(ctx, r))
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{console: t.console.WithAttrs(attrs), file: t.file.WithAttrs(attrs)}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{console: t.console.WithGroup(name), file: t.file.WithGroup(name)}
}

// SetupLogger creates a logger that writes text to stdout and JSON to the
// run's log file. The caller owns closing the returned file.
func SetupLogger(rm *RunManager, logLevel slog.Level) (*slog.Logger, *os.File, error) {
	logFile, err := os.OpenFile(rm.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run log: %w", err)
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := &teeHandler{
		console: slog.NewTextHandler(os.Stdout, opts),
		file:    slog.NewJSONHandler(logFile, opts),
	}
	return slog.New(handler), logFile, nil
}
