// Package logger provides fatal-error helpers for process startup,
// based on [slog].
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

func Fatal(msg string, attrs ...slog.Attr) {
	fatalErrorCtx(context.Background(), msg, nil, attrs...)
}

func FatalError(msg string, err error, attrs ...slog.Attr) {
	fatalErrorCtx(context.Background(), msg, err, attrs...)
}

func fatalErrorCtx(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // Discard wrapper frames (Callers, fatalErrorCtx, Fatal*).

	r := slog.NewRecord(time.Now(), slog.LevelError, msg, pcs[0])
	if err != nil {
		r.AddAttrs(slog.Any("error", err))
	}
	r.AddAttrs(attrs...)

	_ = slog.Default().Handler().Handle(ctx, r)
	os.Exit(1)
}
