// Package logger holds the process-wide structured logger. Output is
// discarded until Init is called, so library code can log unconditionally.
package logger

import (
	"io"
	"log/slog"
	"os"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// L is the logger every heapkit package writes to.
var L = discard

// Options selects where and how records are written.
type Options struct {
	Enabled bool       // false restores the discarding logger
	JSON    bool       // JSON records instead of logfmt text
	Output  io.Writer  // Default: os.Stderr
	Level   slog.Level // Default: slog.LevelInfo
}

// Init replaces L. It is not safe to call while other goroutines log.
func Init(opts Options) {
	if !opts.Enabled {
		L = discard
		return
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		L = slog.New(slog.NewJSONHandler(out, ho))
	} else {
		L = slog.New(slog.NewTextHandler(out, ho))
	}
}

func Debug(msg string, args ...any) { L.Debug(msg, args...) }
func Info(msg string, args ...any)  { L.Info(msg, args...) }
func Warn(msg string, args ...any)  { L.Warn(msg, args...) }
func Error(msg string, args ...any) { L.Error(msg, args...) }
