package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

type Field struct {
	Key   string
	Value interface{}
}

var (
	mu   sync.RWMutex
	base = newHandler(os.Stdout)
)

func newHandler(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.999999999Z07:00"))
			case slog.LevelKey:
				a.Value = slog.StringValue(levelName(a.Value.Any()))
			}
			return a
		},
	}))
}

func levelName(v any) string {
	lvl, ok := v.(slog.Level)
	if !ok {
		return "info"
	}
	switch {
	case lvl >= slog.LevelError:
		return "error"
	case lvl >= slog.LevelWarn:
		return "warn"
	case lvl >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// SetOutput redirects every subsequent log line to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newHandler(w)
}

func log(level slog.Level, msg string, fields []Field, err error) {
	mu.RLock()
	l := base
	mu.RUnlock()
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	l.LogAttrs(context.Background(), level, msg, attrs...)
}

func Info(msg string, fields ...Field) {
	log(slog.LevelInfo, msg, fields, nil)
}

func Warn(msg string, fields ...Field) {
	log(slog.LevelWarn, msg, fields, nil)
}

func Error(msg string, err error, fields ...Field) {
	log(slog.LevelError, msg, fields, err)
}

func Debug(msg string, fields ...Field) {
	if os.Getenv("DEBUG") == "1" {
		log(slog.LevelDebug, msg, fields, nil)
	}
}

func FieldKV(key string, value interface{}) Field { return Field{Key: key, Value: value} }
