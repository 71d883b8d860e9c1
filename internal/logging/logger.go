package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var sensitiveKeys = []string{"password", "token", "key", "secret", "phone", "email"}

// NewLogger builds a JSON logger tuned for production use.
// Attributes whose key looks sensitive are masked before they are written.
func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       levelFromString(level),
		AddSource:   true,
		ReplaceAttr: maskAttr,
	}
	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func maskAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString || !IsSensitive(a.Key) {
		return a
	}
	return slog.String(a.Key, Mask(a.Value.String()))
}

// IsSensitive reports whether a field name may hold credentials or contact
// details.
func IsSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Mask keeps the first and last two characters of values longer than four.
func Mask(v string) string {
	if len(v) > 4 {
		return v[:2] + "***" + v[len(v)-2:]
	}
	return "***"
}

// MaskFields returns a copy of fields with sensitive string values masked.
func MaskFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok && IsSensitive(k) {
			out[k] = Mask(s)
			continue
		}
		out[k] = v
	}
	return out
}
