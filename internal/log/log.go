// Package log is a small key/value front end over glog. Messages carry a
// fixed text and structured fields so the same line can be grepped on every
// device.
package log

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/golang/glog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var minLevel atomic.Value

func init() {
	minLevel.Store(LevelInfo)
}

// ParseLevel maps a configuration string onto a Level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelDebug, LevelInfo, LevelError:
		return l, nil
	}
	return "", fmt.Errorf("log: unknown level %q", s)
}

func SetLevel(l Level) {
	minLevel.Store(l)
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// err always comes first.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

// Flush writes any buffered lines. Call it before exiting.
func Flush() {
	glog.Flush()
}

func logWithLevel(level Level, msg string, kv ...any) {
	if !enabled(level) {
		return
	}
	line := msg + formatKVs(kv...)
	switch level {
	case LevelError:
		glog.ErrorDepth(2, line)
	case LevelDebug:
		glog.InfoDepth(2, "[DEBUG] "+line)
	default:
		glog.InfoDepth(2, line)
	}
}

// enabled honours both the configured level and glog's -v flag, so -v=1 turns
// debug output on without touching the config file.
func enabled(level Level) bool {
	switch minLevel.Load().(Level) {
	case LevelDebug:
		return true
	case LevelError:
		return level == LevelError
	default:
		return level != LevelDebug || bool(glog.V(1))
	}
}

func formatKVs(kv ...any) string {
	var sb strings.Builder
	// Pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(fmt.Sprint(kv[i+1]))
	}
	// A trailing key without a value is dropped.
	return sb.String()
}
