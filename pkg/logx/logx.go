// Package logx provides the structured key-value logger used across the
// daemon. It is a thin wrapper around logrus that accepts alternating
// key/value arguments or a single map, and tags every line with the
// component that emitted it.
package logx

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a structured logger bound to one component.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger at the given level for a component. Unknown
// levels fall back to info.
func NewLogger(level, component string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	l.SetLevel(parseLevel(level))

	entry := logrus.NewEntry(l)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return &Logger{entry: entry}
}

// WithComponent returns a logger for a sub-component sharing the same
// backend and level.
func (lg *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: lg.entry.WithField("component", component)}
}

// SetLevel changes the log level at runtime.
func (lg *Logger) SetLevel(level string) {
	lg.entry.Logger.SetLevel(parseLevel(level))
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// fields converts alternating key/value arguments into logrus fields. A
// single map argument is accepted as-is. A trailing key without a value is
// kept under the key itself.
func fields(keysAndValues ...interface{}) logrus.Fields {
	f := logrus.Fields{}
	if len(keysAndValues) == 1 {
		if m, ok := keysAndValues[0].(map[string]interface{}); ok {
			for k, v := range m {
				f[k] = v
			}
			return f
		}
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		if i+1 < len(keysAndValues) {
			f[key] = keysAndValues[i+1]
		} else {
			f[key] = "(missing)"
		}
	}
	return f
}

func (lg *Logger) Trace(msg string, keysAndValues ...interface{}) {
	lg.entry.WithFields(fields(keysAndValues...)).Trace(msg)
}

func (lg *Logger) Debug(msg string, keysAndValues ...interface{}) {
	lg.entry.WithFields(fields(keysAndValues...)).Debug(msg)
}

func (lg *Logger) Info(msg string, keysAndValues ...interface{}) {
	lg.entry.WithFields(fields(keysAndValues...)).Info(msg)
}

func (lg *Logger) Warn(msg string, keysAndValues ...interface{}) {
	lg.entry.WithFields(fields(keysAndValues...)).Warn(msg)
}

func (lg *Logger) Error(msg string, keysAndValues ...interface{}) {
	lg.entry.WithFields(fields(keysAndValues...)).Error(msg)
}

// LogSwitch records a committed interface switch in a fixed shape so the
// audit tooling can grep for it.
func (lg *Logger) LogSwitch(from, to, reason string, score float64, extra map[string]interface{}) {
	f := logrus.Fields{
		"event":  "switch",
		"from":   from,
		"to":     to,
		"reason": reason,
		"score":  score,
	}
	for k, v := range extra {
		f[k] = v
	}
	lg.entry.WithFields(f).Info("Interface switch")
}

// LogEvent records a detected link event.
func (lg *Logger) LogEvent(kind, iface string, data map[string]interface{}) {
	f := logrus.Fields{
		"event":     kind,
		"interface": iface,
	}
	for k, v := range data {
		f[k] = v
	}
	lg.entry.WithFields(f).Info("Link event")
}
