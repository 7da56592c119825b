// Package hermeslog implements a minimalistic logging wrapper used by the
// three Hermes services (router, dispatcher, cleaner).
package hermeslog

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a small value type that writes formatted, named log lines.
//
// Logger is stateless and can be copied freely; the underlying zap core is
// shared across copies. Each message carries the logger Name as a
// "component" field.
type Logger struct {
	core  *zap.Logger
	Name  string
	Debug bool

	// Fields are included with every message emitted through this Logger,
	// in addition to any fields passed to a specific call.
	Fields map[string]interface{}
}

var (
	baseOnce sync.Once
	base     *zap.Logger
)

// baseCore builds the process-wide zap core once. Development mode (colorized
// console encoding) is used unless HERMES_LOG_JSON is set, defaulting to a
// human-readable console during local runs and switching to structured
// output under a deployment flag.
func baseCore() *zap.Logger {
	baseOnce.Do(func() {
		var cfg zap.Config
		if os.Getenv("HERMES_LOG_JSON") != "" {
			cfg = zap.NewProductionConfig()
		} else {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// New returns a Logger for the given subsystem name.
func New(name string, debug bool) Logger {
	return Logger{core: baseCore(), Name: name, Debug: debug}
}

func (l Logger) zapFields(extra map[string]interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(l.Fields)+len(extra)+1)
	if l.Name != "" {
		fields = append(fields, zap.String("component", l.Name))
	}
	for k, v := range l.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	for k, v := range extra {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

func (l Logger) sugar() *zap.Logger {
	if l.core == nil {
		return baseCore()
	}
	return l.core
}

// Debugf writes a message only if Debug is enabled for this Logger.
func (l Logger) Debugf(format string, val ...interface{}) {
	if !l.Debug {
		return
	}
	l.sugar().Debug(fmt.Sprintf(format, val...), l.zapFields(nil)...)
}

// Debugln is the Sprintln-flavored counterpart of Debugf.
func (l Logger) Debugln(val ...interface{}) {
	if !l.Debug {
		return
	}
	l.sugar().Debug(strings.TrimRight(fmt.Sprintln(val...), "\n"), l.zapFields(nil)...)
}

// Printf writes an info-level message.
func (l Logger) Printf(format string, val ...interface{}) {
	l.sugar().Info(fmt.Sprintf(format, val...), l.zapFields(nil)...)
}

// Println is the Sprintln-flavored counterpart of Printf.
func (l Logger) Println(val ...interface{}) {
	l.sugar().Info(strings.TrimRight(fmt.Sprintln(val...), "\n"), l.zapFields(nil)...)
}

// Warnf writes a warning-level message.
func (l Logger) Warnf(format string, val ...interface{}) {
	l.sugar().Warn(fmt.Sprintf(format, val...), l.zapFields(nil)...)
}

// Error writes an error-level message together with the error value. A nil
// err is a no-op.
func (l Logger) Error(msg string, err error, fields map[string]interface{}) {
	if err == nil {
		return
	}
	allFields := l.zapFields(fields)
	allFields = append(allFields, zap.Error(err))
	l.sugar().Error(msg, allFields...)
}

// With returns a copy of the Logger carrying additional fields merged with
// any it already has.
func (l Logger) With(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.Fields)+len(fields))
	for k, v := range l.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.Fields = merged
	return l
}

// Sync flushes any buffered log entries. Errors from Sync are expected and
// ignored when the underlying fd doesn't support syncing (e.g. stdout in a
// test harness).
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}
