// Package logger provides component-scoped structured logging backed by zap.
//
// Call sites name the component that emits the line and, optionally, a field map:
//
//	logger.InfoC("monitor", "State monitor initialized")
//	logger.WarnCF("commands", "Unauthorized access attempt", map[string]interface{}{"chat_id": id})
//
// Init must be called once from main; until then a development console logger is used.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and minimum level.
type Config struct {
	// Format is "console" (default) or "json".
	Format string
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
}

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// Init builds the process-wide logger from cfg, replacing any previous one.
func Init(cfg Config) error {
	l, err := build(cfg)
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger swaps the underlying zap logger. Tests use it with zaptest/observer.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// L returns the current zap logger.
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global, _ = build(Config{})
		if global == nil {
			global = zap.NewNop()
		}
	}
	return global
}

// Sync flushes buffered entries.
func Sync() error {
	return L().Sync()
}

func build(cfg Config) (*zap.Logger, error) {
	level := ParseLevel(cfg.Level)

	var zcfg zap.Config
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	// Skip the C/CF wrappers so callers point at the emitting package.
	return zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(2))
}

// ParseLevel maps a level name to a zap level, falling back to info.
func ParseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func fieldsOf(component string, fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("component", component))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

func log(level zapcore.Level, component, msg string, fields map[string]interface{}) {
	l := L()
	if ce := l.Check(level, msg); ce != nil {
		ce.Write(fieldsOf(component, fields)...)
	}
}

func DebugC(component, msg string) { log(zapcore.DebugLevel, component, msg, nil) }
func InfoC(component, msg string)  { log(zapcore.InfoLevel, component, msg, nil) }
func WarnC(component, msg string)  { log(zapcore.WarnLevel, component, msg, nil) }
func ErrorC(component, msg string) { log(zapcore.ErrorLevel, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	log(zapcore.DebugLevel, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	log(zapcore.InfoLevel, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	log(zapcore.WarnLevel, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	log(zapcore.ErrorLevel, component, msg, fields)
}
