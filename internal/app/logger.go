package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the JSON logger. console may be nil (the TUI owns the
// terminal); file enables a rotated copy of every entry.
func NewLogger(level, file string, console zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.LevelKey = "level"
	enc.MessageKey = "msg"
	enc.CallerKey = "caller"
	enc.StacktraceKey = "stacktrace"
	enc.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	enc.EncodeCaller = zapcore.ShortCallerEncoder

	var cores []zapcore.Core
	if console != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(console), lvl))
	}
	if file != "" {
		rot := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // дней
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(rot), lvl))
	}
	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
