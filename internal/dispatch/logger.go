package dispatch

import (
	"context"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/me/testfleet/internal/logging"
)

// kgoLogger adapts slog to kgo.Logger.
type kgoLogger struct {
	logger *slog.Logger
}

func newLogger(l *slog.Logger) *kgoLogger {
	return &kgoLogger{logger: logging.Component(l, "kafka_client")}
}

func (l *kgoLogger) Level() kgo.LogLevel {
	// kgo's debug output is very chatty; only forward it when asked for.
	if l.logger.Enabled(context.Background(), slog.LevelDebug) {
		return kgo.LogLevelDebug
	}
	return kgo.LogLevelInfo
}

func (l *kgoLogger) Log(lev kgo.LogLevel, msg string, keyvals ...any) {
	switch lev {
	case kgo.LogLevelDebug:
		l.logger.Debug(msg, keyvals...)
	case kgo.LogLevelInfo:
		l.logger.Info(msg, keyvals...)
	case kgo.LogLevelWarn:
		l.logger.Warn(msg, keyvals...)
	case kgo.LogLevelError:
		l.logger.Error(msg, keyvals...)
	}
}
