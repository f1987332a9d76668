package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger adapts a *zap.Logger to the Logger interface.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps logger as a Logger. A nil logger falls back to
// zap.NewNop().
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

func (l *ZapLogger) Debug(_ context.Context, msg string, kv ...any) {
	l.logger.Sugar().Debugw(msg, kv...)
}

func (l *ZapLogger) Info(_ context.Context, msg string, kv ...any) {
	l.logger.Sugar().Infow(msg, kv...)
}

func (l *ZapLogger) Warn(_ context.Context, msg string, kv ...any) {
	l.logger.Sugar().Warnw(msg, kv...)
}

func (l *ZapLogger) Error(_ context.Context, msg string, kv ...any) {
	l.logger.Sugar().Errorw(msg, kv...)
}
