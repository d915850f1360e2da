package auth

import "go.uber.org/zap"

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger. A nil logger resolves to a no-op logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return zapLogger{sugar: l.Sugar()}
}

func (z zapLogger) Debug(format string, args ...any) { z.sugar.Debugf(format, args...) }
func (z zapLogger) Info(format string, args ...any)  { z.sugar.Infof(format, args...) }
func (z zapLogger) Warn(format string, args ...any)  { z.sugar.Warnf(format, args...) }
func (z zapLogger) Error(format string, args ...any) { z.sugar.Errorf(format, args...) }
