package logging

import "go.uber.org/zap"

// ZapAdapter wraps a *zap.SugaredLogger so it satisfies interfaces.Logger,
// letting cmd/ringbench wire a production-grade logger into the core without
// the core ever depending on zap itself.
type ZapAdapter struct {
	sugar *zap.SugaredLogger
}

// NewZapAdapter wraps the given zap logger.
func NewZapAdapter(l *zap.Logger) *ZapAdapter {
	return &ZapAdapter{sugar: l.Sugar()}
}

func (z *ZapAdapter) Printf(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapAdapter) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapAdapter) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapAdapter) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapAdapter) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}
