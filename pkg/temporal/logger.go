package temporal

import "go.uber.org/zap"

// ZapAdapter exposes a zap logger through the Temporal SDK's keyval logging
// interface, so SDK internals log alongside the rest of the process.
type ZapAdapter struct {
	sugar *zap.SugaredLogger
}

// NewZapAdapter wraps the logger under a "temporal" name so SDK lines stay
// distinguishable from application logging.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{sugar: logger.Named("temporal").Sugar()}
}

func (z *ZapAdapter) Debug(msg string, keyvals ...interface{}) { z.sugar.Debugw(msg, keyvals...) }
func (z *ZapAdapter) Info(msg string, keyvals ...interface{})  { z.sugar.Infow(msg, keyvals...) }
func (z *ZapAdapter) Warn(msg string, keyvals ...interface{})  { z.sugar.Warnw(msg, keyvals...) }
func (z *ZapAdapter) Error(msg string, keyvals ...interface{}) { z.sugar.Errorw(msg, keyvals...) }
