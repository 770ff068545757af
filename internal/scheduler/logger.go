package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
)

// SDKLogger routes Temporal SDK logs through the service logger. It
// satisfies go.temporal.io/sdk/log.Logger.
type SDKLogger struct {
	log *logger.Logger
}

// NewSDKLogger wraps log for use in client.Options.Logger.
func NewSDKLogger(log *logger.Logger) *SDKLogger {
	return &SDKLogger{log: log.Component("temporal")}
}

func (l *SDKLogger) Debug(msg string, keyvals ...any) { l.emit(l.log.Debug(), msg, keyvals) }
func (l *SDKLogger) Info(msg string, keyvals ...any)  { l.emit(l.log.Info(), msg, keyvals) }
func (l *SDKLogger) Warn(msg string, keyvals ...any)  { l.emit(l.log.Warn(), msg, keyvals) }
func (l *SDKLogger) Error(msg string, keyvals ...any) { l.emit(l.log.Error(), msg, keyvals) }

func (l *SDKLogger) emit(ev *zerolog.Event, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	if len(keyvals)%2 == 1 {
		ev = ev.Interface("extra", keyvals[len(keyvals)-1])
	}
	ev.Msg(msg)
}
