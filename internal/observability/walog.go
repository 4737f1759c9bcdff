package observability

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// transportLogger bridges the chat transport library's printf-style logger
// onto slog so its output shares format and redaction with the service.
type transportLogger struct {
	base   *slog.Logger
	logger *slog.Logger
	module string
	min    slog.Level
}

// NewTransportLogger returns a whatsmeow logger writing through logger.
// Records below minLevel are dropped before formatting.
func NewTransportLogger(logger *slog.Logger, module, minLevel string) waLog.Logger {
	return &transportLogger{
		base:   logger,
		logger: logger.With(slog.String("module", module)),
		module: module,
		min:    ParseLevel(minLevel),
	}
}

func (l *transportLogger) log(level slog.Level, msg string, args []any) {
	if level < l.min {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(msg, args...))
}

func (l *transportLogger) Errorf(msg string, args ...any) { l.log(slog.LevelError, msg, args) }
func (l *transportLogger) Warnf(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *transportLogger) Infof(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *transportLogger) Debugf(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }

func (l *transportLogger) Sub(module string) waLog.Logger {
	name := l.module + "/" + module
	return &transportLogger{
		base:   l.base,
		logger: l.base.With(slog.String("module", name)),
		module: name,
		min:    l.min,
	}
}

var _ waLog.Logger = (*transportLogger)(nil)
