package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger for one dispatch component.
// PF_ENV=dev switches to human-readable console output; PF_LOG_LEVEL
// bounds the verbosity (debug, info, warn, error; default info). Every
// line carries the service and component fields so fan-out, registry
// and coordinator logs can be filtered apart in aggregation.
func NewZerologLogger(component string) Logger {
	var z zerolog.Logger
	if strings.EqualFold(os.Getenv("PF_ENV"), "dev") {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		z = zerolog.New(writer)
	} else {
		z = zerolog.New(os.Stdout)
	}
	z = z.Level(parseLevel(os.Getenv("PF_LOG_LEVEL"))).With().
		Timestamp().
		Str("service", "rider-dispatch").
		Str("component", component).
		Logger()
	return &ZerologLogger{log: z}
}

// parseLevel maps a PF_LOG_LEVEL value to a zerolog level. Unknown or
// empty values fall back to info.
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
