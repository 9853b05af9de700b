package logging

import (
	"context"
	"io"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

// SessionKey carries the id of the session a log entry belongs to.
const SessionKey ctxKey = "session"

// Init parses and sets the log level. When logPath names a file, output is
// rotated through lumberjack; "" and "console" keep stderr.
func Init(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if logPath != "" && logPath != "console" {
		lumberjackLogger := &lumberjack.Logger{
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	}

	log.SetFormatter(&Formatter{TextFormatter: log.TextFormatter{FullTimestamp: true}})
	log.SetLevel(level)
	return nil
}

// For returns an entry tagged with the component name.
func For(component string) *log.Entry {
	return log.WithField("component", component)
}

// WithSession stores a session id in ctx for entries logged with WithContext.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionKey, id)
}

// Formatter adds the session id from the entry context to the text output.
type Formatter struct {
	log.TextFormatter
}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Context != nil {
		if id, ok := entry.Context.Value(SessionKey).(string); ok && id != "" {
			entry.Data["session"] = id
		}
	}
	return f.TextFormatter.Format(entry)
}
