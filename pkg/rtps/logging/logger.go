package logging

import (
	"os"
	"sync"

	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"github.com/sirupsen/logrus"
)

// The default logger used if the user does not provide its
// own implementation. Backed by logrus, every entry carries
// the fields given when the logger was created.
type DefaultLogger struct {
	*logrus.Entry

	// Synchronize the level toggle.
	mutex *sync.Mutex
}

// Creates the default logger writing to stderr at info level.
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{
		Entry: logrus.NewEntry(l).WithField("component", "rtps"),
		mutex: &sync.Mutex{},
	}
}

// Returns a logger sharing the same output with an extra field.
func (l *DefaultLogger) With(key string, value interface{}) types.Logger {
	return &DefaultLogger{
		Entry: l.Entry.WithField(key, value),
		mutex: l.mutex,
	}
}

// Implements the types.Logger interface.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if value {
		l.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.Logger.SetLevel(logrus.InfoLevel)
	}
	return value
}

// Attaches the field when the logger supports it, otherwise
// returns the logger untouched.
func With(log types.Logger, key string, value interface{}) types.Logger {
	if l, ok := log.(interface {
		With(string, interface{}) types.Logger
	}); ok {
		return l.With(key, value)
	}
	return log
}
