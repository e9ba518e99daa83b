package types

// Logger used by every entity of a participant. A client can provide
// its own implementation, otherwise the logrus backed default is used.
type Logger interface {
	// Utilities to log at info level.
	Info(v ...interface{})
	Infof(format string, v ...interface{})

	// Utilities to log at warn level.
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})

	// Utilities to log at error level.
	Error(v ...interface{})
	Errorf(format string, v ...interface{})

	// Utilities to log at debug level.
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	// Log and exit.
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	// Log and panic.
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// Turn debug level on or off, returns the new value.
	ToggleDebug(value bool) bool
}
