package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Warnf receives conditions the engine recovers from on its own: dropped
// frames, malformed classifier output, labels that match no catalog entry.
var Warnf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	log.Printf("WARN "+format, v...)
}

// Debugf receives per-frame tracing. It is a no-op until SetDebugLogger is called.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

func noop(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = noop
		return
	}
	Logf = f
}

// SetWarnLogger replaces the warning logger. Passing nil will set a no-op logger.
func SetWarnLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Warnf = noop
		return
	}
	Warnf = f
}

// SetDebugLogger replaces the debug logger. Passing nil will set a no-op logger.
func SetDebugLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Debugf = noop
		return
	}
	Debugf = f
}

// Mute silences every level. Intended for tests.
func Mute() {
	SetLogger(nil)
	SetWarnLogger(nil)
	SetDebugLogger(nil)
}
