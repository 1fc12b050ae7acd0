// Package monitoring carries the pipeline's diagnostic logging. The
// tracker and correspondence engine report recoverable conditions (empty
// frames, terminated trajectories, gate fallbacks) here rather than
// returning them as errors.
package monitoring

import "log"

// Logf is the package-level diagnostic logger, log.Printf by default.
// Batch drivers may redirect it; tests usually mute it with Silence.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a
// no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Silence mutes the package logger and returns a function restoring the
// previous one.
func Silence() func() {
	prev := Logf
	Logf = func(string, ...interface{}) {}
	return func() { Logf = prev }
}
