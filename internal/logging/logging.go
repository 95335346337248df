// Package logging wraps the standard log package with the small set of
// prefixed helpers cmd/brokerd calls through (the internal packages log
// through the standard log package directly),
// matching the teacher's call-site style (log.Printf with a component
// prefix) rather than adopting a structured logging library the teacher
// itself doesn't use.
package logging

import "log"

// Logger prefixes every message with a component name, the same way the
// teacher's registry/service logs read "Worker %s registered...".
type Logger struct {
	prefix string
}

// New returns a Logger for the named component.
func New(component string) *Logger {
	return &Logger{prefix: component}
}

func (l *Logger) Printf(format string, args ...any) {
	log.Printf(l.prefix+": "+format, args...)
}

func (l *Logger) Println(args ...any) {
	log.Println(append([]any{l.prefix + ":"}, args...)...)
}

func (l *Logger) Fatalf(format string, args ...any) {
	log.Fatalf(l.prefix+": "+format, args...)
}
