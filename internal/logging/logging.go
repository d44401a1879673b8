// Package logging provides the component-tagged logger used across the
// core. It deliberately stays on the standard library: no pack repo
// imports a structured logging library for plain operational narration (see
// DESIGN.md).
package logging

import (
	"io"
	"log"
	"os"
)

// Logger prefixes every line with a component tag, mirroring the bracketed
// status lines the teacher's cmd/mesh-api prints at startup.
type Logger struct {
	component string
	std       *log.Logger
}

func New(component string) *Logger {
	return &Logger{component: component, std: log.New(os.Stderr, "", log.LstdFlags)}
}

// NewWithWriter is used by tests to capture output.
func NewWithWriter(component string, w io.Writer) *Logger {
	return &Logger{component: component, std: log.New(w, "", log.LstdFlags)}
}

func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf("[%s] "+format, prepend(l.component, args)...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf("[%s] WARN "+format, prepend(l.component, args)...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf("[%s] ERROR "+format, prepend(l.component, args)...)
}

// With returns a child logger scoped to a nested component, e.g.
// logging.New("repair").With("executor") -> "[repair.executor]".
func (l *Logger) With(sub string) *Logger {
	return &Logger{component: l.component + "." + sub, std: l.std}
}

func prepend(component string, args []any) []any {
	out := make([]any, 0, len(args)+1)
	out = append(out, component)
	out = append(out, args...)
	return out
}
