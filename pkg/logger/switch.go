package logger

import "sync/atomic"

// Switch is a Logger whose level can be raised to Debug at runtime. Child
// loggers created with With share the switch.
type Switch struct {
	base  Logger
	debug *atomic.Bool
}

// NewSwitch wraps base. The switch starts off, logging at base's level.
func NewSwitch(base Logger) *Switch {
	return &Switch{base: OrDiscard(base), debug: new(atomic.Bool)}
}

// SetDebug turns debug logging on or off for the switch and every child.
func (s *Switch) SetDebug(on bool) { s.debug.Store(on) }

// Debugging reports whether the switch is on.
func (s *Switch) Debugging() bool { return s.debug.Load() }

func (s *Switch) current() Logger {
	if s.debug.Load() {
		return s.base.LogMode(Debug)
	}
	return s.base
}

// LogMode returns a fixed-level logger detached from the switch.
func (s *Switch) LogMode(level LogLevel) Logger { return s.base.LogMode(level) }

func (s *Switch) Level() LogLevel { return s.current().Level() }

func (s *Switch) With(args ...any) Logger {
	return &Switch{base: s.base.With(args...), debug: s.debug}
}

func (s *Switch) Info(msg string, args ...any)  { s.current().Info(msg, args...) }
func (s *Switch) Warn(msg string, args ...any)  { s.current().Warn(msg, args...) }
func (s *Switch) Error(msg string, args ...any) { s.current().Error(msg, args...) }
func (s *Switch) Debug(msg string, args ...any) { s.current().Debug(msg, args...) }
