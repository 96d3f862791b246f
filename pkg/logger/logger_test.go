package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(&buf, Debug).With("component", "test")

	t.Run("Info", func(t *testing.T) {
		buf.Reset()
		log.Info("info message", "key1", "value1", "key2", 123)
		out := buf.String()
		assert.Contains(t, out, "level=INFO")
		assert.Contains(t, out, `msg="info message"`)
		assert.Contains(t, out, "key1=value1")
		assert.Contains(t, out, "key2=123")
		assert.Contains(t, out, "component=test")
	})

	t.Run("Debug", func(t *testing.T) {
		buf.Reset()
		log.Debug("debug message")
		assert.Contains(t, buf.String(), "level=DEBUG")
	})
}

func TestSlogLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	warn := NewSlogLogger(&buf, Warn)

	warn.Info("info message")
	assert.Zero(t, buf.Len(), "info should not be logged at warn level")

	warn.Warn("warn message")
	assert.True(t, strings.Contains(buf.String(), "warn message"))

	buf.Reset()
	debug := warn.LogMode(Debug)
	debug.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
	assert.Equal(t, Warn, warn.Level(), "LogMode must not mutate the receiver")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":  Debug,
		"info":   Info,
		"warn":   Warn,
		"error":  Error,
		"silent": Silent,
		"bogus":  Warn,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "debug", Debug.String())
}

func TestDiscard(t *testing.T) {
	assert.Equal(t, Discard, OrDiscard(nil))
	assert.NotPanics(t, func() {
		Discard.With("a", 1).LogMode(Debug).Error("ignored")
	})
}

func TestSwitch(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSwitch(NewSlogLogger(&buf, Warn))
	child := sw.With("component", "pipeline")

	child.Debug("hidden")
	assert.Zero(t, buf.Len())
	assert.Equal(t, Warn, sw.Level())

	sw.SetDebug(true)
	assert.True(t, sw.Debugging())
	child.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "component=pipeline")
	assert.Equal(t, Debug, child.Level())

	buf.Reset()
	sw.SetDebug(false)
	child.Debug("hidden again")
	assert.Zero(t, buf.Len())
}
