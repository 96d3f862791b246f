package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kart-io/trackhub/pkg/integration"
	"github.com/kart-io/trackhub/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	d := Descriptor(&buf)
	require.NoError(t, d.Validate())
	assert.Equal(t, Name, d.Name)

	c, err := d.Factory(integration.Settings{})
	require.NoError(t, err)

	ready := false
	require.NoError(t, c.Initialize(context.Background(), func() { ready = true }))
	assert.True(t, ready)

	env := &message.Envelope{Type: message.TypeTrack, MessageID: "ajs-1", Event: "Clicked"}
	require.NoError(t, c.Invoke(context.Background(), message.TypeTrack, env))
	require.NoError(t, c.Invoke(context.Background(), message.TypePage, &message.Envelope{Type: message.TypePage}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var line struct {
		Method  string         `json:"method"`
		Message map[string]any `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	assert.Equal(t, "track", line.Method)
	assert.Equal(t, "ajs-1", line.Message["messageId"])
	assert.Equal(t, "Clicked", line.Message["event"])
}

func TestConsole_Indent(t *testing.T) {
	var buf bytes.Buffer
	c, err := Descriptor(&buf).Factory(integration.Settings{"indent": true})
	require.NoError(t, err)

	require.NoError(t, c.Invoke(context.Background(), message.TypeAlias, &message.Envelope{Type: message.TypeAlias}))
	assert.Contains(t, buf.String(), "\n  \"method\": \"alias\"")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestConsole_WriteError(t *testing.T) {
	c, err := Descriptor(failingWriter{}).Factory(nil)
	require.NoError(t, err)

	err = c.Invoke(context.Background(), message.TypeTrack, &message.Envelope{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
