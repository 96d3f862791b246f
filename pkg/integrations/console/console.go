// Package console provides an integration that writes every envelope as
// one JSON line.
package console

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/integration"
	"github.com/kart-io/trackhub/pkg/message"
)

// Name is the registration name.
const Name = "Console"

// Line is the shape of one written line.
type Line struct {
	Method  message.Type      `json:"method"`
	Message *message.Envelope `json:"message"`
}

// Console writes envelopes to an io.Writer.
type Console struct {
	mu     sync.Mutex
	enc    *json.Encoder
	indent bool
}

// Descriptor registers the console integration writing to w (stdout when
// nil). Setting "indent": true pretty-prints each record.
func Descriptor(w io.Writer) integration.Descriptor {
	if w == nil {
		w = os.Stdout
	}
	return integration.Descriptor{
		Name: Name,
		Factory: func(s integration.Settings) (integration.Integration, error) {
			c := &Console{enc: json.NewEncoder(w)}
			if indent, _ := s.Bool("indent"); indent {
				c.enc.SetIndent("", "  ")
				c.indent = true
			}
			return c, nil
		},
	}
}

// Name implements integration.Integration
func (c *Console) Name() string { return Name }

// Initialize is ready immediately.
func (c *Console) Initialize(_ context.Context, ready integration.ReadyFunc) error {
	ready()
	return nil
}

// Invoke writes msg as one JSON record.
func (c *Console) Invoke(_ context.Context, method message.Type, msg *message.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enc.Encode(Line{Method: method, Message: msg}); err != nil {
		return errors.Wrap(err, errors.ErrMessageEncoding, "failed to write envelope").WithIntegration(Name)
	}
	return nil
}
