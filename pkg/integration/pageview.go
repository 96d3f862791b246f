package integration

import (
	"context"
	"sync/atomic"

	"github.com/kart-io/trackhub/pkg/message"
)

// initialPageSkipper swallows the first page call. It wraps integrations
// whose settings declare initialPageview: false when the host performs an
// automatic initial pageview.
type initialPageSkipper struct {
	Integration
	skipped atomic.Bool
}

func (s *initialPageSkipper) Invoke(ctx context.Context, method message.Type, msg *message.Envelope) error {
	if method == message.TypePage && s.skipped.CompareAndSwap(false, true) {
		return nil
	}
	return s.Integration.Invoke(ctx, method, msg)
}
