package middleware

import (
	"context"
	"time"

	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/message"
)

type timeoutStage struct {
	inner   Stage
	timeout time.Duration
}

// WithStageTimeout bounds how long stage may take per invocation. When the
// bound is exceeded the invocation fails with ErrMiddlewareTimeout and the
// stage's eventual result is discarded; the stage itself keeps running
// until it returns. A non-positive timeout returns stage unchanged.
func WithStageTimeout(timeout time.Duration, stage Stage) Stage {
	if timeout <= 0 {
		return stage
	}
	return &timeoutStage{inner: stage, timeout: timeout}
}

func (s *timeoutStage) Name() string { return s.inner.Name() }

type stageOutcome struct {
	res Result
	err error
}

func (s *timeoutStage) Handle(ctx context.Context, msg *message.Envelope, scope Scope) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan stageOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageOutcome{err: errors.FromPanic(r, errors.ErrMiddlewareFailed, "middleware stage panicked")}
			}
		}()
		res, err := s.inner.Handle(ctx, msg.Clone(), scope)
		done <- stageOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return Drop(), errors.Newf(errors.ErrMiddlewareTimeout, "stage %q did not complete within %s", s.inner.Name(), s.timeout).
			WithIntegration(scope.Integration).
			WithContext("chain", string(scope.Kind))
	}
}
