package backoff

import (
	"context"
	"time"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
)

// Policy bounds a retried remote call. The zero value is unusable; use
// Default() or fill every field.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration

	// sleep is swapped out in tests to observe the delay sequence.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default is the operational policy: 3 attempts with delays of 1s and 2s
// between them, each attempt bounded to 30s.
func Default() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Delay returns the wait before retrying after attempt i (1-indexed):
// BaseDelay * 2^(i-1), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs op under the policy. Transient failures are retried with
// exponential delay; a permanent failure short-circuits with the error
// as-is. When the budget runs out the last error is returned wrapped in
// domain.RetriesExhausted. Delay waits suspend only the calling goroutine
// and abort promptly on context cancellation.
//
// op must be idempotent: describe/read calls always are, and the remote
// API's start/stop are idempotent against already-desired state.
func Execute[T any](ctx context.Context, p Policy, name, resourceID string, op func(context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		actx := ctx
		var cancel context.CancelFunc
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		out, err := op(actx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return out, nil
		}
		// the surrounding application is shutting down, not a remote fault
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if domain.IsPermanent(err) {
			return zero, err
		}
		lastErr = err

		if attempt < p.MaxAttempts {
			if serr := p.sleep(ctx, p.Delay(attempt)); serr != nil {
				return zero, serr
			}
		}
	}

	return zero, &domain.RetriesExhausted{
		Op:         name,
		ResourceID: resourceID,
		Attempts:   p.MaxAttempts,
		Err:        lastErr,
	}
}
