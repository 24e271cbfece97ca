// Package llm talks to the OCR and scoring models.
//
// Neither client retries or logs; callers decide what to do with failures.
package llm

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrOCRProvider is returned when the vision model cannot be reached or
	// returns nothing usable.
	ErrOCRProvider = errors.New("OCR provider error")
	// ErrScoring is returned when scoring fails or its response does not
	// match the expected schema.
	ErrScoring = errors.New("scoring failed")
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 45 * time.Second

// CallOptions controls how provider requests are issued.
type CallOptions struct {
	Timeout time.Duration // per request; 0 means DefaultTimeout
	Limiter *rate.Limiter // optional shared throttle
}

// begin waits for the limiter and derives the per-request deadline.
func (o CallOptions) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if o.Limiter != nil {
		if err := o.Limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}
