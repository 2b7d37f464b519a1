package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Pacer spaces out requests to a provider on top of quota admission.
// A nil Pacer never waits.
type Pacer struct {
	limiter *rate.Limiter
	name    string
}

// NewPacer creates a pacer allowing requestsPerSecond with the given burst.
// Returns nil when requestsPerSecond is not positive.
func NewPacer(name string, requestsPerSecond float64, burst int) *Pacer {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		name:    name,
	}
}

// Wait blocks until the pacer allows a request to proceed.
// Returns an error if the context is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait for %s: %w", p.name, err)
	}
	return nil
}
