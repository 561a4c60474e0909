package mailer

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"dms-go/internal/dms"
)

// Throttled limits the rate at which an inner mailer is called, so a sweep
// that finds many due records does not trip relay limits.
type Throttled struct {
	inner   dms.Mailer
	limiter *rate.Limiter
}

var _ dms.Mailer = (*Throttled)(nil)

// NewThrottled allows rps messages per second with a burst of rps.
func NewThrottled(inner dms.Mailer, rps int) *Throttled {
	if rps <= 0 {
		rps = 1
	}
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (t *Throttled) Send(ctx context.Context, msg *dms.Message) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for send slot: %w", err)
	}
	return t.inner.Send(ctx, msg)
}
