package classify

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited spaces out calls to a Classifier.
type RateLimited struct {
	next    Classifier
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute. A non-positive
// perMinute disables limiting.
func NewRateLimited(next Classifier, perMinute int) *RateLimited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, 1)}
}

// Classify waits for the limiter, then calls the wrapped classifier.
func (r *RateLimited) Classify(ctx context.Context, items []Item, profile Profile) (map[string]string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	return r.next.Classify(ctx, items, profile)
}
