package classify

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// GatewayOptions tunes retries around a Classifier.
type GatewayOptions struct {
	// Timeout bounds a single attempt. Zero means no per-attempt bound.
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Observer   Observer
	Logger     *zap.Logger
}

// Gateway wraps a Classifier with bounded retries. It never returns a
// partial label map on failure.
type Gateway struct {
	classifier Classifier
	opts       GatewayOptions
	logger     *zap.Logger
}

// NewGateway creates a new Gateway around c. Zero options take the
// package defaults.
func NewGateway(c Classifier, opts GatewayOptions) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Gateway{classifier: c, opts: opts, logger: logger}
}

// ClassifyBatch classifies items in one call. An empty batch returns an
// empty map without contacting the classifier. On failure the returned map
// is empty and the error is an *Error.
func (g *Gateway) ClassifyBatch(ctx context.Context, items []Item, profile Profile) (map[string]Label, error) {
	if len(items) == 0 {
		return map[string]Label{}, nil
	}

	var raw map[string]string
	operation := func() error {
		attemptCtx := ctx
		if g.opts.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
			defer cancel()
		}

		start := time.Now()
		out, err := g.classifier.Classify(attemptCtx, items, profile)
		if g.opts.Observer != nil {
			g.opts.Observer.ClassifierCall(time.Since(start).Seconds(), err)
		}
		if err != nil {
			if ctx.Err() != nil || !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		raw = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.opts.RetryDelay
	b.MaxInterval = 8 * g.opts.RetryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.opts.MaxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		g.logger.Warn("classifier call failed, retrying",
			zap.Int("items", len(items)),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return map[string]Label{}, asError(err)
	}

	labels := make(map[string]Label, len(items))
	for _, it := range items {
		if v, ok := raw[it.ID]; ok {
			labels[it.ID] = ParseLabel(v)
		}
	}
	return labels, nil
}

func asError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Kind: KindTransport, Err: err}
}
