package opentox

import (
	"context"
	"errors"
	"time"

	"github.com/opentox/toxotis/pkg/auth"
	"github.com/opentox/toxotis/pkg/retry"
)

type retryingFetcher struct {
	next       Fetcher
	maxRetries int
	delay      time.Duration
}

// WithRetry returns a Fetcher that retries communication failures of next up to
// maxRetries attempts, waiting delay between them. Other failures are returned
// at once. Only GET is wrapped: submissions are not idempotent.
func WithRetry(next Fetcher, maxRetries int, delay time.Duration) Fetcher {
	if maxRetries <= 1 {
		return next
	}
	return &retryingFetcher{next: next, maxRetries: maxRetries, delay: delay}
}

func (f *retryingFetcher) Get(ctx context.Context, uri URI, accept string, token auth.Token) (*Response, error) {
	return retry.Invoke(ctx, f.maxRetries, retry.StaticBackoff(f.delay), func(ctx context.Context) (*Response, error) {
		res, err := f.next.Get(ctx, uri, accept, token)
		if err != nil && !errors.Is(err, ErrCommunication) {
			return nil, retry.Permanent(err)
		}
		return res, err
	})
}
