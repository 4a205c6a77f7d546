// Package marketdata implements the Provider Adapter and Market-Data Hub
// components (§4.A, §4.B): normalized bar ingestion, rate limiting, and a
// write-through cache with single-flight fetch dedup and per-symbol
// subscriber fan-out.
package marketdata

import (
	"context"
	"math/rand"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
)

var canonicalTimeframes = map[domain.Timeframe]bool{
	domain.TF1m: true, domain.TF5m: true, domain.TF15m: true, domain.TF30m: true,
	domain.TF1h: true, domain.TF1d: true, domain.TF1w: true, domain.TF1mo: true,
}

// Provider adapts one external market-data source to the canonical Bar
// model. Implementations map native timeframe strings to the canonical
// set and normalize timestamps to UTC.
type Provider interface {
	// ID identifies the provider for logging and rate-limit bucketing.
	ID() string
	// FetchBars retrieves bars for symbol/timeframe within the given range.
	FetchBars(ctx context.Context, symbol string, tf domain.Timeframe, r domain.BarRange) ([]domain.Bar, error)
	// SupportsSubscribe reports whether the provider offers a push feed.
	SupportsSubscribe() bool
	// Subscribe streams new bars as they arrive, if SupportsSubscribe.
	Subscribe(ctx context.Context, symbol string, tf domain.Timeframe) (<-chan domain.Bar, error)
}

// backoff constants from §4.A, shared with the broker adapter's retry policy.
const (
	retryBase    = 250 * time.Millisecond
	retryFactor  = 2.0
	retryCap     = 30 * time.Second
	retryJitter  = 0.2
	maxAttempts  = 5
)

// RetriableFunc is one HTTP round trip a provider adapter performs; it
// returns whether the error is retriable (5xx/connection reset) alongside
// the error itself.
type RetriableFunc func(ctx context.Context) (retriable bool, err error)

// WithRetry executes fn, retrying retriable failures with exponential
// backoff and jitter, up to maxAttempts. Shared by every Provider
// implementation so the policy in §4.A is applied uniformly.
func WithRetry(ctx context.Context, fn RetriableFunc) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.KindDeadlineExceeded, "provider request cancelled", ctx.Err())
			case <-time.After(retryDelay(attempt)):
			}
		}
		retriable, err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable {
			return err
		}
	}
	return apperr.Wrap(apperr.KindUpstream, "provider request exhausted retries", lastErr)
}

func retryDelay(attempt int) time.Duration {
	d := float64(retryBase)
	for i := 0; i < attempt-1; i++ {
		d *= retryFactor
	}
	if d > float64(retryCap) {
		d = float64(retryCap)
	}
	jitter := d * retryJitter * (2*rand.Float64() - 1)
	return time.Duration(d + jitter)
}

// NormalizeTimeframe validates tf against the canonical set, returning
// ErrUnsupportedTimeframe (apperr.KindUnsupportedTF) otherwise.
func NormalizeTimeframe(tf domain.Timeframe) error {
	if !canonicalTimeframes[tf] {
		return apperr.New(apperr.KindUnsupportedTF, "unsupported timeframe: "+string(tf))
	}
	return nil
}
