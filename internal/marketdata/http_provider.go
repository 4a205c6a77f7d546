package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/ratelimit"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// timeframeMap maps this provider's native interval strings onto the
// canonical set. Populated per-provider at construction time.
type TimeframeMap map[string]domain.Timeframe

// wireBar is the provider's native JSON bar shape.
type wireBar struct {
	Ts     int64  `json:"t"`
	Open   string `json:"o"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Close  string `json:"c"`
	Volume string `json:"v"`
}

// HTTPProvider is a generic REST-based Provider Adapter: HTTP GET with
// provider-specific query parameters, JSON mapped into canonical Bar
// (§4.A, §6 "Market-data ingress"). Timeouts: connect 3s, read 15s.
type HTTPProvider struct {
	id         string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.TokenBucket
	timeframes TimeframeMap
	log        zerolog.Logger
}

// NewHTTPProvider wires a provider against a base URL and an explicit
// native-to-canonical timeframe map (e.g. {"1Min": domain.TF1m}).
func NewHTTPProvider(id, baseURL, apiKey string, timeframes TimeframeMap, capacity int, refillPerSec float64, log zerolog.Logger) *HTTPProvider {
	return &HTTPProvider{
		id:      id,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
			},
		},
		limiter:    ratelimit.New(capacity, refillPerSec),
		timeframes: timeframes,
		log:        log.With().Str("component", "provider").Str("provider", id).Logger(),
	}
}

func (p *HTTPProvider) ID() string { return p.id }

func (p *HTTPProvider) SupportsSubscribe() bool { return false }

func (p *HTTPProvider) Subscribe(ctx context.Context, symbol string, tf domain.Timeframe) (<-chan domain.Bar, error) {
	return nil, apperr.New(apperr.KindValidation, p.id+" does not support streaming subscription")
}

// nativeTimeframe reverse-maps a canonical timeframe to this provider's
// native string, rejecting unsupported pairs with ErrUnsupportedTimeframe.
func (p *HTTPProvider) nativeTimeframe(tf domain.Timeframe) (string, error) {
	for native, canonical := range p.timeframes {
		if canonical == tf {
			return native, nil
		}
	}
	return "", apperr.New(apperr.KindUnsupportedTF, fmt.Sprintf("%s: unsupported timeframe %s", p.id, tf))
}

// FetchBars retrieves and normalizes bars for symbol/timeframe within r,
// retrying transient (5xx/connection reset) failures with backoff; 4xx
// responses fail immediately as non-retriable.
func (p *HTTPProvider) FetchBars(ctx context.Context, symbol string, tf domain.Timeframe, r domain.BarRange) ([]domain.Bar, error) {
	native, err := p.nativeTimeframe(tf)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	err = WithRetry(ctx, func(ctx context.Context) (bool, error) {
		if werr := p.limiter.Wait(ctx); werr != nil {
			return false, apperr.Wrap(apperr.KindDeadlineExceeded, "rate limiter wait cancelled", werr)
		}

		url := fmt.Sprintf("%s/bars?symbol=%s&timeframe=%s&from=%d&to=%d",
			p.baseURL, symbol, native, r.From.Unix(), r.To.Unix())
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return false, apperr.Wrap(apperr.KindUpstream, "build provider request", rerr)
		}
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, derr := p.httpClient.Do(req)
		if derr != nil {
			return true, apperr.Wrap(apperr.KindUpstream, "provider request", derr)
		}
		defer resp.Body.Close()

		body, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return true, apperr.Wrap(apperr.KindUpstream, "read provider response", rerr)
		}

		if resp.StatusCode >= 500 {
			return true, apperr.New(apperr.KindUpstream, fmt.Sprintf("provider %d: %s", resp.StatusCode, string(body)))
		}
		if resp.StatusCode >= 400 {
			return false, apperr.New(apperr.KindUpstream, fmt.Sprintf("provider %d: %s", resp.StatusCode, string(body)))
		}

		var wire []wireBar
		if jerr := json.Unmarshal(body, &wire); jerr != nil {
			return false, apperr.Wrap(apperr.KindUpstream, "decode provider response", jerr)
		}

		now := time.Now().UTC()
		out := make([]domain.Bar, 0, len(wire))
		for _, w := range wire {
			out = append(out, domain.Bar{
				Symbol:     symbol,
				Timeframe:  tf,
				Ts:         time.Unix(w.Ts, 0).UTC(),
				Open:       mustDecimal(w.Open),
				High:       mustDecimal(w.High),
				Low:        mustDecimal(w.Low),
				Close:      mustDecimal(w.Close),
				Volume:     mustDecimal(w.Volume),
				Source:     p.id,
				ReceivedAt: now,
			})
		}
		bars = out
		return false, nil
	})
	return bars, err
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
