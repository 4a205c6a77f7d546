// Package broker implements the uniform broker-adapter contract (§4.J):
// Submit/Cancel/Poll over a rate-limited HTTP client, plus a streaming
// Events() source. Requests are rate-limited by a token bucket rather than
// a request queue and worker; the HMAC signing and response
// envelope are generic rather than tied to one broker's wire format.
package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/ratelimit"
	"github.com/rs/zerolog"
)

// Backoff constants shared with the Provider Adapter retry policy (§4.A),
// applied here to broker submit/cancel/poll calls per §4.H.
const (
	backoffBase   = 250 * time.Millisecond
	backoffFactor = 2.0
	backoffCap    = 30 * time.Second
	backoffJitter = 0.2
	maxAttempts   = 5
)

// Credentials are the broker-specific signing key pair, sourced from
// BROKER_<ID>_KEY / BROKER_<ID>_SECRET / BROKER_<ID>_ENDPOINT.
type Credentials struct {
	ID        string
	Key       string
	Secret    string
	Endpoint  string
}

// Client is a rate-limited, HMAC-authenticated HTTP client for one broker.
// Every request waits on one token bucket shared by all callers, so the
// broker's rate limit holds regardless of caller concurrency; requests from
// concurrent callers are not otherwise serialized.
type Client struct {
	creds      Credentials
	httpClient *http.Client
	log        zerolog.Logger

	limiter *ratelimit.TokenBucket
}

// NewClient wires a broker HTTP client. capacity/refillPerSec size the
// token bucket rate limit (§5: "token-bucket rate limits... at each...
// Broker Adapter").
func NewClient(creds Credentials, capacity int, refillPerSec float64, log zerolog.Logger) *Client {
	return &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("component", "broker_client").Str("broker", creds.ID).Logger(),
		limiter:    ratelimit.New(capacity, refillPerSec),
	}
}

// submitRequest is the canonical POST /orders body (§6).
type submitRequest struct {
	IdempotencyKey string           `json:"idempotency_key"`
	Symbol         string           `json:"symbol"`
	Side           domain.OrderSide `json:"side"`
	Qty            string           `json:"qty"`
	Type           domain.OrderType `json:"type"`
	LimitPrice     string           `json:"limit_price,omitempty"`
	StopPrice      string           `json:"stop_price,omitempty"`
	TIF            domain.TimeInForce `json:"tif"`
}

type submitResponse struct {
	BrokerOrderID string `json:"broker_order_id"`
	Status        string `json:"status"`
}

// PollResult is the broker's current view of an order, returned by Poll for
// the Order State Machine's reconciliation loop (§4.H.1).
type PollResult struct {
	BrokerOrderID string `json:"broker_order_id"`
	Status        string `json:"status"`
	FilledQty     string `json:"filled_qty"`
}

// Submit posts an order to the broker, retrying transient failures with
// backoff. The idempotency key is the order's own ID so a retried submit
// after a network error cannot double-place the order broker-side.
func (c *Client) Submit(ctx context.Context, order domain.Order) (brokerOrderID string, err error) {
	req := submitRequest{
		IdempotencyKey: order.ID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Qty:            order.Qty.String(),
		Type:           order.Type,
		TIF:            order.TIF,
	}
	if order.LimitPrice != nil {
		req.LimitPrice = order.LimitPrice.String()
	}
	if order.StopPrice != nil {
		req.StopPrice = order.StopPrice.String()
	}

	var resp submitResponse
	err = c.doWithRetry(ctx, http.MethodPost, "/orders", req, &resp)
	if err != nil {
		return "", err
	}
	return resp.BrokerOrderID, nil
}

// Cancel issues DELETE /orders/{id}.
func (c *Client) Cancel(ctx context.Context, brokerOrderID string) error {
	return c.doWithRetry(ctx, http.MethodDelete, "/orders/"+brokerOrderID, nil, nil)
}

// Poll issues GET /orders/{id} and returns the broker's current view.
func (c *Client) Poll(ctx context.Context, brokerOrderID string) (PollResult, error) {
	var resp PollResult
	err := c.doWithRetry(ctx, http.MethodGet, "/orders/"+brokerOrderID, nil, &resp)
	return resp, err
}

// doWithRetry enforces the rate limiter, signs the request, and retries
// ErrUpstream-classified failures with exponential backoff + jitter. 4xx
// responses are non-retriable per §4.A's policy, reused verbatim for the
// broker adapter.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			d := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.KindDeadlineExceeded, "broker request cancelled", ctx.Err())
			case <-time.After(d):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return apperr.Wrap(apperr.KindDeadlineExceeded, "broker rate limiter wait cancelled", err)
		}

		retriable, err := c.do(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable {
			return err
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Str("path", path).Msg("broker request failed, retrying")
	}
	return apperr.Wrap(apperr.KindUpstream, "broker request exhausted retries", lastErr)
}

// do performs one signed HTTP round trip. The bool return reports whether
// the error (if any) is retriable.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (retriable bool, err error) {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return false, apperr.Wrap(apperr.KindValidation, "encode broker request body", err)
		}
	}

	url := c.creds.Endpoint + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return false, apperr.Wrap(apperr.KindUpstream, "build broker request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Broker-Key", c.creds.Key)
	req.Header.Set("X-Broker-Timestamp", ts)
	req.Header.Set("X-Broker-Signature", sign(c.creds.Secret, method, path, ts, bodyBytes))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, apperr.Wrap(apperr.KindUpstream, "broker request", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, apperr.Wrap(apperr.KindUpstream, "read broker response", err)
	}

	if resp.StatusCode >= 500 {
		return true, apperr.New(apperr.KindUpstream, fmt.Sprintf("broker %d: %s", resp.StatusCode, string(respBytes)))
	}
	if resp.StatusCode >= 400 {
		return false, apperr.New(apperr.KindRejected, fmt.Sprintf("broker %d: %s", resp.StatusCode, string(respBytes)))
	}

	if out != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return false, apperr.Wrap(apperr.KindUpstream, "decode broker response", err)
		}
	}
	return false, nil
}

// sign computes an HMAC-SHA256 signature over method|path|timestamp|body,
// replacing the Tradernet SDK's bespoke query-string signing scheme with a
// generic one any broker adapter in this codebase can reuse.
func sign(secret, method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func backoffDelay(attempt int) time.Duration {
	d := float64(backoffBase) * pow(backoffFactor, float64(attempt-1))
	if d > float64(backoffCap) {
		d = float64(backoffCap)
	}
	jitter := d * backoffJitter * (2*rand.Float64() - 1)
	return time.Duration(d + jitter)
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
