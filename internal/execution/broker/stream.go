package broker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aristath/quant-core/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// maxClockSkew rejects broker events whose timestamp is too far in the
	// future to trust (§4.J).
	maxClockSkew = 60 * time.Second
)

// wireEvent is the broker's streaming frame shape (§6): {event_type,
// order_id, qty?, price?, ts}.
type wireEvent struct {
	EventType string    `json:"event_type"`
	OrderID   string    `json:"order_id"`
	ExecID    string    `json:"broker_exec_id,omitempty"`
	Qty       string    `json:"qty,omitempty"`
	Price     string    `json:"price,omitempty"`
	Ts        time.Time `json:"ts"`
	Reason    string    `json:"reason,omitempty"`
}

var wireEventTypes = map[string]domain.BrokerEventType{
	"Ack":       domain.BrokerEventAck,
	"Fill":      domain.BrokerEventFill,
	"Cancelled": domain.BrokerEventCancelled,
	"Rejected":  domain.BrokerEventRejected,
	"Expired":   domain.BrokerEventExpired,
	"Error":     domain.BrokerEventError,
}

// EventStream maintains a reconnecting WebSocket connection to a broker's
// streaming endpoint and delivers normalized domain.BrokerEvent values on a
// channel (§4.J's Events() → stream<BrokerEvent>). The order state machine
// consumes the channel and is responsible for turning broker events into
// order mutations and bus-level domain events. The connection and
// reconnect-loop shape is adapted from the Tradernet market-status
// WebSocket client; the wire format and event catalogue are generic to the
// broker adapter contract rather than tied to one broker.
type EventStream struct {
	url        string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	out chan domain.BrokerEvent
	log zerolog.Logger

	stopChan chan struct{}
	stopped  bool
}

// createHTTP1Client forces HTTP/1.1 so the WebSocket upgrade handshake
// works behind TLS terminators that otherwise negotiate HTTP/2 via ALPN.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewEventStream creates a broker event stream. Events() returns the
// channel normalized BrokerEvent values are delivered on.
func NewEventStream(url string, log zerolog.Logger) *EventStream {
	return &EventStream{
		url:        url,
		httpClient: createHTTP1Client(),
		out:        make(chan domain.BrokerEvent, 1024),
		log:        log.With().Str("component", "broker_event_stream").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Events returns the stream of normalized broker events.
func (s *EventStream) Events() <-chan domain.BrokerEvent {
	return s.out
}

// Start dials the stream and begins reading in the background.
func (s *EventStream) Start() error {
	if err := s.connect(); err != nil {
		s.log.Warn().Err(err).Msg("initial broker stream connection failed, retrying in background")
		go s.reconnectLoop()
		return err
	}
	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readLoop(ctx)
	return nil
}

// Stop gracefully closes the stream.
func (s *EventStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)
	return s.disconnect()
}

func (s *EventStream) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{HTTPClient: s.httpClient})
	if err != nil {
		return fmt.Errorf("dial broker stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel
	return nil
}

func (s *EventStream) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	if err != nil {
		return fmt.Errorf("close broker stream: %w", err)
	}
	return nil
}

func (s *EventStream) readLoop(ctx context.Context) {
	defer func() {
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("broker stream read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := s.handleMessage(data); err != nil {
			s.log.Error().Err(err).Msg("failed to handle broker stream frame")
		}
	}
}

func (s *EventStream) handleMessage(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("parse broker frame: %w", err)
	}

	if time.Since(w.Ts) < -maxClockSkew {
		return fmt.Errorf("broker event timestamp %s exceeds clock skew tolerance", w.Ts)
	}

	kind, ok := wireEventTypes[w.EventType]
	if !ok {
		return fmt.Errorf("unknown broker event type %q", w.EventType)
	}

	var qty, price decimal.Decimal
	if w.Qty != "" {
		qty, _ = decimal.NewFromString(w.Qty)
	}
	if w.Price != "" {
		price, _ = decimal.NewFromString(w.Price)
	}

	ev := domain.BrokerEvent{
		Type:          kind,
		BrokerOrderID: w.OrderID,
		BrokerExecID:  w.ExecID,
		Qty:           qty,
		Price:         price,
		Ts:            w.Ts,
		Reason:        w.Reason,
	}

	select {
	case s.out <- ev:
	default:
		s.log.Warn().Str("broker_order_id", w.OrderID).Msg("broker event stream consumer too slow, dropping event")
	}
	return nil
}

func (s *EventStream) reconnectLoop() {
	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := backoffReconnectDelay(attempt)

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("broker stream reconnect failed")
			continue
		}

		s.log.Info().Int("attempt", attempt).Msg("broker stream reconnected")
		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readLoop(ctx)
		return
	}
}

func backoffReconnectDelay(attempt int) time.Duration {
	d := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(maxReconnectDelay) {
		d = float64(maxReconnectDelay)
	}
	if attempt > maxReconnectAttempts {
		d = float64(maxReconnectDelay)
	}
	return time.Duration(d)
}
