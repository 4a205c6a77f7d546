// Package events defines the typed event payloads published on the
// in-process event bus and the bus itself: a thread-safe fan-out publisher
// consumed by the HTTP SSE stream and the execution-strategy scheduler.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the shape of an event's Data payload.
type EventType string

const (
	SignalEmitted          EventType = "signal_emitted"
	OrderSubmitted         EventType = "order_submitted"
	OrderStatusChanged     EventType = "order_status_changed"
	OrderFilled            EventType = "order_filled"
	RiskRejected           EventType = "risk_rejected"
	PredictorStatusChanged EventType = "predictor_status_changed"
	BarsGapDetected        EventType = "bars_gap_detected"
	ErrorOccurred          EventType = "error_occurred"
)

// EventData is the interface every typed event payload implements.
type EventData interface {
	EventType() EventType
}

// SignalEmittedData accompanies SignalEmitted.
type SignalEmittedData struct {
	SignalID    string  `json:"signal_id"`
	PredictorID string  `json:"predictor_id"`
	Symbol      string  `json:"symbol"`
	Direction   string  `json:"direction"`
	Strength    float64 `json:"strength"`
	Confidence  float64 `json:"confidence"`
}

func (d *SignalEmittedData) EventType() EventType { return SignalEmitted }

// OrderSubmittedData accompanies OrderSubmitted.
type OrderSubmittedData struct {
	OrderID     string `json:"order_id"`
	PortfolioID string `json:"portfolio_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Strategy    string `json:"strategy"`
}

func (d *OrderSubmittedData) EventType() EventType { return OrderSubmitted }

// OrderStatusChangedData accompanies OrderStatusChanged.
type OrderStatusChangedData struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Reason  string `json:"reason,omitempty"`
}

func (d *OrderStatusChangedData) EventType() EventType { return OrderStatusChanged }

// OrderFilledData accompanies OrderFilled, one per execution applied.
type OrderFilledData struct {
	OrderID      string  `json:"order_id"`
	ExecutionID  string  `json:"execution_id"`
	Qty          string  `json:"qty"`
	Price        string  `json:"price"`
	FilledQty    string  `json:"filled_qty"`
	AvgFillPrice *string `json:"avg_fill_price,omitempty"`
}

func (d *OrderFilledData) EventType() EventType { return OrderFilled }

// RiskRejectedData accompanies RiskRejected.
type RiskRejectedData struct {
	PortfolioID string `json:"portfolio_id"`
	Symbol      string `json:"symbol"`
	Reason      string `json:"reason"`
}

func (d *RiskRejectedData) EventType() EventType { return RiskRejected }

// PredictorStatusChangedData accompanies PredictorStatusChanged.
type PredictorStatusChangedData struct {
	PredictorID string `json:"predictor_id"`
	From        string `json:"from"`
	To          string `json:"to"`
}

func (d *PredictorStatusChangedData) EventType() EventType { return PredictorStatusChanged }

// BarsGapDetectedData accompanies BarsGapDetected.
type BarsGapDetectedData struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	GapFrom   int64  `json:"gap_from"`
	GapTo     int64  `json:"gap_to"`
}

func (d *BarsGapDetectedData) EventType() EventType { return BarsGapDetected }

// ErrorEventData accompanies ErrorOccurred.
type ErrorEventData struct {
	Error   string         `json:"error"`
	Context map[string]any `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }

// Event wraps a typed payload with envelope metadata for the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Data      EventData `json:"data"`
}

// MarshalJSON flattens Data into the envelope's "data" field.
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{Alias: (*Alias)(e)}

	if e.Data != nil {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = b
	}
	return json.Marshal(aux)
}

// UnmarshalJSON dispatches into the concrete Data type by Type.
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{Alias: (*Alias)(e)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if len(aux.Data) == 0 {
		return nil
	}

	var payload EventData
	switch aux.Type {
	case SignalEmitted:
		payload = &SignalEmittedData{}
	case OrderSubmitted:
		payload = &OrderSubmittedData{}
	case OrderStatusChanged:
		payload = &OrderStatusChangedData{}
	case OrderFilled:
		payload = &OrderFilledData{}
	case RiskRejected:
		payload = &RiskRejectedData{}
	case PredictorStatusChanged:
		payload = &PredictorStatusChangedData{}
	case BarsGapDetected:
		payload = &BarsGapDetectedData{}
	case ErrorOccurred:
		payload = &ErrorEventData{}
	default:
		var raw map[string]any
		if err := json.Unmarshal(aux.Data, &raw); err != nil {
			return err
		}
		e.Data = &GenericEventData{Type: aux.Type, Raw: raw}
		return nil
	}

	if err := json.Unmarshal(aux.Data, payload); err != nil {
		return err
	}
	e.Data = payload
	return nil
}

// GenericEventData is the fallback for event types with no registered shape.
type GenericEventData struct {
	Type EventType
	Raw  map[string]any
}

func (d *GenericEventData) EventType() EventType { return d.Type }
