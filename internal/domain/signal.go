package domain

import "time"

// Direction is the directional call of a Signal.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// Signal is the typed output of the Prediction Dispatcher.
type Signal struct {
	ID          string    `json:"id"`
	PredictorID string    `json:"predictor_id"`
	Symbol      string    `json:"symbol"`
	Ts          time.Time `json:"ts"`
	Direction   Direction `json:"direction"`
	Strength    float64   `json:"strength"`   // [0,1]
	Confidence  float64   `json:"confidence"` // [0,1]
	HorizonBars int       `json:"horizon_bars"`
	TargetPrice *float64  `json:"target_price,omitempty"`
	StopLoss    *float64  `json:"stop_loss,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the signal is no longer actionable at t.
func (s Signal) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && !t.Before(s.ExpiresAt)
}
