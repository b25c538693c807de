package domain

import "time"

// SignalDirection is the model's directional call.
type SignalDirection string

const (
	SignalBullish SignalDirection = "bullish"
	SignalNeutral SignalDirection = "neutral"
	SignalBearish SignalDirection = "bearish"
)

// Signal is an opaque directional hint from an external model. The engine
// makes no assumption about update latency; a stale signal degrades to
// neutral at the provider.
type Signal struct {
	Direction  SignalDirection
	Confidence float64 // [0,1]
	At         time.Time
}

// Skew maps the signal onto a ladder skew in [-1,1]: positive for bullish,
// negative for bearish, zero for neutral.
func (s Signal) Skew() float64 {
	c := s.Confidence
	if c < 0 {
		c = 0
	} else if c > 1 {
		c = 1
	}
	switch s.Direction {
	case SignalBullish:
		return c
	case SignalBearish:
		return -c
	}
	return 0
}
