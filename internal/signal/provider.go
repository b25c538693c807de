// Package signal supplies the directional hint consumed by sizing and ladder
// skew. The model serving it is external; the engine treats its output as
// opaque and possibly stale.
package signal

import (
	"context"

	"github.com/kzhou42/volumebot/internal/domain"
)

// Provider yields the latest trading signal. Implementations must degrade to
// a neutral signal rather than erroring when no fresh data is available.
type Provider interface {
	Signal(ctx context.Context) (domain.Signal, error)
}

// Neutral is the zero-confidence fallback signal.
func Neutral() domain.Signal {
	return domain.Signal{Direction: domain.SignalNeutral}
}

// StaticProvider always returns the same signal. Used for dry runs and tests.
type StaticProvider struct {
	Value domain.Signal
}

// Signal implements Provider.
func (s StaticProvider) Signal(context.Context) (domain.Signal, error) {
	if s.Value.Direction == "" {
		return Neutral(), nil
	}
	return s.Value, nil
}
