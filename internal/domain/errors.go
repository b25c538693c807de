package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrOrderRejected    = errors.New("order rejected")
	ErrSideMismatch     = errors.New("position side mismatch")
	ErrInsufficientData = errors.New("insufficient market data")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnsupported      = errors.New("operation not supported")
)

// IsRetryable reports whether an operation that failed with err is worth
// retrying with the same parameters. Rejections are deterministic (bad
// size/price/margin) and retrying them only burns rate limit budget.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrOrderRejected):
		return false
	case errors.Is(err, ErrSideMismatch):
		return false
	case errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrUnsupported):
		return false
	}
	return true
}
