package risk

import (
	"fmt"

	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

// Reason classifies an admission rejection.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonInvalidSignal
	ReasonCircuitBreakerOpen
	ReasonRateLimited
	ReasonSizingFailed
	ReasonExposureLimitExceeded
)

var reasonNames = [...]string{
	ReasonNone:                  "none",
	ReasonInvalidSignal:         "invalid_signal",
	ReasonCircuitBreakerOpen:    "circuit_breaker_open",
	ReasonRateLimited:           "rate_limited",
	ReasonSizingFailed:          "sizing_failed",
	ReasonExposureLimitExceeded: "exposure_limit_exceeded",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(b []byte) error {
	for i, name := range reasonNames {
		if name == string(b) {
			*r = Reason(i)
			return nil
		}
	}
	return errors.Errorf("unknown rejection reason: %q", b)
}

// Rejection is returned by Evaluate when a decision is not admitted.
// Limit names the binding configuration key or breaker condition.
type Rejection struct {
	Reason Reason `json:"reason"`
	Symbol string `json:"symbol"`
	Limit  string `json:"limit"`
	Detail string `json:"detail"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s %s (%s)", r.Reason, r.Symbol, r.Detail, r.Limit)
}

func (r *Rejection) Unwrap() error {
	switch r.Reason {
	case ReasonInvalidSignal:
		return exception.ErrInvalidSignal
	case ReasonCircuitBreakerOpen:
		return exception.ErrCircuitBreakerOpen
	case ReasonRateLimited:
		return exception.ErrRateLimited
	case ReasonSizingFailed:
		return exception.ErrSizingFailed
	case ReasonExposureLimitExceeded:
		return exception.ErrExposureLimitExceeded
	default:
		return nil
	}
}

func reject(reason Reason, symbol, limit, format string, args ...any) *Rejection {
	return &Rejection{
		Reason: reason,
		Symbol: symbol,
		Limit:  limit,
		Detail: fmt.Sprintf(format, args...),
	}
}
