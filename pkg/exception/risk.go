package exception

import "github.com/yanun0323/errors"

// Admission errors. A rejected signal is terminal for that signal only.
var (
	ErrInvalidSignal         = errors.New("risk: invalid signal")
	ErrRateLimited           = errors.New("risk: rate limited")
	ErrExposureLimitExceeded = errors.New("risk: exposure limit exceeded")
	ErrCircuitBreakerOpen    = errors.New("risk: circuit breaker open")
	ErrSizingFailed          = errors.New("risk: sizing produced no quantity")
)

// Breaker command errors.
var (
	ErrCooldownActive = errors.New("risk: cooldown has not elapsed")
)
