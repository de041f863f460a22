package circuitbreaker

import "errors"

// ErrCircuitOpen indicates the circuit is open for the service,
// rejecting calls to let the downstream recover.
var ErrCircuitOpen = errors.New("circuit breaker is open")
