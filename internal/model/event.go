package model

import "time"

// CircuitTransition names a breaker state change.
type CircuitTransition string

const (
	TransitionOpened     CircuitTransition = "opened"
	TransitionHalfOpened CircuitTransition = "half_opened"
	TransitionClosed     CircuitTransition = "closed"
	TransitionReset      CircuitTransition = "reset"
)

// CircuitEvent is published whenever a provider's circuit changes state.
type CircuitEvent struct {
	Provider            string
	Transition          CircuitTransition
	From                CircuitState
	To                  CircuitState
	ConsecutiveFailures int
	TotalFailures       int
	Reason              string
	At                  time.Time
}
