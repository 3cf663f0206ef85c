// Package model holds domain types shared by the data and biz layers.
package model

import "time"

// CircuitState is the health state of one provider.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitRecord is the breaker state of one provider. The zero value of the
// time fields means "never".
type CircuitRecord struct {
	Provider            string
	State               CircuitState
	ConsecutiveFailures int
	TotalFailures       int
	LastFailureAt       time.Time
	LastSuccessAt       time.Time
	HalfOpenSince       time.Time
}

// Clone returns a copy safe to hand to another goroutine.
func (r *CircuitRecord) Clone() *CircuitRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
