package model

import "time"

// WindowResult is the outcome of one rate-limit window primitive.
type WindowResult struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}
