package models

import (
	"time"
)

// RetryJob represents a stalled settlement scheduled to be nudged again
type RetryJob struct {
	RefID       string
	RetryCount  int
	NextAttempt time.Time
	ErrorType   string // Type of error that stalled the settlement
}
