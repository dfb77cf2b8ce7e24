package logging

import "github.com/google/uuid"

// NewTraceID returns a random trace ID used to correlate the log lines of a
// session or transaction.
func NewTraceID() string {
	return uuid.NewString()
}
