// Package logging provides structured logging for the revtree store.
//
// # Creating a Logger
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/revtree.log",
//	})
//
// For tests and library defaults, use a no-op logger:
//
//	logger := logging.NewNop()
//
// # Structured Logging
//
// Add key-value pairs to log entries:
//
//	logger.Info("commit", "revision", 12, "pages", 7)
//
// Error values are rendered with their Error method.
//
// # Trace IDs
//
// Sessions and transactions carry a UUID trace ID so that their log lines
// can be correlated:
//
//	txLogger := logger.WithTraceID(logging.NewTraceID())
//
// # Output Formats
//
// Text lines keep fields in the order they were added, context fields from
// WithFields first. Values containing spaces or quotes are quoted.
//
// Text format:
//
//	2026-02-18T10:30:00.123Z [info] commit trace_id=... revision=12 pages=7
//
// JSON objects have their keys sorted:
//
//	{"level":"info","msg":"commit","pages":7,"revision":12,"ts":"2026-02-18T10:30:00.123Z"}
package logging
