// Package observability provides request-scoped structured logging and
// metrics recording for the retrieval engine.
//
// Loggers pick up the chi request id from the context so every log line of a
// request can be correlated. Metrics are recorded through the Metrics
// interface; LogMetrics writes them as structured log entries.
package observability
