// Package httpapi is the operator HTTP surface: event intake for the order
// pipeline, the diagnostic test-order trigger, health, dispatcher stats,
// Prometheus metrics and optional pprof.
package httpapi
