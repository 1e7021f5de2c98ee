// Package dispatch moves notification jobs from producers to the operator
// chat without ever blocking the producer.
//
// Submit validates, deduplicates and enqueues a job into a bounded buffer and
// returns an Admission immediately. A single background loop renders each job,
// sends it through the delivery client and retries transient failures in
// place, so jobs reach the chat in submission order. Stop closes admission,
// drains what it can within the drain timeout and discards the rest.
package dispatch
