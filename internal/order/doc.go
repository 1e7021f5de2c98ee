// Package order defines the notification job handed from the order pipeline
// to the dispatcher.
//
// A Job is a value: it carries a denormalized Snapshot of everything needed to
// render the operator message, copied when the job is built. The dispatcher
// never goes back to the shop database, so a queued job always describes the
// order as it was at commit time.
package order
