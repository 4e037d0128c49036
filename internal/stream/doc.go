// Package stream provides the durable, replayable append-only log the
// engine's work distribution is built on: enqueueing entries, consumer
// group reads, acknowledgment, idle-based reclamation of stuck entries,
// length-based trimming, and introspection. A Listener polls a Log on
// behalf of one (stream, group, consumer) triple and fans entries out to
// a handler under a concurrency cap.
package stream
