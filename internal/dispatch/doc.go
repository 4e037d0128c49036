// Package dispatch routes parsed job envelopes to role-specific runners
// under per-role and global concurrency ceilings, persists their results,
// and notifies the requesting client. Delivery semantics stay with the
// stream listener: the dispatcher only reports success or failure.
package dispatch
