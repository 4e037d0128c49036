package stream

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by Log implementations.
var (
	// ErrStreamNotFound is returned when an operation references a
	// stream key that has never been written to.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrGroupNotFound is returned when an operation references a
	// consumer group that has not been created on the stream.
	ErrGroupNotFound = errors.New("consumer group not found")

	// ErrEmptyStreamKey is returned when a stream key is empty.
	ErrEmptyStreamKey = errors.New("stream key cannot be empty")
)

// Entry is a single immutable record in a stream. The ID is an opaque
// string that orders entries within the stream; entries are never
// mutated once written.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Envelope is the unit handed to a handler: one delivered entry plus
// the stream it came from and how many times it has been delivered.
// DeliveryCount is maintained by the log (incremented on first delivery
// and on every claim) so retry accounting survives a process restart.
type Envelope struct {
	EntryID       string
	StreamKey     string
	Fields        map[string]string
	DeliveryCount int
}

// PendingEntry describes one entry in a group's pending-entries list:
// delivered to a consumer but not yet acknowledged.
type PendingEntry struct {
	EntryID       string
	Consumer      string
	DeliveryCount int
	IdleSince     time.Time
}

// Info is the introspection snapshot for a stream and, when a group is
// given, its pending workload broken down by consumer.
type Info struct {
	Length            int
	PendingByConsumer map[string]int
}

// Handler processes one delivered envelope. Returning true acknowledges
// the entry; returning false leaves it pending for later reclamation.
// A panicking handler is treated the same as a false return.
type Handler func(ctx context.Context, env Envelope) bool

// Log is the durable stream-queue abstraction. Implementations must
// guarantee strictly increasing entry IDs per stream and keep an entry
// in at most one consumer's pending list at a time.
type Log interface {
	// Add appends a new entry to the stream and returns its ID.
	Add(ctx context.Context, streamKey string, fields map[string]string) (string, error)

	// CreateGroup creates a consumer group on the stream, creating the
	// stream itself if missing. Creating a group that already exists is
	// not an error.
	CreateGroup(ctx context.Context, streamKey, group string) error

	// ReadGroup delivers up to count entries to the named consumer:
	// first any entries reassigned to it by Claim and not yet
	// redelivered, then new entries past the group cursor. Delivered
	// entries enter the consumer's pending list.
	ReadGroup(ctx context.Context, streamKey, group, consumer string, count int) ([]Envelope, error)

	// Ack removes the entry from the group's pending list. Acknowledging
	// an entry that is not pending is a no-op, not an error.
	Ack(ctx context.Context, streamKey, group, entryID string) error

	// Pending lists the group's pending entries.
	Pending(ctx context.Context, streamKey, group string) ([]PendingEntry, error)

	// Claim reassigns pending entries idle for at least minIdle to the
	// named consumer, bumping their delivery counts, and returns how
	// many were claimed. Claimed entries are redelivered on the
	// consumer's next ReadGroup.
	Claim(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration) (int, error)

	// Trim drops the oldest entries so the stream holds at most maxLen.
	// Best-effort: pending deliveries of trimmed entries remain
	// ackable and claimable.
	Trim(ctx context.Context, streamKey string, maxLen int) error

	// Info reports the stream length and, when group is non-empty, the
	// pending count per consumer.
	Info(ctx context.Context, streamKey, group string) (Info, error)
}
