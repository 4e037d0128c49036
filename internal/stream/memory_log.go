package stream

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryLog is a process-local Log implementation. It backs tests and
// single-process deployments; multi-worker deployments use the
// Postgres-backed implementation in internal/platform/postgres.
//
// Concurrency: a single mutex guards all streams. Operations are short
// (no I/O), so contention is not a concern at the batch sizes the
// listener uses.
type MemoryLog struct {
	mu      sync.Mutex
	streams map[string]*memoryStream
	clock   func() time.Time
}

type memoryStream struct {
	entries []Entry
	lastMs  int64
	lastSeq int64
	groups  map[string]*memoryGroup
}

type memoryGroup struct {
	// cursor is the last entry ID delivered to the group; "" delivers
	// from the start of the stream.
	cursor  string
	pending map[string]*memoryPending
}

type memoryPending struct {
	consumer      string
	deliveryCount int
	idleSince     time.Time
	// redeliver marks an entry reassigned by Claim and not yet handed
	// back out by ReadGroup.
	redeliver bool
	// fields is a copy of the entry content so claimed entries survive
	// trimming of the underlying stream.
	fields map[string]string
}

// NewMemoryLog creates an empty in-memory stream log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		streams: make(map[string]*memoryStream),
		clock:   time.Now,
	}
}

// Add implements Log.Add.
func (l *MemoryLog) Add(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	if streamKey == "" {
		return "", ErrEmptyStreamKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stream(streamKey)

	ms := l.clock().UnixMilli()
	if ms <= s.lastMs {
		ms = s.lastMs
		s.lastSeq++
	} else {
		s.lastMs = ms
		s.lastSeq = 0
	}
	id := fmt.Sprintf("%d-%d", ms, s.lastSeq)

	s.entries = append(s.entries, Entry{ID: id, Fields: copyFields(fields)})
	return id, nil
}

// CreateGroup implements Log.CreateGroup. New groups start at the
// beginning of the stream.
func (l *MemoryLog) CreateGroup(ctx context.Context, streamKey, group string) error {
	if streamKey == "" {
		return ErrEmptyStreamKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stream(streamKey)
	if _, exists := s.groups[group]; !exists {
		s.groups[group] = &memoryGroup{pending: make(map[string]*memoryPending)}
	}
	return nil
}

// ReadGroup implements Log.ReadGroup.
func (l *MemoryLog) ReadGroup(ctx context.Context, streamKey, group, consumer string, count int) ([]Envelope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, g, err := l.group(streamKey, group)
	if err != nil {
		return nil, err
	}

	now := l.clock()
	var out []Envelope

	// Claimed entries waiting for redelivery come first, oldest id first.
	var claimed []string
	for id, p := range g.pending {
		if p.redeliver && p.consumer == consumer {
			claimed = append(claimed, id)
		}
	}
	sort.Slice(claimed, func(i, j int) bool { return compareIDs(claimed[i], claimed[j]) < 0 })
	for _, id := range claimed {
		if len(out) >= count {
			return out, nil
		}
		p := g.pending[id]
		p.redeliver = false
		p.idleSince = now
		out = append(out, Envelope{
			EntryID:       id,
			StreamKey:     streamKey,
			Fields:        copyFields(p.fields),
			DeliveryCount: p.deliveryCount,
		})
	}

	// Then new entries past the group cursor.
	for _, e := range s.entries {
		if len(out) >= count {
			break
		}
		if g.cursor != "" && compareIDs(e.ID, g.cursor) <= 0 {
			continue
		}
		g.cursor = e.ID
		g.pending[e.ID] = &memoryPending{
			consumer:      consumer,
			deliveryCount: 1,
			idleSince:     now,
			fields:        copyFields(e.Fields),
		}
		out = append(out, Envelope{
			EntryID:       e.ID,
			StreamKey:     streamKey,
			Fields:        copyFields(e.Fields),
			DeliveryCount: 1,
		})
	}

	return out, nil
}

// Ack implements Log.Ack. Acknowledging an unknown entry is a no-op.
func (l *MemoryLog) Ack(ctx context.Context, streamKey, group, entryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, g, err := l.group(streamKey, group)
	if err != nil {
		return err
	}

	delete(g.pending, entryID)
	return nil
}

// Pending implements Log.Pending.
func (l *MemoryLog) Pending(ctx context.Context, streamKey, group string) ([]PendingEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, g, err := l.group(streamKey, group)
	if err != nil {
		return nil, err
	}

	out := make([]PendingEntry, 0, len(g.pending))
	for id, p := range g.pending {
		out = append(out, PendingEntry{
			EntryID:       id,
			Consumer:      p.consumer,
			DeliveryCount: p.deliveryCount,
			IdleSince:     p.idleSince,
		})
	}
	sort.Slice(out, func(i, j int) bool { return compareIDs(out[i].EntryID, out[j].EntryID) < 0 })
	return out, nil
}

// Claim implements Log.Claim.
func (l *MemoryLog) Claim(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, g, err := l.group(streamKey, group)
	if err != nil {
		return 0, err
	}

	now := l.clock()
	claimed := 0
	for _, p := range g.pending {
		if now.Sub(p.idleSince) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveryCount++
		p.idleSince = now
		p.redeliver = true
		claimed++
	}
	return claimed, nil
}

// Trim implements Log.Trim.
func (l *MemoryLog) Trim(ctx context.Context, streamKey string, maxLen int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, exists := l.streams[streamKey]
	if !exists {
		return ErrStreamNotFound
	}

	if excess := len(s.entries) - maxLen; excess > 0 {
		s.entries = append([]Entry(nil), s.entries[excess:]...)
	}
	return nil
}

// Info implements Log.Info.
func (l *MemoryLog) Info(ctx context.Context, streamKey, group string) (Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, exists := l.streams[streamKey]
	if !exists {
		return Info{}, ErrStreamNotFound
	}

	info := Info{Length: len(s.entries)}
	if group != "" {
		g, exists := s.groups[group]
		if !exists {
			return Info{}, fmt.Errorf("%w: %q", ErrGroupNotFound, group)
		}
		info.PendingByConsumer = make(map[string]int)
		for _, p := range g.pending {
			info.PendingByConsumer[p.consumer]++
		}
	}
	return info, nil
}

// stream returns the named stream, creating it if missing.
// Caller must hold l.mu.
func (l *MemoryLog) stream(streamKey string) *memoryStream {
	s, exists := l.streams[streamKey]
	if !exists {
		s = &memoryStream{groups: make(map[string]*memoryGroup)}
		l.streams[streamKey] = s
	}
	return s
}

// group resolves a (stream, group) pair. Caller must hold l.mu.
func (l *MemoryLog) group(streamKey, group string) (*memoryStream, *memoryGroup, error) {
	s, exists := l.streams[streamKey]
	if !exists {
		return nil, nil, fmt.Errorf("%w: %q", ErrStreamNotFound, streamKey)
	}
	g, exists := s.groups[group]
	if !exists {
		return nil, nil, fmt.Errorf("%w: %q", ErrGroupNotFound, group)
	}
	return s, g, nil
}

// compareIDs orders entry IDs of the form "<ms>-<seq>" numerically.
func compareIDs(a, b string) int {
	ams, aseq := splitID(a)
	bms, bseq := splitID(b)
	switch {
	case ams != bms:
		if ams < bms {
			return -1
		}
		return 1
	case aseq != bseq:
		if aseq < bseq {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func splitID(id string) (int64, int64) {
	ms, seq, _ := strings.Cut(id, "-")
	m, _ := strconv.ParseInt(ms, 10, 64)
	s, _ := strconv.ParseInt(seq, 10, 64)
	return m, s
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
