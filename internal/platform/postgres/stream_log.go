package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nodpt/workflow-engine/internal/stream"
)

// StreamLog implements the stream.Log interface on PostgreSQL tables.
// Entry IDs are the decimal form of a global sequence, so ordering
// within a stream is strictly increasing and survives restarts, and
// the pending list carries a persisted delivery count per entry so
// dead-letter accounting survives a crash too. Pending rows keep their
// own copy of the entry fields, which is what keeps a claimed entry
// deliverable after the stream itself has been trimmed past it.
type StreamLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStreamLog creates a PostgreSQL-backed stream log. It needs a full
// *sql.DB rather than a DBTX because group reads run in their own
// transaction. If logger is nil, a default logger will be used.
func NewStreamLog(db *sql.DB, logger *slog.Logger) *StreamLog {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StreamLog{
		db:     db,
		logger: logger.With(slog.String("component", "stream_log")),
	}
}

// Ensure StreamLog implements stream.Log interface
var _ stream.Log = (*StreamLog)(nil)

// Add implements stream.Log.Add.
func (l *StreamLog) Add(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	if streamKey == "" {
		return "", stream.ErrEmptyStreamKey
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry fields: %w", err)
	}

	query := `
		INSERT INTO stream_entries (stream_key, fields)
		VALUES ($1, $2)
		RETURNING seq`

	var seq int64
	if err := l.db.QueryRowContext(ctx, query, streamKey, raw).Scan(&seq); err != nil {
		return "", fmt.Errorf("failed to append stream entry: %w", err)
	}
	return strconv.FormatInt(seq, 10), nil
}

// CreateGroup implements stream.Log.CreateGroup. Creating a group that
// already exists is a no-op; the stream itself needs no creation since
// it materializes on first Add.
func (l *StreamLog) CreateGroup(ctx context.Context, streamKey, group string) error {
	if streamKey == "" {
		return stream.ErrEmptyStreamKey
	}

	query := `
		INSERT INTO stream_groups (stream_key, group_name, cursor_seq)
		VALUES ($1, $2, 0)
		ON CONFLICT (stream_key, group_name) DO NOTHING`

	if _, err := l.db.ExecContext(ctx, query, streamKey, group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// ReadGroup implements stream.Log.ReadGroup. Redelivered entries come
// first, then new entries past the group cursor; both happen in one
// transaction so two consumers never receive the same entry.
func (l *StreamLog) ReadGroup(ctx context.Context, streamKey, group, consumer string, count int) ([]stream.Envelope, error) {
	if count <= 0 {
		return nil, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	envelopes, err := l.readClaimed(ctx, tx, streamKey, group, consumer, count)
	if err != nil {
		return nil, err
	}

	if remaining := count - len(envelopes); remaining > 0 {
		fresh, err := l.readNew(ctx, tx, streamKey, group, consumer, remaining)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, fresh...)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit read transaction: %w", err)
	}
	return envelopes, nil
}

// readClaimed delivers pending entries reassigned to this consumer by a
// claim and not yet redelivered.
func (l *StreamLog) readClaimed(ctx context.Context, tx *sql.Tx, streamKey, group, consumer string, count int) ([]stream.Envelope, error) {
	query := `
		SELECT entry_id, fields, delivery_count
		FROM stream_pending
		WHERE stream_key = $1 AND group_name = $2 AND consumer = $3 AND redeliver
		ORDER BY entry_seq ASC
		LIMIT $4
		FOR UPDATE`

	rows, err := tx.QueryContext(ctx, query, streamKey, group, consumer, count)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed entries: %w", err)
	}
	envelopes, err := scanEnvelopes(rows, streamKey)
	if err != nil {
		return nil, err
	}
	if len(envelopes) == 0 {
		return nil, nil
	}

	ids := make([]string, len(envelopes))
	for i, env := range envelopes {
		ids[i] = env.EntryID
	}
	mark := `
		UPDATE stream_pending
		SET redeliver = FALSE, idle_since = now()
		WHERE stream_key = $1 AND group_name = $2 AND entry_id = ANY($3)`
	if _, err := tx.ExecContext(ctx, mark, streamKey, group, ids); err != nil {
		return nil, fmt.Errorf("failed to mark entries redelivered: %w", err)
	}

	return envelopes, nil
}

// readNew delivers entries past the group cursor and moves the cursor.
func (l *StreamLog) readNew(ctx context.Context, tx *sql.Tx, streamKey, group, consumer string, count int) ([]stream.Envelope, error) {
	var cursor int64
	err := tx.QueryRowContext(ctx, `
		SELECT cursor_seq
		FROM stream_groups
		WHERE stream_key = $1 AND group_name = $2
		FOR UPDATE`, streamKey, group).Scan(&cursor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s on %s", stream.ErrGroupNotFound, group, streamKey)
		}
		return nil, fmt.Errorf("failed to lock group cursor: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, fields
		FROM stream_entries
		WHERE stream_key = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3`, streamKey, cursor, count)
	if err != nil {
		return nil, fmt.Errorf("failed to read new entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type newEntry struct {
		seq    int64
		fields []byte
	}
	var entries []newEntry
	for rows.Next() {
		var e newEntry
		if err := rows.Scan(&e.seq, &e.fields); err != nil {
			return nil, fmt.Errorf("failed to scan stream entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read new entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	envelopes := make([]stream.Envelope, 0, len(entries))
	for _, e := range entries {
		fields := make(map[string]string)
		if err := json.Unmarshal(e.fields, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode entry fields: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO stream_pending (stream_key, group_name, entry_id, entry_seq, consumer, fields, delivery_count, redeliver, idle_since)
			VALUES ($1, $2, $3, $4, $5, $6, 1, FALSE, now())`,
			streamKey, group, strconv.FormatInt(e.seq, 10), e.seq, consumer, e.fields)
		if err != nil {
			return nil, fmt.Errorf("failed to record pending entry: %w", err)
		}

		envelopes = append(envelopes, stream.Envelope{
			EntryID:       strconv.FormatInt(e.seq, 10),
			StreamKey:     streamKey,
			Fields:        fields,
			DeliveryCount: 1,
		})
	}

	last := entries[len(entries)-1].seq
	_, err = tx.ExecContext(ctx, `
		UPDATE stream_groups
		SET cursor_seq = $3
		WHERE stream_key = $1 AND group_name = $2`, streamKey, group, last)
	if err != nil {
		return nil, fmt.Errorf("failed to advance group cursor: %w", err)
	}

	return envelopes, nil
}

// scanEnvelopes reads (entry_id, fields, delivery_count) rows.
func scanEnvelopes(rows *sql.Rows, streamKey string) ([]stream.Envelope, error) {
	defer func() { _ = rows.Close() }()

	var envelopes []stream.Envelope
	for rows.Next() {
		var (
			env stream.Envelope
			raw []byte
		)
		if err := rows.Scan(&env.EntryID, &raw, &env.DeliveryCount); err != nil {
			return nil, fmt.Errorf("failed to scan pending entry: %w", err)
		}
		env.StreamKey = streamKey
		env.Fields = make(map[string]string)
		if err := json.Unmarshal(raw, &env.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode entry fields: %w", err)
		}
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending entries: %w", err)
	}
	return envelopes, nil
}

// Ack implements stream.Log.Ack. Acknowledging an entry that is not
// pending is a no-op.
func (l *StreamLog) Ack(ctx context.Context, streamKey, group, entryID string) error {
	query := `
		DELETE FROM stream_pending
		WHERE stream_key = $1 AND group_name = $2 AND entry_id = $3`

	if _, err := l.db.ExecContext(ctx, query, streamKey, group, entryID); err != nil {
		return fmt.Errorf("failed to acknowledge entry: %w", err)
	}
	return nil
}

// Pending implements stream.Log.Pending.
func (l *StreamLog) Pending(ctx context.Context, streamKey, group string) ([]stream.PendingEntry, error) {
	query := `
		SELECT entry_id, consumer, delivery_count, idle_since
		FROM stream_pending
		WHERE stream_key = $1 AND group_name = $2
		ORDER BY entry_seq ASC`

	rows, err := l.db.QueryContext(ctx, query, streamKey, group)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []stream.PendingEntry
	for rows.Next() {
		var p stream.PendingEntry
		if err := rows.Scan(&p.EntryID, &p.Consumer, &p.DeliveryCount, &p.IdleSince); err != nil {
			return nil, fmt.Errorf("failed to scan pending entry: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	return pending, nil
}

// Claim implements stream.Log.Claim. Reassignment bumps the persisted
// delivery count, so retry accounting carries across processes.
func (l *StreamLog) Claim(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration) (int, error) {
	query := `
		UPDATE stream_pending
		SET consumer = $3, delivery_count = delivery_count + 1, redeliver = TRUE, idle_since = now()
		WHERE stream_key = $1 AND group_name = $2
		  AND idle_since <= now() - ($4 * interval '1 millisecond')`

	result, err := l.db.ExecContext(ctx, query, streamKey, group, consumer, minIdle.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending entries: %w", err)
	}

	claimed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count claimed entries: %w", err)
	}
	if claimed > 0 {
		l.logger.Info("claimed idle pending entries",
			"stream", streamKey,
			"group", group,
			"consumer", consumer,
			"claimed", claimed)
	}
	return int(claimed), nil
}

// Trim implements stream.Log.Trim. Pending rows hold their own field
// copies, so trimming never breaks in-flight deliveries.
func (l *StreamLog) Trim(ctx context.Context, streamKey string, maxLen int) error {
	if maxLen < 0 {
		return nil
	}
	if maxLen == 0 {
		_, err := l.db.ExecContext(ctx,
			`DELETE FROM stream_entries WHERE stream_key = $1`, streamKey)
		if err != nil {
			return fmt.Errorf("failed to trim stream: %w", err)
		}
		return nil
	}

	query := `
		DELETE FROM stream_entries
		WHERE stream_key = $1
		  AND seq < (
			SELECT seq FROM stream_entries
			WHERE stream_key = $1
			ORDER BY seq DESC
			OFFSET $2 LIMIT 1
		  )`

	if _, err := l.db.ExecContext(ctx, query, streamKey, maxLen-1); err != nil {
		return fmt.Errorf("failed to trim stream: %w", err)
	}
	return nil
}

// Info implements stream.Log.Info. A stream is known once it holds
// entries or a consumer group; anything else reports
// stream.ErrStreamNotFound, matching the in-memory log.
func (l *StreamLog) Info(ctx context.Context, streamKey, group string) (stream.Info, error) {
	var (
		info      stream.Info
		hasGroups bool
	)

	err := l.db.QueryRowContext(ctx, `
		SELECT count(*),
		       EXISTS (SELECT 1 FROM stream_groups WHERE stream_key = $1)
		FROM stream_entries
		WHERE stream_key = $1`, streamKey).Scan(&info.Length, &hasGroups)
	if err != nil {
		return stream.Info{}, fmt.Errorf("failed to count stream entries: %w", err)
	}
	if info.Length == 0 && !hasGroups {
		return stream.Info{}, stream.ErrStreamNotFound
	}

	if group == "" {
		return info, nil
	}

	var groupExists bool
	err = l.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM stream_groups
			WHERE stream_key = $1 AND group_name = $2)`, streamKey, group).Scan(&groupExists)
	if err != nil {
		return stream.Info{}, fmt.Errorf("failed to look up consumer group: %w", err)
	}
	if !groupExists {
		return stream.Info{}, fmt.Errorf("%w: %s on %s", stream.ErrGroupNotFound, group, streamKey)
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT consumer, count(*)
		FROM stream_pending
		WHERE stream_key = $1 AND group_name = $2
		GROUP BY consumer`, streamKey, group)
	if err != nil {
		return stream.Info{}, fmt.Errorf("failed to count pending entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	info.PendingByConsumer = make(map[string]int)
	for rows.Next() {
		var (
			consumer string
			count    int
		)
		if err := rows.Scan(&consumer, &count); err != nil {
			return stream.Info{}, fmt.Errorf("failed to scan pending count: %w", err)
		}
		info.PendingByConsumer[consumer] = count
	}
	if err := rows.Err(); err != nil {
		return stream.Info{}, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return info, nil
}
