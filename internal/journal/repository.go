package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ferrobot-core/internal/device"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// timeLayout is fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Repository persists journal entries and mode transitions.
type Repository interface {
	Append(ctx context.Context, entries []Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	RecordMode(ctx context.Context, change ModeChange) error
	Modes(ctx context.Context, limit int) ([]ModeChange, error)
}

// SQLiteRepository stores the journal in the command_journal and
// mode_history tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts entries in one transaction. IDs and timestamps are
// generated where empty.
func (r *SQLiteRepository) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning journal transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO command_journal (id, device_kind, device_id, tag, source, payload, response, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing journal insert: %w", err)
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.RecordedAt.IsZero() {
			e.RecordedAt = time.Now().UTC()
		}
		payload := e.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Device.Kind.String(), int(e.Device.ID), int(e.Tag), string(e.Source),
			payload, nullableString(e.Response), e.RecordedAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("inserting journal entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing journal entries: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Device != nil {
		conditions = append(conditions, "device_kind = ?", "device_id = ?")
		args = append(args, filter.Device.Kind.String(), int(filter.Device.ID))
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, string(filter.Source))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM command_journal " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := "SELECT id, device_kind, device_id, tag, source, payload, response, recorded_at FROM command_journal " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY recorded_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			kind       string
			id, tag    int
			source     string
			response   sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &kind, &id, &tag, &source, &e.Payload, &response, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}

		k, err := device.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("journal entry %s: %w", e.ID, err)
		}
		e.Device = device.Identity{Kind: k, ID: uint8(id)} //nolint:gosec // column holds a uint8
		e.Tag = uint8(tag)                                 //nolint:gosec // column holds a uint8
		e.Source = Source(source)
		if response.Valid {
			e.Response = response.String
		}
		if e.RecordedAt, err = time.Parse(timeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", recordedAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// RecordMode appends a mode transition.
func (r *SQLiteRepository) RecordMode(ctx context.Context, change ModeChange) error {
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO mode_history (mode, changed_at) VALUES (?, ?)",
		change.Mode.String(), change.ChangedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting mode change: %w", err)
	}
	return nil
}

// Modes returns up to limit transitions, most recent first.
func (r *SQLiteRepository) Modes(ctx context.Context, limit int) ([]ModeChange, error) {
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT seq, mode, changed_at FROM mode_history ORDER BY seq DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying mode history: %w", err)
	}
	defer rows.Close()

	changes := []ModeChange{}
	for rows.Next() {
		var (
			c         ModeChange
			mode      string
			changedAt string
		)
		if err := rows.Scan(&c.Seq, &mode, &changedAt); err != nil {
			return nil, fmt.Errorf("scanning mode change: %w", err)
		}
		if c.Mode, err = device.ParseMode(mode); err != nil {
			return nil, err
		}
		if c.ChangedAt, err = time.Parse(timeLayout, changedAt); err != nil {
			return nil, fmt.Errorf("parsing mode timestamp %q: %w", changedAt, err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mode history: %w", err)
	}
	return changes, nil
}
