// Package journal persists a session's change notifications to the events
// table so the event log survives restarts and can be paged over HTTP.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/protocol"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeLayout is fixed-width so the at column sorts and compares as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one journaled event.
type Entry struct {
	ID        int64  `json:"id"`
	Namespace string `json:"namespace"`
	Role      string `json:"role"`
	event.Event
}

// Filter controls which entries List returns.
type Filter struct {
	Namespace string     // required
	Type      event.Type // optional
	Name      string     // optional: entity name
	Since     time.Time  // optional: only entries at or after
	Limit     int        // default 50, max 200
	Offset    int
}

// ListResult is one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and pages journal entries.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository keeps entries in the events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts entry and sets its ID.
func (r *SQLiteRepository) Append(ctx context.Context, entry *Entry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO events (namespace, role, type, kind, name, presence, pending,
		                     expired, subscribed, valid, sender, topic, body, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Namespace, entry.Role, string(entry.Type),
		nullableString(string(entry.Kind)), nullableString(entry.Name),
		nullableString(string(entry.Presence)), entry.Pending, entry.Expired,
		boolInt(entry.Subscribed), boolInt(entry.Valid),
		nullableString(entry.From), nullableString(entry.Topic), nullableString(entry.Text),
		entry.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading journal entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// nullableString returns nil for empty strings so the column stays NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
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

	conditions := []string{"namespace = ?"}
	args := []any{filter.Namespace}

	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Name != "" {
		conditions = append(conditions, "name = ?")
		args = append(args, filter.Name)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := "SELECT COUNT(*) FROM events " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := `SELECT id, namespace, role, type, kind, name, presence, pending, expired,
	                 subscribed, valid, sender, topic, body, at
	          FROM events ` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?` //nolint:gosec // WHERE built from parameterised conditions
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
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

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                                      Entry
		typ, at                                string
		kind, name, presence, from, topic, txt sql.NullString
		subscribed, valid                      int
	)
	if err := rows.Scan(&e.ID, &e.Namespace, &e.Role, &typ, &kind, &name, &presence,
		&e.Pending, &e.Expired, &subscribed, &valid, &from, &topic, &txt, &at); err != nil {
		return Entry{}, fmt.Errorf("scanning journal entry: %w", err)
	}

	e.Type = event.Type(typ)
	e.Kind = protocol.Kind(kind.String)
	e.Name = name.String
	e.Presence = protocol.Status(presence.String)
	e.Subscribed = subscribed != 0
	e.Valid = valid != 0
	e.From = from.String
	e.Topic = topic.String
	e.Text = txt.String

	t, err := time.Parse(timeLayout, at)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing journal timestamp %q: %w", at, err)
	}
	e.At = t
	return e, nil
}
