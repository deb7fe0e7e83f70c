// Package sqlite persists contacts, interactions, calendar events and the
// assignment ledger in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/jsonx"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store implements circles.ContactStore, circles.InteractionStore and
// circles.CalendarSource. Timestamps are stored as UTC unix nanoseconds.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, logger: logger.Named("sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	s.logger.Info("Store opened", zap.String("path", path))
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS contacts (
			user_id         TEXT    NOT NULL,
			id              TEXT    NOT NULL,
			name            TEXT    NOT NULL DEFAULT '',
			email           TEXT    NOT NULL DEFAULT '',
			phone           TEXT    NOT NULL DEFAULT '',
			location        TEXT    NOT NULL DEFAULT '',
			notes           TEXT    NOT NULL DEFAULT '',
			social_profiles TEXT,
			circle          TEXT    NOT NULL DEFAULT '',
			archived        INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, id)
		);

		CREATE TABLE IF NOT EXISTS interactions (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT    NOT NULL DEFAULT '',
			user_id    TEXT    NOT NULL,
			contact_id TEXT    NOT NULL,
			timestamp  INTEGER NOT NULL,
			channel    TEXT    NOT NULL,
			note       TEXT    NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_interactions_contact
			ON interactions(user_id, contact_id, timestamp);

		CREATE TABLE IF NOT EXISTS calendar_events (
			user_id   TEXT    NOT NULL,
			id        TEXT    NOT NULL,
			start     INTEGER NOT NULL,
			attendees TEXT,
			PRIMARY KEY (user_id, id)
		);

		CREATE INDEX IF NOT EXISTS idx_calendar_start ON calendar_events(user_id, start);

		CREATE TABLE IF NOT EXISTS assignments (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT    NOT NULL UNIQUE,
			user_id     TEXT    NOT NULL,
			contact_id  TEXT    NOT NULL,
			from_circle TEXT    NOT NULL DEFAULT '',
			to_circle   TEXT    NOT NULL,
			assigned_by TEXT    NOT NULL,
			confidence  INTEGER,
			reason      TEXT    NOT NULL DEFAULT '',
			timestamp   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_assignments_contact
			ON assignments(user_id, contact_id);
		CREATE INDEX IF NOT EXISTS idx_assignments_user
			ON assignments(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Seeding ─────────────────────────────────────────────────────────────────

// PutContact inserts or replaces a contact.
func (s *Store) PutContact(ctx context.Context, c circles.Contact) error {
	profiles, err := encodeJSON(c.SocialProfiles)
	if err != nil {
		return fmt.Errorf("sqlite: encode social profiles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contacts (user_id, id, name, email, phone, location, notes,
			social_profiles, circle, archived, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			name = excluded.name, email = excluded.email, phone = excluded.phone,
			location = excluded.location, notes = excluded.notes,
			social_profiles = excluded.social_profiles, circle = excluded.circle,
			archived = excluded.archived, created_at = excluded.created_at`,
		c.UserID, c.ID, c.Name, c.Email, c.Phone, c.Location, c.Notes,
		profiles, string(c.Circle), boolInt(c.Archived), toNanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: put contact %s: %w", c.ID, err)
	}
	return nil
}

// AddInteraction appends to a contact's history.
func (s *Store) AddInteraction(ctx context.Context, in circles.InteractionLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, user_id, contact_id, timestamp, channel, note)
		VALUES (?, ?, ?, ?, ?, ?)`,
		in.ID, in.UserID, in.ContactID, toNanos(in.Timestamp), string(in.Channel), in.Note)
	if err != nil {
		return fmt.Errorf("sqlite: add interaction for %s: %w", in.ContactID, err)
	}
	return nil
}

// AddCalendarEvent inserts or replaces an event on a user's calendar.
func (s *Store) AddCalendarEvent(ctx context.Context, userID string, ev circles.CalendarEvent) error {
	attendees, err := encodeJSON(ev.Attendees)
	if err != nil {
		return fmt.Errorf("sqlite: encode attendees: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO calendar_events (user_id, id, start, attendees)
		VALUES (?, ?, ?, ?)`,
		userID, ev.ID, toNanos(ev.Start), attendees)
	if err != nil {
		return fmt.Errorf("sqlite: add calendar event %s: %w", ev.ID, err)
	}
	return nil
}

// ─── Contacts ────────────────────────────────────────────────────────────────

const contactColumns = `id, user_id, name, email, phone, location, notes,
	social_profiles, circle, archived, created_at`

func (s *Store) FindByID(ctx context.Context, userID, contactID string) (*circles.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE user_id = ? AND id = ?`, userID, contactID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %s: %w", contactID, circles.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find contact %s: %w", contactID, err)
	}
	return &c, nil
}

// FindAll returns matching contacts ordered by ID.
func (s *Store) FindAll(ctx context.Context, userID string, filter circles.ContactFilter) ([]circles.Contact, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []any{userID}
	)
	if !filter.IncludeArchived {
		where = append(where, "archived = 0")
	}
	if filter.Circle != nil {
		where = append(where, "circle = ?")
		args = append(args, string(*filter.Circle))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE `+strings.Join(where, " AND ")+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list contacts: %w", err)
	}
	defer rows.Close()

	var out []circles.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Archive(ctx context.Context, userID, contactID string) error {
	return s.updateContact(ctx, s.db, userID, contactID, "archived = 1")
}

func (s *Store) Unarchive(ctx context.Context, userID, contactID string) error {
	return s.updateContact(ctx, s.db, userID, contactID, "archived = 0")
}

func (s *Store) UpdateCircle(ctx context.Context, userID, contactID string, circle circles.Circle) error {
	return s.updateContact(ctx, s.db, userID, contactID, "circle = ?", string(circle))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) updateContact(ctx context.Context, db execer, userID, contactID, set string, args ...any) error {
	args = append(args, userID, contactID)
	res, err := db.ExecContext(ctx, `UPDATE contacts SET `+set+` WHERE user_id = ? AND id = ?`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update contact %s: %w", contactID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update contact %s: %w", contactID, err)
	}
	if n == 0 {
		return fmt.Errorf("contact %s: %w", contactID, circles.ErrNotFound)
	}
	return nil
}

// ─── Interactions & calendar ─────────────────────────────────────────────────

// FindByContactID returns the contact's interactions newest first.
func (s *Store) FindByContactID(ctx context.Context, userID, contactID string) ([]circles.InteractionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, contact_id, timestamp, channel, note
		FROM interactions
		WHERE user_id = ? AND contact_id = ?
		ORDER BY timestamp DESC, seq ASC`, userID, contactID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list interactions: %w", err)
	}
	defer rows.Close()

	var out []circles.InteractionLog
	for rows.Next() {
		var (
			in      circles.InteractionLog
			ts      int64
			channel string
		)
		if err := rows.Scan(&in.ID, &in.UserID, &in.ContactID, &ts, &channel, &in.Note); err != nil {
			return nil, fmt.Errorf("sqlite: scan interaction: %w", err)
		}
		in.Timestamp = fromNanos(ts)
		in.Channel = circles.Channel(channel)
		out = append(out, in)
	}
	return out, rows.Err()
}

// Events returns the user's events starting in [from, to), earliest first.
func (s *Store) Events(ctx context.Context, userID string, from, to time.Time) ([]circles.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start, attendees FROM calendar_events
		WHERE user_id = ? AND start >= ? AND start < ?
		ORDER BY start, id`, userID, toNanos(from), toNanos(to))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list calendar events: %w", err)
	}
	defer rows.Close()

	var out []circles.CalendarEvent
	for rows.Next() {
		var (
			ev        circles.CalendarEvent
			start     int64
			attendees sql.NullString
		)
		if err := rows.Scan(&ev.ID, &start, &attendees); err != nil {
			return nil, fmt.Errorf("sqlite: scan calendar event: %w", err)
		}
		ev.Start = fromNanos(start)
		if attendees.Valid && attendees.String != "" {
			if err := jsonx.Unmarshal([]byte(attendees.String), &ev.Attendees); err != nil {
				return nil, fmt.Errorf("sqlite: decode attendees of %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(r rowScanner) (circles.Contact, error) {
	var (
		c        circles.Contact
		profiles sql.NullString
		circle   string
		archived int
		created  int64
	)
	err := r.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Location, &c.Notes,
		&profiles, &circle, &archived, &created)
	if err != nil {
		return circles.Contact{}, err
	}
	if profiles.Valid && profiles.String != "" {
		if err := jsonx.Unmarshal([]byte(profiles.String), &c.SocialProfiles); err != nil {
			return circles.Contact{}, fmt.Errorf("decode social profiles of %s: %w", c.ID, err)
		}
	}
	c.Circle = circles.Circle(circle)
	c.Archived = archived != 0
	c.CreatedAt = fromNanos(created)
	return c, nil
}

// encodeJSON returns NULL for nil or empty values.
func encodeJSON(v any) (any, error) {
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case []circles.Attendee:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := jsonx.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
