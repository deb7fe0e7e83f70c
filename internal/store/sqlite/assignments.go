package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/circle-kernel/internal/circles"
)

// Assignments returns the ledger view of the store. Its FindByContactID reads
// assignment history rather than interactions.
func (s *Store) Assignments() *Assignments {
	return &Assignments{s: s}
}

// Assignments implements circles.AssignmentStore and ledger.Committer.
type Assignments struct {
	s *Store
}

func (a *Assignments) Create(ctx context.Context, record circles.AssignmentRecord) error {
	return insertAssignment(ctx, a.s.db, record)
}

// CommitAssignment appends the record and moves the contact's circle in one
// transaction.
func (a *Assignments) CommitAssignment(ctx context.Context, record circles.AssignmentRecord) error {
	tx, err := a.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertAssignment(ctx, tx, record); err != nil {
		return err
	}
	if err := a.s.updateContact(ctx, tx, record.UserID, record.ContactID, "circle = ?", string(record.ToCircle)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit assignment %s: %w", record.ID, err)
	}
	return nil
}

// FindByContactID returns the contact's records in reverse commit order.
// Timestamps are not consulted, since the clock may step backwards.
func (a *Assignments) FindByContactID(ctx context.Context, userID, contactID string) ([]circles.AssignmentRecord, error) {
	return a.query(ctx, `WHERE user_id = ? AND contact_id = ?`, []any{userID, contactID}, 0)
}

func (a *Assignments) FindByUserID(ctx context.Context, userID string, limit int) ([]circles.AssignmentRecord, error) {
	return a.query(ctx, `WHERE user_id = ?`, []any{userID}, limit)
}

// GetCircleDistribution counts live, non-archived contacts per circle.
func (a *Assignments) GetCircleDistribution(ctx context.Context, userID string) (circles.CircleDistribution, error) {
	rows, err := a.s.db.QueryContext(ctx, `
		SELECT circle, COUNT(*) FROM contacts
		WHERE user_id = ? AND archived = 0
		GROUP BY circle`, userID)
	if err != nil {
		return circles.CircleDistribution{}, fmt.Errorf("sqlite: circle distribution: %w", err)
	}
	defer rows.Close()

	d := circles.NewCircleDistribution()
	for rows.Next() {
		var (
			circle string
			n      int
		)
		if err := rows.Scan(&circle, &n); err != nil {
			return circles.CircleDistribution{}, fmt.Errorf("sqlite: scan distribution: %w", err)
		}
		c := circles.Circle(circle)
		if c == circles.CircleNone {
			d.Uncategorized += n
		} else {
			d.Counts[c] += n
		}
		d.Total += n
	}
	return d, rows.Err()
}

func (a *Assignments) query(ctx context.Context, where string, args []any, limit int) ([]circles.AssignmentRecord, error) {
	q := `SELECT id, user_id, contact_id, from_circle, to_circle, assigned_by, confidence, reason, timestamp
		FROM assignments ` + where + ` ORDER BY seq DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := a.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list assignments: %w", err)
	}
	defer rows.Close()

	var out []circles.AssignmentRecord
	for rows.Next() {
		var (
			r          circles.AssignmentRecord
			from, to   string
			by         string
			confidence sql.NullInt64
			ts         int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.ContactID, &from, &to, &by, &confidence, &r.Reason, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan assignment: %w", err)
		}
		r.FromCircle = circles.Circle(from)
		r.ToCircle = circles.Circle(to)
		r.AssignedBy = circles.AssignedBy(by)
		if confidence.Valid {
			c := int(confidence.Int64)
			r.Confidence = &c
		}
		r.Timestamp = fromNanos(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func insertAssignment(ctx context.Context, db execer, r circles.AssignmentRecord) error {
	var confidence any
	if r.Confidence != nil {
		confidence = *r.Confidence
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO assignments (id, user_id, contact_id, from_circle, to_circle,
			assigned_by, confidence, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ContactID, string(r.FromCircle), string(r.ToCircle),
		string(r.AssignedBy), confidence, r.Reason, toNanos(r.Timestamp))
	if err != nil {
		return fmt.Errorf("sqlite: insert assignment %s: %w", r.ID, err)
	}
	return nil
}
