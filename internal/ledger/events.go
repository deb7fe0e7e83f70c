package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/jsonx"
)

// EventType classifies a committed assignment.
type EventType string

const (
	EventAssigned   EventType = "ASSIGNED"
	EventAccepted   EventType = "SUGGESTION_ACCEPTED"
	EventOverridden EventType = "SUGGESTION_OVERRIDDEN"
)

// Event is emitted once per committed assignment record.
type Event struct {
	Type   EventType                `json:"type"`
	Record circles.AssignmentRecord `json:"record"`
	// Suggested is the AI pick the user rejected, for overrides only.
	Suggested circles.Circle `json:"suggested,omitempty"`
}

// EventPublisher delivers assignment events to interested parties.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// DefaultSubjectPrefix is the NATS subject root for assignment events.
const DefaultSubjectPrefix = "circles.assignment"

// NATSPublisher publishes events on "<prefix>.<userID>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher creates a publisher on an established connection.
func NewNATSPublisher(conn *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger.Named("events")}
}

// Subject returns the subject events for userID are published on.
func (p *NATSPublisher) Subject(userID string) string {
	return p.prefix + "." + userID
}

// Publish encodes the event and hands it to the connection.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := jsonx.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode assignment event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event.Record.UserID), data); err != nil {
		return fmt.Errorf("failed to publish assignment event: %w", err)
	}
	return nil
}

// LogPublisher writes an audit line per event. It is the fallback when no
// message bus is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("audit")}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	r := event.Record
	fields := []zap.Field{
		zap.String("event_id", r.ID),
		zap.String("type", string(event.Type)),
		zap.String("user", r.UserID),
		zap.String("contact", r.ContactID),
		zap.String("from", string(r.FromCircle)),
		zap.String("to", string(r.ToCircle)),
		zap.String("assigned_by", string(r.AssignedBy)),
		zap.String("reason", r.Reason),
		zap.Time("at", r.Timestamp.UTC().Truncate(time.Millisecond)),
	}
	if r.Confidence != nil {
		fields = append(fields, zap.Int("confidence", *r.Confidence))
	}
	p.logger.Info("AUDIT", fields...)
	return nil
}

// MultiPublisher fans an event out to several publishers and returns the
// first error.
type MultiPublisher []EventPublisher

// Publish delivers to every publisher even if one fails.
func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
