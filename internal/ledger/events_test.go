package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/jsonx"
)

func TestNATSPublisherSubject(t *testing.T) {
	p := NewNATSPublisher(nil, "", zaptest.NewLogger(t))
	assert.Equal(t, "circles.assignment.u1", p.Subject("u1"))

	p = NewNATSPublisher(nil, "audit.circles", zaptest.NewLogger(t))
	assert.Equal(t, "audit.circles.u9", p.Subject("u9"))
}

func TestNATSPublisherDelivers(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("circles.assignment.u1")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	conf := 71
	p := NewNATSPublisher(nc, "", zaptest.NewLogger(t))
	ev := Event{Type: EventAccepted, Record: circles.AssignmentRecord{
		ID: "r1", UserID: "u1", ContactID: "c1", ToCircle: circles.CircleClose,
		AssignedBy: circles.AssignedByAI, Confidence: &conf, Timestamp: time.Now().UTC(),
	}}
	require.NoError(t, p.Publish(context.Background(), ev))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var got Event
	require.NoError(t, jsonx.Unmarshal(msg.Data, &got))
	assert.Equal(t, EventAccepted, got.Type)
	assert.Equal(t, "c1", got.Record.ContactID)
	require.NotNil(t, got.Record.Confidence)
	assert.Equal(t, 71, *got.Record.Confidence)
}
