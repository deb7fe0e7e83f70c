package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/circle-kernel/internal/capacity"
	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/config"
	"github.com/circle-kernel/internal/jsonx"
	"github.com/circle-kernel/internal/kernel"
	"github.com/circle-kernel/internal/store/memstore"
	"github.com/circle-kernel/internal/store/sqlite"
)

const fixtureJSON = `{
  "user_id": "u1",
  "contacts": [
    {"id": "ann", "name": "Ann", "email": "ann@example.com", "created_at": "2022-01-10T00:00:00Z"},
    {"id": "bob", "name": "Bob", "social_profiles": {"github": "bob"}}
  ],
  "interactions": [
    {"contact_id": "ann", "timestamp": "2026-05-01T10:00:00Z", "channel": "call"},
    {"contact_id": "ann", "timestamp": "2026-05-03T10:00:00Z", "channel": "text"}
  ],
  "calendar_events": [
    {"id": "e1", "start": "2026-04-20T18:00:00Z", "attendees": [{"email": "ann@example.com"}]}
  ]
}`

func TestSeedFixture(t *testing.T) {
	var fx Fixture
	require.NoError(t, jsonx.NewDecoder(strings.NewReader(fixtureJSON)).Decode(&fx))

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "seed.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, seedFixture(ctx, store, fx))

	bob, err := store.FindByID(ctx, "u1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", bob.SocialProfiles["github"])

	logs, err := store.FindByContactID(ctx, "u1", "ann")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, circles.ChannelText, logs[0].Channel)

	events, err := store.Events(ctx, "u1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].HasAttendee("ann@example.com"))

	assert.Error(t, seedFixture(ctx, store, Fixture{Contacts: []circles.Contact{{ID: "x"}}}))
}

func TestReadAssignmentsDefaultsToUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"contact_id": "ann", "circle": "inner", "reason": "sister"},
		{"contact_id": "bob", "circle": "close", "assigned_by": "ai", "confidence": 71}
	]`), 0600))

	batch, err := readAssignments(path)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, circles.AssignedByUser, batch[0].AssignedBy)
	assert.Equal(t, circles.CircleInner, batch[0].Circle)
	assert.Equal(t, circles.AssignedByAI, batch[1].AssignedBy)
	require.NotNil(t, batch[1].Confidence)
	assert.Equal(t, 71, *batch[1].Confidence)

	_, err = readAssignments(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func newTestRouter(t *testing.T) (http.Handler, *kernel.Kernel, *memstore.Store) {
	t.Helper()
	mem := memstore.New()
	k, err := kernel.NewWithStores(context.Background(), kernel.Config{Circles: config.Default()}, kernel.Stores{
		Contacts: mem, Interactions: mem, Calendar: mem, Records: mem.Assignments(),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return newRouter(k, zaptest.NewLogger(t)), k, mem
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterReports(t *testing.T) {
	h, k, mem := newTestRouter(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		mem.PutContact(circles.Contact{ID: id, UserID: "u1"})
		_, err := k.AssignCircle(ctx, "u1", id, circles.CircleInner, "")
		require.NoError(t, err)
	}

	rec := get(t, h, "/api/users/u1/capacity/inner")
	require.Equal(t, http.StatusOK, rec.Code)
	var report capacity.Report
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 8, report.CurrentSize)
	assert.Equal(t, capacity.StatusOptimal, report.Status)

	rec = get(t, h, "/api/users/u1/rebalance")
	require.Equal(t, http.StatusOK, rec.Code)
	var moves []capacity.RebalanceSuggestion
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &moves))
	require.Len(t, moves, 1)
	assert.Equal(t, 3, moves[0].Count)

	rec = get(t, h, "/api/users/u1/distribution")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":8`)

	rec = get(t, h, "/api/users/u1/contacts/a/history")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []circles.AssignmentRecord
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 1)
}

func TestRouterErrors(t *testing.T) {
	h, _, _ := newTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/users/u1/capacity/bestie").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/users/u1/capacity/acquaintance").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/users/u1/contacts/ghost/history").Code)

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	assert.Equal(t, http.StatusOK, get(t, h, "/metrics").Code)
}
