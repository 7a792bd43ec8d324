package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ghmonitor/internal/github"
	"github.com/user/ghmonitor/internal/ingest"
	"github.com/user/ghmonitor/internal/storage"
	"github.com/user/ghmonitor/internal/stream"
	"github.com/user/ghmonitor/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(false, "")
	m.Run()
}

type fixture struct {
	server *Server
	hub    *stream.Hub
	db     *storage.Database
	repo   *storage.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	events := storage.NewEventStore(db)
	alerts := storage.NewAlertStore(db)
	repositories := storage.NewRepositoryStore(db)

	repo, err := repositories.Register("acme/app", "https://github.com/acme/app")
	require.NoError(t, err)

	hub := stream.NewHub(16, time.Minute)
	t.Cleanup(hub.Close)

	// The webhook handler is exercised in the ingest package; a nil
	// service would only be reached through the webhook route.
	server := NewServer(events, alerts, repositories, hub, github.NewClient(""), ingest.NewHandler("", nil))

	return &fixture{server: server, hub: hub, db: db, repo: repo}
}

func (f *fixture) storeEvent(t *testing.T, deliveryID, payload string, eventType storage.EventType) *storage.Event {
	t.Helper()
	events := storage.NewEventStore(f.db)
	tx, err := events.Begin()
	require.NoError(t, err)
	stored, duplicate, err := events.Append(tx, &storage.Event{
		DeliveryID:   deliveryID,
		RepositoryID: f.repo.ID,
		Type:         eventType,
		Payload:      payload,
	})
	require.NoError(t, err)
	require.False(t, duplicate)
	require.NoError(t, tx.Commit())
	return stored
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	f.storeEvent(t, "delivery-1", `{
		"ref": "refs/heads/main",
		"repository": {"full_name": "acme/app"},
		"pusher": {"name": "octocat"},
		"commits": [{"message": "hello"}]
	}`, storage.EventTypePush)

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?repository_id="+f.repo.ID, nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var dtos []ingest.EventDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	require.Len(t, dtos, 1)
	assert.Equal(t, "main", dtos[0].Branch, "listings re-derive canonical fields from the payload")
	assert.Equal(t, "hello", dtos[0].Message)
}

func TestListEventsRejectsInvalidType(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?type=bogus", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveAlertBroadcastsOnAlertTopic(t *testing.T) {
	f := newFixture(t)
	event := f.storeEvent(t, "delivery-1", `{"ref": "refs/heads/main"}`, storage.EventTypePush)

	alerts := storage.NewAlertStore(f.db)
	tx, err := storage.NewEventStore(f.db).Begin()
	require.NoError(t, err)
	alert, err := alerts.Create(tx, "DIRECT_PUSH_TO_MAIN", event, storage.SeverityWarning, "direct push")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	sub := f.hub.Subscribe()

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/alerts/"+alert.ID+"/resolve", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resolved storage.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, storage.AlertStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	select {
	case update := <-sub.Updates():
		assert.Equal(t, stream.TopicAlertUpdate, update.Topic)
	case <-time.After(time.Second):
		t.Fatal("resolution was not broadcast")
	}
}

func TestResolveUnknownAlert(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/alerts/nope/resolve", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterRepository(t *testing.T) {
	f := newFixture(t)

	body := bytes.NewBufferString(`{"githubRepoId": "acme/other"}`)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/repositories", body))

	require.Equal(t, http.StatusCreated, rec.Code)

	var repo storage.Repository
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repo))
	assert.Equal(t, "acme", repo.Owner)
	assert.Equal(t, "other", repo.Name)
	assert.Equal(t, "https://github.com/acme/other", repo.URL)
}

func TestRegisterRepositoryRejectsDuplicates(t *testing.T) {
	f := newFixture(t)

	body := bytes.NewBufferString(`{"githubRepoId": "acme/app"}`)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/repositories", body))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the subscription to register before publishing.
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	f.hub.Publish(stream.TopicEventUpdate, map[string]string{"id": "evt-1"})

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: event-update", strings.TrimSpace(eventLine))

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, dataLine, `"id":"evt-1"`)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
