package ingest

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ghmonitor/internal/alerts"
	"github.com/user/ghmonitor/internal/storage"
	"github.com/user/ghmonitor/internal/stream"
	"github.com/user/ghmonitor/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(false, "")
	m.Run()
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *fakeNotifier) Titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}

type pipeline struct {
	service      *Service
	events       *storage.EventStore
	alerts       *storage.AlertStore
	repositories *storage.RepositoryStore
	hub          *stream.Hub
	notify       *fakeNotifier
	repo         *storage.Repository
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	events := storage.NewEventStore(db)
	alertStore := storage.NewAlertStore(db)
	repositories := storage.NewRepositoryStore(db)
	contributors := storage.NewContributorStore(db)

	repo, err := repositories.Register("acme/app", "https://github.com/acme/app")
	require.NoError(t, err)

	hub := stream.NewHub(64, time.Minute)
	t.Cleanup(hub.Close)

	notify := &fakeNotifier{}
	engine := alerts.NewEngine(alerts.DefaultParams(), events, alertStore)

	return &pipeline{
		service:      NewService(events, repositories, contributors, engine, hub, notify),
		events:       events,
		alerts:       alertStore,
		repositories: repositories,
		hub:          hub,
		notify:       notify,
		repo:         repo,
	}
}

func pushBody(ref, deliveryLabel string) []byte {
	return []byte(fmt.Sprintf(`{
		"ref": %q,
		"repository": {"full_name": "acme/app", "language": "Go"},
		"sender": {"login": "octocat", "avatar_url": "https://avatars.example/octocat"},
		"pusher": {"name": "octocat"},
		"commits": [{"message": "work %s", "modified": ["main.go"]}]
	}`, ref, deliveryLabel))
}

func alertTypes(t *testing.T, p *pipeline, eventID string) []string {
	t.Helper()
	stored, err := p.alerts.ByEvent(eventID)
	require.NoError(t, err)
	var types []string
	for _, a := range stored {
		types = append(types, a.RuleType)
	}
	return types
}

func TestProcessStoresEventAndBroadcasts(t *testing.T) {
	p := newPipeline(t)
	sub := p.hub.Subscribe()

	require.NoError(t, p.service.Process("push", "delivery-1", pushBody("refs/heads/feature/x", "a")))

	event, err := p.events.ByDeliveryID("delivery-1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, storage.EventTypePush, event.Type)
	assert.NotNil(t, event.ContributorID, "sender becomes a contributor")

	select {
	case update := <-sub.Updates():
		assert.Equal(t, stream.TopicEventUpdate, update.Topic)
		dto, ok := update.Data.(*EventDTO)
		require.True(t, ok)
		assert.Equal(t, event.ID, dto.ID)
		assert.Equal(t, "feature/x", dto.Branch)
	case <-time.After(time.Second):
		t.Fatal("no event-update broadcast")
	}

	// Repository sync state was touched and the language refreshed.
	repo, err := p.repositories.ByID(p.repo.ID)
	require.NoError(t, err)
	assert.NotNil(t, repo.LastSyncedAt)
	require.NotNil(t, repo.Language)
	assert.Equal(t, "Go", *repo.Language)
}

func TestProcessDirectPushToMainCreatesAlert(t *testing.T) {
	p := newPipeline(t)
	sub := p.hub.Subscribe()

	require.NoError(t, p.service.Process("push", "delivery-1", pushBody("refs/heads/main", "a")))

	event, err := p.events.ByDeliveryID("delivery-1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Contains(t, alertTypes(t, p, event.ID), alerts.RuleDirectPushToMain)

	// The event goes out first, then the alert on its own topic.
	update := <-sub.Updates()
	assert.Equal(t, stream.TopicEventUpdate, update.Topic)

	found := false
	for !found {
		select {
		case update = <-sub.Updates():
			if update.Topic != stream.TopicAlertUpdate {
				continue
			}
			alert, ok := update.Data.(*storage.Alert)
			require.True(t, ok)
			if alert.RuleType == alerts.RuleDirectPushToMain {
				assert.Equal(t, storage.AlertStatusOpen, alert.Status)
				assert.Equal(t, storage.SeverityWarning, alert.Severity)
				found = true
			}
		case <-time.After(time.Second):
			t.Fatal("no alert-update broadcast")
		}
	}

	assert.Contains(t, p.notify.Titles(), "ALERT: "+alerts.RuleDirectPushToMain)
}

func TestProcessDevelopBranchDoesNotAlertDirectPush(t *testing.T) {
	p := newPipeline(t)

	require.NoError(t, p.service.Process("push", "delivery-1", pushBody("refs/heads/develop", "a")))

	event, err := p.events.ByDeliveryID("delivery-1")
	require.NoError(t, err)
	assert.NotContains(t, alertTypes(t, p, event.ID), alerts.RuleDirectPushToMain)
}

func TestProcessDuplicateDeliveryIsNoOp(t *testing.T) {
	p := newPipeline(t)

	body := pushBody("refs/heads/main", "a")
	require.NoError(t, p.service.Process("push", "delivery-1", body))

	sub := p.hub.Subscribe()
	err := p.service.Process("push", "delivery-1", body)
	assert.ErrorIs(t, err, ErrDuplicateDelivery)

	events, err := p.events.ByRepository(p.repo.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "re-delivery stores nothing")

	stored, err := p.alerts.ByEvent(events[0].ID)
	require.NoError(t, err)
	firstRun := len(stored)

	// No re-broadcast either.
	select {
	case update := <-sub.Updates():
		t.Fatalf("unexpected broadcast for duplicate delivery: %v", update.Topic)
	case <-time.After(50 * time.Millisecond):
	}

	again, err := p.alerts.ByEvent(events[0].ID)
	require.NoError(t, err)
	assert.Len(t, again, firstRun, "rules did not re-fire")
}

func TestProcessUnknownRepositoryIsDropped(t *testing.T) {
	p := newPipeline(t)

	body := []byte(`{
		"ref": "refs/heads/main",
		"repository": {"full_name": "stranger/repo"},
		"pusher": {"name": "someone"}
	}`)
	err := p.service.Process("push", "delivery-1", body)
	assert.ErrorIs(t, err, ErrUnknownRepository)

	events, err := p.events.ByRepository(p.repo.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestProcessUnsupportedTypeIsDropped(t *testing.T) {
	p := newPipeline(t)

	err := p.service.Process("ping", "delivery-1", []byte(`{"repository": {"full_name": "acme/app"}}`))
	assert.ErrorIs(t, err, ErrUnsupportedEvent)

	events, err := p.events.ByRepository(p.repo.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestProcessSensitiveFileAlert(t *testing.T) {
	p := newPipeline(t)

	body := []byte(`{
		"ref": "refs/heads/feature/secrets",
		"repository": {"full_name": "acme/app"},
		"sender": {"login": "octocat"},
		"commits": [{"message": "oops", "modified": ["config/.env"]}]
	}`)
	require.NoError(t, p.service.Process("push", "delivery-1", body))

	event, err := p.events.ByDeliveryID("delivery-1")
	require.NoError(t, err)
	assert.Contains(t, alertTypes(t, p, event.ID), alerts.RuleSensitiveFileChange)
}

func TestHighFrequencyFiresOnSixteenthPush(t *testing.T) {
	p := newPipeline(t)

	for i := 1; i <= 15; i++ {
		require.NoError(t, p.service.Process("push", fmt.Sprintf("delivery-%d", i),
			pushBody("refs/heads/feature/x", fmt.Sprint(i))))
	}

	event, err := p.events.ByDeliveryID("delivery-15")
	require.NoError(t, err)
	assert.NotContains(t, alertTypes(t, p, event.ID), alerts.RuleHighFrequencyCommits,
		"fifteen pushes stay under the threshold")

	require.NoError(t, p.service.Process("push", "delivery-16",
		pushBody("refs/heads/feature/x", "16")))

	event, err = p.events.ByDeliveryID("delivery-16")
	require.NoError(t, err)
	assert.Contains(t, alertTypes(t, p, event.ID), alerts.RuleHighFrequencyCommits,
		"the sixteenth push strictly exceeds the threshold")
}
