package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/user/ghmonitor/internal/alerts"
	"github.com/user/ghmonitor/internal/notifier"
	"github.com/user/ghmonitor/internal/storage"
	"github.com/user/ghmonitor/internal/stream"
	"github.com/user/ghmonitor/pkg/logger"
)

var (
	// ErrUnknownRepository marks deliveries for repositories that were
	// never registered. Dropped silently: the sender still gets a 200.
	ErrUnknownRepository = errors.New("repository not registered")

	// ErrDuplicateDelivery marks re-deliveries of an already stored
	// delivery id. The store is untouched and no side effects re-fire.
	ErrDuplicateDelivery = errors.New("duplicate delivery")
)

// EventDTO is the serialized shape of a stored event for broadcasts and
// listings: storage identity plus the canonical fields re-derived from the
// retained payload.
type EventDTO struct {
	ID            string          `json:"id"`
	RepositoryID  string          `json:"repositoryId"`
	ContributorID string          `json:"contributorId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	Payload       json.RawMessage `json:"payload"`
	*Canonical
}

// NewEventDTO builds the wire shape for a stored event.
func NewEventDTO(event *storage.Event, c *Canonical) *EventDTO {
	dto := &EventDTO{
		ID:           event.ID,
		RepositoryID: event.RepositoryID,
		CreatedAt:    event.CreatedAt,
		Payload:      json.RawMessage(event.Payload),
		Canonical:    c,
	}
	if event.ContributorID != nil {
		dto.ContributorID = *event.ContributorID
	}
	return dto
}

// Service runs the per-delivery pipeline: normalize, resolve repository and
// contributor, store idempotently, evaluate rules, broadcast, notify.
type Service struct {
	events       *storage.EventStore
	repositories *storage.RepositoryStore
	contributors *storage.ContributorStore
	engine       *alerts.Engine
	hub          *stream.Hub
	notify       notifier.Notifier
}

// NewService creates the ingestion service.
func NewService(
	events *storage.EventStore,
	repositories *storage.RepositoryStore,
	contributors *storage.ContributorStore,
	engine *alerts.Engine,
	hub *stream.Hub,
	notify notifier.Notifier,
) *Service {
	return &Service{
		events:       events,
		repositories: repositories,
		contributors: contributors,
		engine:       engine,
		hub:          hub,
		notify:       notify,
	}
}

// Process handles one webhook delivery end to end. Drop conditions return
// ErrUnsupportedEvent, ErrNoRepository, ErrUnknownRepository or
// ErrDuplicateDelivery, all of which leave state untouched; any other error
// is a storage failure and the delivery failed atomically.
func (s *Service) Process(eventTypeHeader, deliveryID string, body []byte) error {
	canonical, err := Normalize(eventTypeHeader, body)
	if err != nil {
		return err
	}

	repo, err := s.repositories.ByGithubRepoID(canonical.RepoFullName)
	if err != nil {
		return fmt.Errorf("failed to resolve repository: %w", err)
	}
	if repo == nil {
		return fmt.Errorf("%w: %s", ErrUnknownRepository, canonical.RepoFullName)
	}

	// Contributor tracking is keyed on the sender; pushes without a sender
	// stay anonymous.
	var contributorID string
	if canonical.SenderLogin != "" {
		contributor, err := s.contributors.Upsert(canonical.SenderLogin, canonical.SenderAvatar)
		if err != nil {
			logger.Warn().Err(err).Str("login", canonical.SenderLogin).
				Msg("Failed to upsert contributor, storing event anonymously")
		} else {
			contributorID = contributor.ID
		}
	}

	if err := s.repositories.TouchSync(repo.ID, canonical.RepoLanguage); err != nil {
		logger.Warn().Err(err).Str("repository", repo.GithubRepoID).Msg("Failed to touch repository sync state")
	}

	event, firedAlerts, err := s.storeAndEvaluate(repo.ID, contributorID, deliveryID, canonical, body)
	if err != nil {
		return err
	}

	logger.Info().
		Str("event_id", event.ID).
		Str("delivery_id", deliveryID).
		Str("repo", repo.GithubRepoID).
		Str("type", string(event.Type)).
		Int("alerts", len(firedAlerts)).
		Msg("Event stored")

	// Fan out: the event first, then its alerts, then best-effort
	// notifications. None of this can fail the delivery.
	s.hub.Publish(stream.TopicEventUpdate, NewEventDTO(event, canonical))
	for i := range firedAlerts {
		s.hub.Publish(stream.TopicAlertUpdate, &firedAlerts[i])
	}

	s.notify.Notify(
		fmt.Sprintf("New event: %s", event.Type),
		eventNotificationBody(repo, canonical),
	)
	for _, alert := range firedAlerts {
		s.notify.Notify(
			fmt.Sprintf("ALERT: %s", alert.RuleType),
			fmt.Sprintf("Repo: %s\nBranch: %s\n%s", repo.GithubRepoID, canonical.Branch, alert.Message),
		)
	}

	return nil
}

// storeAndEvaluate is the delivery's atomic unit: the event insert and any
// alert inserts share one transaction. A duplicate delivery id rolls back
// untouched and reports ErrDuplicateDelivery.
func (s *Service) storeAndEvaluate(repositoryID, contributorID, deliveryID string, canonical *Canonical, body []byte) (*storage.Event, []storage.Alert, error) {
	tx, err := s.events.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	event := &storage.Event{
		DeliveryID:   deliveryID,
		RepositoryID: repositoryID,
		Type:         canonical.Type,
		Payload:      string(body),
	}
	if contributorID != "" {
		event.ContributorID = &contributorID
	}

	stored, duplicate, err := s.events.Append(tx, event)
	if err != nil {
		return nil, nil, err
	}
	if duplicate {
		logger.Debug().Str("delivery_id", deliveryID).Msg("Delivery already processed")
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateDelivery, deliveryID)
	}

	firedAlerts, err := s.engine.Evaluate(tx, stored)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit delivery: %w", err)
	}
	return stored, firedAlerts, nil
}

func eventNotificationBody(repo *storage.Repository, c *Canonical) string {
	body := repo.GithubRepoID
	if c.Branch != "" {
		body += " (" + c.Branch + ")"
	}
	if c.Author != "" {
		body += "\nBy: " + c.Author
	}
	if c.Message != "" {
		body += "\n" + c.Message
	}
	return body
}
