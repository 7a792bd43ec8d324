// Package storage provides database operations and data models.
package storage

import "time"

// EventType represents the kind of repository activity an event records.
type EventType string

const (
	EventTypePush        EventType = "PUSH"
	EventTypePullRequest EventType = "PULL_REQUEST"
	EventTypeIssue       EventType = "ISSUE"
	EventTypeRelease     EventType = "RELEASE"
	EventTypeCreate      EventType = "CREATE"
)

// AllEventTypes returns every supported event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypePush,
		EventTypePullRequest,
		EventTypeIssue,
		EventTypeRelease,
		EventTypeCreate,
	}
}

// Valid reports whether t is one of the supported event types.
func (t EventType) Valid() bool {
	switch t {
	case EventTypePush, EventTypePullRequest, EventTypeIssue, EventTypeRelease, EventTypeCreate:
		return true
	}
	return false
}

// Event is one normalized webhook delivery. Immutable once stored.
type Event struct {
	ID            string    `db:"id" json:"id"`
	DeliveryID    string    `db:"delivery_id" json:"deliveryId"`
	RepositoryID  string    `db:"repository_id" json:"repositoryId"`
	ContributorID *string   `db:"contributor_id" json:"contributorId,omitempty"`
	Type          EventType `db:"type" json:"type"`
	Payload       string    `db:"payload" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Repository is a monitored repository. Webhooks for repositories that were
// never registered are dropped.
type Repository struct {
	ID           string     `db:"id" json:"id"`
	GithubRepoID string     `db:"github_repo_id" json:"githubRepoId"` // owner/name
	Name         string     `db:"name" json:"name"`
	Owner        string     `db:"owner" json:"owner"`
	URL          string     `db:"url" json:"url"`
	Language     *string    `db:"language" json:"language,omitempty"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
}

// Contributor is a GitHub account seen acting on a monitored repository,
// created lazily on first sighting.
type Contributor struct {
	ID          string    `db:"id" json:"id"`
	GithubLogin string    `db:"github_login" json:"githubLogin"`
	AvatarURL   *string   `db:"avatar_url" json:"avatarUrl,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "OPEN"
	AlertStatusResolved AlertStatus = "RESOLVED"
)

// Alert is one firing of an alert rule against a stored event.
type Alert struct {
	ID           string      `db:"id" json:"id"`
	RuleType     string      `db:"rule_type" json:"ruleType"`
	EventID      string      `db:"event_id" json:"eventId"`
	RepositoryID string      `db:"repository_id" json:"repositoryId"`
	Severity     Severity    `db:"severity" json:"severity"`
	Message      string      `db:"message" json:"message"`
	Status       AlertStatus `db:"status" json:"status"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
	ResolvedAt   *time.Time  `db:"resolved_at" json:"resolvedAt,omitempty"`
}
