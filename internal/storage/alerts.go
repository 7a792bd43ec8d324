package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrAlertNotFound is returned when resolving an alert that does not exist.
var ErrAlertNotFound = errors.New("alert not found")

// AlertStore handles alert-related database operations.
type AlertStore struct {
	db *Database
}

// NewAlertStore creates a new alert store.
func NewAlertStore(db *Database) *AlertStore {
	return &AlertStore{db: db}
}

// Create stores a new OPEN alert inside the event's transaction so alerts
// and their event commit or roll back together.
func (s *AlertStore) Create(tx *sqlx.Tx, ruleType string, event *Event, severity Severity, message string) (*Alert, error) {
	alert := &Alert{
		ID:           uuid.NewString(),
		RuleType:     ruleType,
		EventID:      event.ID,
		RepositoryID: event.RepositoryID,
		Severity:     severity,
		Message:      message,
		Status:       AlertStatusOpen,
		CreatedAt:    time.Now(),
	}

	_, err := tx.Exec(`
		INSERT INTO alerts (id, rule_type, event_id, repository_id, severity, message, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.RuleType, alert.EventID, alert.RepositoryID,
		alert.Severity, alert.Message, alert.Status, alert.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert alert: %w", err)
	}
	return alert, nil
}

// Resolve transitions an alert to RESOLVED and stamps resolved_at.
func (s *AlertStore) Resolve(id string) (*Alert, error) {
	res, err := s.db.Exec(
		`UPDATE alerts SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		AlertStatusResolved, time.Now(), id, AlertStatusOpen)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Either missing or already resolved; distinguish for the caller.
		existing, err := s.ByID(id)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrAlertNotFound
		}
		return existing, nil
	}
	return s.ByID(id)
}

// ByID returns the alert with the given id, or nil when absent.
func (s *AlertStore) ByID(id string) (*Alert, error) {
	var alert Alert
	err := s.db.Get(&alert, `SELECT * FROM alerts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ByEvent returns all alerts created for an event.
func (s *AlertStore) ByEvent(eventID string) ([]Alert, error) {
	var alerts []Alert
	err := s.db.Select(&alerts,
		`SELECT * FROM alerts WHERE event_id = ? ORDER BY created_at ASC`, eventID)
	return alerts, err
}

// List returns alerts, optionally narrowed to a repository, newest first.
func (s *AlertStore) List(repositoryID string, limit, offset int) ([]Alert, error) {
	if limit <= 0 {
		limit = 20
	}

	var alerts []Alert
	if repositoryID != "" {
		err := s.db.Select(&alerts,
			`SELECT * FROM alerts WHERE repository_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			repositoryID, limit, offset)
		return alerts, err
	}
	err := s.db.Select(&alerts,
		`SELECT * FROM alerts ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	return alerts, err
}
