package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EventStore handles event persistence and queries.
type EventStore struct {
	db *Database
}

// NewEventStore creates a new event store.
func NewEventStore(db *Database) *EventStore {
	return &EventStore{db: db}
}

// Begin opens a transaction for an append+evaluate unit of work.
func (s *EventStore) Begin() (*sqlx.Tx, error) {
	return s.db.Beginx()
}

// Append stores an event inside the given transaction. The write is
// idempotent on delivery id: if a record with the same delivery id already
// exists, the existing record is returned with duplicate set to true and
// nothing is written, so the caller can skip rule evaluation and broadcast.
func (s *EventStore) Append(tx *sqlx.Tx, event *Event) (*Event, bool, error) {
	var existing Event
	err := tx.Get(&existing, `SELECT * FROM events WHERE delivery_id = ?`, event.DeliveryID)
	if err == nil {
		return &existing, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to check delivery id: %w", err)
	}

	event.ID = uuid.NewString()
	event.CreatedAt = time.Now()

	_, err = tx.Exec(`
		INSERT INTO events (id, delivery_id, repository_id, contributor_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.DeliveryID, event.RepositoryID, event.ContributorID,
		event.Type, event.Payload, event.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert event: %w", err)
	}
	return event, false, nil
}

// ByID returns the event with the given id, or nil when absent.
func (s *EventStore) ByID(id string) (*Event, error) {
	var event Event
	err := s.db.Get(&event, `SELECT * FROM events WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ByDeliveryID returns the event stored for a delivery id, or nil when absent.
func (s *EventStore) ByDeliveryID(deliveryID string) (*Event, error) {
	var event Event
	err := s.db.Get(&event, `SELECT * FROM events WHERE delivery_id = ?`, deliveryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ByRepository returns all events for a repository, newest first.
func (s *EventStore) ByRepository(repositoryID string) ([]Event, error) {
	var events []Event
	err := s.db.Select(&events,
		`SELECT * FROM events WHERE repository_id = ? ORDER BY created_at DESC`, repositoryID)
	return events, err
}

// ByRepositoryAfter returns a repository's events of one type with
// created_at >= since, inside the transaction so a just-appended event is
// visible to rule evaluation. The boundary is inclusive.
func (s *EventStore) ByRepositoryAfter(tx *sqlx.Tx, repositoryID string, eventType EventType, since time.Time) ([]Event, error) {
	var events []Event
	err := tx.Select(&events,
		`SELECT * FROM events WHERE repository_id = ? AND type = ? AND created_at >= ? ORDER BY created_at ASC`,
		repositoryID, eventType, since)
	return events, err
}

// EventFilter narrows a Query call. Zero values mean "no constraint".
type EventFilter struct {
	RepositoryID string
	Type         EventType
	Start        *time.Time
	End          *time.Time
	Limit        int
	Offset       int
}

// Query returns events matching the filter, newest first.
func (s *EventStore) Query(f EventFilter) ([]Event, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.RepositoryID != "" {
		where = append(where, "repository_id = ?")
		args = append(args, f.RepositoryID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Start != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *f.Start)
	}
	if f.End != nil {
		where = append(where, "created_at <= ?")
		args = append(args, *f.End)
	}

	query := "SELECT * FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	var events []Event
	err := s.db.Select(&events, query, args...)
	return events, err
}
