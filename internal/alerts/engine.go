package alerts

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/user/ghmonitor/internal/storage"
	"github.com/user/ghmonitor/pkg/logger"
)

// HistorySource supplies the recent-events window frequency rules read,
// inside the delivery's transaction so the current event is visible. The
// window is narrowed to one event type so the per-push query stays
// proportional to the rule's own input.
type HistorySource interface {
	ByRepositoryAfter(tx *sqlx.Tx, repositoryID string, eventType storage.EventType, since time.Time) ([]storage.Event, error)
}

// AlertWriter persists alerts inside the delivery's transaction.
type AlertWriter interface {
	Create(tx *sqlx.Tx, ruleType string, event *storage.Event, severity storage.Severity, message string) (*storage.Alert, error)
}

// Engine evaluates the rule battery against newly stored events.
type Engine struct {
	rules   []Rule
	params  Params
	history HistorySource
	writer  AlertWriter
	log     zerolog.Logger
}

// NewEngine creates a rule engine with the given parameters.
func NewEngine(params Params, history HistorySource, writer AlertWriter) *Engine {
	return &Engine{
		rules:   Rules(),
		params:  params,
		history: history,
		writer:  writer,
		log:     logger.With("alerts"),
	}
}

// Evaluate runs every rule against the event and stores one OPEN alert per
// firing rule inside the transaction. Rule failures are isolated: a failing
// rule is logged and treated as not fired, and never blocks the remaining
// rules or the delivery itself. A failed alert write is a storage failure
// and aborts the delivery: alerts and their event commit together.
func (e *Engine) Evaluate(tx *sqlx.Tx, event *storage.Event) ([]storage.Alert, error) {
	var recent []storage.Event
	if e.needsHistory(event) {
		since := time.Now().Add(-e.params.FrequencyInterval)
		window, err := e.history.ByRepositoryAfter(tx, event.RepositoryID, storage.EventTypePush, since)
		if err != nil {
			e.log.Warn().Err(err).
				Str("repository_id", event.RepositoryID).
				Msg("Failed to load recent events, frequency rules see an empty window")
		} else {
			recent = window
		}
	}

	var alerts []storage.Alert
	for _, rule := range e.rules {
		fired := e.evaluateRule(rule, event, recent)
		if !fired {
			continue
		}

		alert, err := e.writer.Create(tx, rule.Type, event, storage.SeverityWarning,
			fmt.Sprintf("Alert triggered by rule %s: %s", rule.Type, rule.Description))
		if err != nil {
			return nil, fmt.Errorf("failed to store alert for rule %s: %w", rule.Type, err)
		}

		e.log.Info().
			Str("rule", rule.Type).
			Str("event_id", event.ID).
			Str("alert_id", alert.ID).
			Msg("Alert created")
		alerts = append(alerts, *alert)
	}
	return alerts, nil
}

// evaluateRule isolates one rule's evaluation, recovering panics.
func (e *Engine) evaluateRule(rule Rule, event *storage.Event, recent []storage.Event) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Str("rule", rule.Type).
				Interface("panic", r).
				Msg("Rule evaluation panicked")
			fired = false
		}
	}()

	fired, err := rule.Fires(event, recent, e.params)
	if err != nil {
		e.log.Error().Err(err).Str("rule", rule.Type).Msg("Rule evaluation failed")
		return false
	}
	return fired
}

func (e *Engine) needsHistory(event *storage.Event) bool {
	for _, rule := range e.rules {
		if rule.NeedsHistory && event.Type == storage.EventTypePush {
			return true
		}
	}
	return false
}
