// Package alerts evaluates a fixed battery of anomaly and policy rules
// against newly stored events.
package alerts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/user/ghmonitor/internal/storage"
)

// Rule identifiers.
const (
	RuleHighFrequencyCommits = "HIGH_FREQUENCY_COMMITS"
	RuleSensitiveFileChange  = "SENSITIVE_FILE_CHANGE"
	RuleDirectPushToMain     = "DIRECT_PUSH_TO_MAIN"
	RuleCommitOutsideHours   = "COMMIT_OUTSIDE_HOURS"
)

// Params carries the tunable rule parameters.
type Params struct {
	FrequencyThreshold int
	FrequencyInterval  time.Duration
	SensitivePatterns  []string
	WorkdayStartHour   int
	WorkdayEndHour     int
}

// DefaultParams returns the stock rule parameters.
func DefaultParams() Params {
	return Params{
		FrequencyThreshold: 15,
		FrequencyInterval:  10 * time.Minute,
		SensitivePatterns:  []string{".env", "id_rsa", "aws_access_key", "password.txt"},
		WorkdayStartHour:   8,
		WorkdayEndHour:     18,
	}
}

// Rule is one alert rule: a pure predicate over an event, the repository's
// recent history and the parameters.
type Rule struct {
	Type        string
	Description string
	// NeedsHistory marks rules that read the recent-events window.
	NeedsHistory bool
	Fires        func(event *storage.Event, recent []storage.Event, p Params) (bool, error)
}

// Rules returns the fixed rule battery in its declared evaluation order.
func Rules() []Rule {
	return []Rule{
		{
			Type:         RuleHighFrequencyCommits,
			Description:  "unusually high commit frequency",
			NeedsHistory: true,
			Fires:        firesHighFrequency,
		},
		{
			Type:        RuleSensitiveFileChange,
			Description: "sensitive file changed",
			Fires:       firesSensitiveFile,
		},
		{
			Type:        RuleDirectPushToMain,
			Description: "direct push to protected branch",
			Fires:       firesDirectPush,
		},
		{
			Type:        RuleCommitOutsideHours,
			Description: "commit outside working hours",
			Fires:       firesOutsideHours,
		},
	}
}

// firesHighFrequency triggers when the count of PUSH events for the same
// repository inside the interval, current event included, strictly exceeds
// the threshold.
func firesHighFrequency(event *storage.Event, recent []storage.Event, p Params) (bool, error) {
	if event.Type != storage.EventTypePush {
		return false, nil
	}

	pushCount := 0
	for _, e := range recent {
		if e.Type == storage.EventTypePush {
			pushCount++
		}
	}
	return pushCount > p.FrequencyThreshold, nil
}

// firesSensitiveFile triggers when any commit in the delivery added or
// modified a filename containing one of the configured substrings.
func firesSensitiveFile(event *storage.Event, _ []storage.Event, p Params) (bool, error) {
	if event.Type != storage.EventTypePush && event.Type != storage.EventTypePullRequest {
		return false, nil
	}

	var payload struct {
		Commits []struct {
			Added    []string `json:"added"`
			Modified []string `json:"modified"`
		} `json:"commits"`
	}
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		return false, fmt.Errorf("failed to parse payload: %w", err)
	}

	for _, commit := range payload.Commits {
		for _, file := range commit.Added {
			if matchesAny(file, p.SensitivePatterns) {
				return true, nil
			}
		}
		for _, file := range commit.Modified {
			if matchesAny(file, p.SensitivePatterns) {
				return true, nil
			}
		}
	}
	return false, nil
}

// firesDirectPush triggers on pushes whose ref is exactly the main or
// master branch.
func firesDirectPush(event *storage.Event, _ []storage.Event, _ Params) (bool, error) {
	if event.Type != storage.EventTypePush {
		return false, nil
	}

	var payload struct {
		Ref string `json:"ref"`
	}
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		return false, fmt.Errorf("failed to parse payload: %w", err)
	}

	return payload.Ref == "refs/heads/main" || payload.Ref == "refs/heads/master", nil
}

// firesOutsideHours triggers when the stored timestamp's local hour falls
// outside the configured working window.
func firesOutsideHours(event *storage.Event, _ []storage.Event, p Params) (bool, error) {
	if event.Type != storage.EventTypePush {
		return false, nil
	}

	hour := event.CreatedAt.Local().Hour()
	return hour < p.WorkdayStartHour || hour >= p.WorkdayEndHour, nil
}

func matchesAny(filename string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(filename, pattern) {
			return true
		}
	}
	return false
}
