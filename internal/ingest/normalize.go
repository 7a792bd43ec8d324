package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/user/ghmonitor/internal/storage"
)

var (
	// ErrUnsupportedEvent is returned for event-type strings outside the
	// whitelist. Such deliveries are dropped, not coerced to a fallback.
	ErrUnsupportedEvent = errors.New("unsupported event type")

	// ErrNoRepository is returned when the payload carries no repository
	// identity at all.
	ErrNoRepository = errors.New("payload has no repository identity")
)

// eventTypes maps GitHub's event-type header values to the internal enum.
var eventTypes = map[string]storage.EventType{
	"push":         storage.EventTypePush,
	"pull_request": storage.EventTypePullRequest,
	"issues":       storage.EventTypeIssue,
	"release":      storage.EventTypeRelease,
	"create":       storage.EventTypeCreate,
}

// Canonical is the normalized, type-agnostic record derived from one
// delivery's payload. Every field except Type and RepoFullName is
// best-effort: absent payload fields stay zero.
type Canonical struct {
	Type          storage.EventType `json:"type"`
	Actor         string            `json:"actor,omitempty"`
	AvatarURL     string            `json:"avatarUrl,omitempty"`
	Author        string            `json:"author,omitempty"`
	Action        string            `json:"action,omitempty"`
	Branch        string            `json:"branch,omitempty"`
	Message       string            `json:"message,omitempty"`
	ModifiedFiles []string          `json:"modifiedFiles,omitempty"`
	EventDate     *time.Time        `json:"eventDate,omitempty"`
	URL           string            `json:"url,omitempty"`

	// Repository resolution and contributor tracking; not part of the
	// serialized canonical record.
	RepoFullName string `json:"-"`
	RepoLanguage string `json:"-"`
	SenderLogin  string `json:"-"`
	SenderAvatar string `json:"-"`
}

// extractors maps each event type to its payload-specific extraction
// function. Adding a type means adding an entry, not growing a conditional.
var extractors = map[storage.EventType]func(c *Canonical, body []byte){
	storage.EventTypePush:        extractPush,
	storage.EventTypePullRequest: extractPullRequest,
	storage.EventTypeIssue:       extractIssue,
	storage.EventTypeRelease:     extractRelease,
	storage.EventTypeCreate:      extractCreate,
}

// Normalize maps an event-type header and raw JSON body to a canonical
// event. Only an unmapped event type or a structurally absent repository
// identity fail the call; individual field extraction is tolerant.
func Normalize(eventTypeHeader string, body []byte) (*Canonical, error) {
	eventType, ok := eventTypes[strings.ToLower(eventTypeHeader)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventTypeHeader)
	}

	var base struct {
		Action     string `json:"action"`
		Repository struct {
			FullName string `json:"full_name"`
			Language string `json:"language"`
		} `json:"repository"`
		Sender *struct {
			Login     string `json:"login"`
			AvatarURL string `json:"avatar_url"`
		} `json:"sender"`
		Pusher *struct {
			Name string `json:"name"`
		} `json:"pusher"`
	}
	if err := json.Unmarshal(body, &base); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	if base.Repository.FullName == "" {
		return nil, ErrNoRepository
	}

	c := &Canonical{
		Type:         eventType,
		RepoFullName: base.Repository.FullName,
		RepoLanguage: base.Repository.Language,
	}

	// Actor and avatar come from the sender, with the pusher as fallback
	// for push deliveries that carry none.
	if base.Sender != nil {
		c.Actor = base.Sender.Login
		c.AvatarURL = base.Sender.AvatarURL
		c.SenderLogin = base.Sender.Login
		c.SenderAvatar = base.Sender.AvatarURL
	} else if base.Pusher != nil {
		c.Actor = base.Pusher.Name
	}

	// Pushes attribute authorship to the pusher; everything else to the sender.
	if eventType == storage.EventTypePush && base.Pusher != nil {
		c.Author = base.Pusher.Name
	} else if base.Sender != nil {
		c.Author = base.Sender.Login
	}

	// Action defaults to the type name and is overridden by the payload.
	c.Action = string(eventType)
	if base.Action != "" {
		c.Action = base.Action
	}

	extractors[eventType](c, body)

	return c, nil
}

// Enrich re-derives the canonical record from a stored event's retained
// payload, for listings and broadcasts of historical events.
func Enrich(event *storage.Event) *Canonical {
	c, err := Normalize(headerFor(event.Type), []byte(event.Payload))
	if err != nil {
		// Stored payloads passed normalization once; keep at least the type.
		return &Canonical{Type: event.Type}
	}
	return c
}

func headerFor(t storage.EventType) string {
	for header, typ := range eventTypes {
		if typ == t {
			return header
		}
	}
	return string(t)
}

func extractPush(c *Canonical, body []byte) {
	var p struct {
		Ref     string `json:"ref"`
		Compare string `json:"compare"`
		Commits []struct {
			Message   string   `json:"message"`
			Timestamp string   `json:"timestamp"`
			Modified  []string `json:"modified"`
			Committer struct {
				Date string `json:"date"`
			} `json:"committer"`
		} `json:"commits"`
	}
	// Tolerant parse: a malformed sub-field zeroes itself, never fails the event.
	_ = json.Unmarshal(body, &p)

	c.Branch = strings.TrimPrefix(p.Ref, "refs/heads/")
	c.URL = p.Compare

	if len(p.Commits) == 0 {
		return
	}

	head := p.Commits[0]
	c.Message = head.Message
	if date := head.Committer.Date; date != "" {
		c.EventDate = parseEventDate(date)
	} else if head.Timestamp != "" {
		c.EventDate = parseEventDate(head.Timestamp)
	}

	// Union of modified files across all commits in the delivery,
	// de-duplicated; omitted entirely when empty.
	seen := make(map[string]struct{})
	var modified []string
	for _, commit := range p.Commits {
		for _, file := range commit.Modified {
			if _, ok := seen[file]; ok {
				continue
			}
			seen[file] = struct{}{}
			modified = append(modified, file)
		}
	}
	c.ModifiedFiles = modified
}

func extractPullRequest(c *Canonical, body []byte) {
	var p struct {
		Action      string `json:"action"`
		PullRequest struct {
			Title     string `json:"title"`
			Body      string `json:"body"`
			HTMLURL   string `json:"html_url"`
			Merged    bool   `json:"merged"`
			CreatedAt string `json:"created_at"`
			Head      struct {
				Ref string `json:"ref"`
			} `json:"head"`
		} `json:"pull_request"`
	}
	_ = json.Unmarshal(body, &p)

	pr := p.PullRequest
	c.Message = joinTitleBody(pr.Title, pr.Body)
	c.URL = pr.HTMLURL
	c.Branch = pr.Head.Ref

	// A closed pull request was either merged or rejected.
	if p.Action == "closed" {
		if pr.Merged {
			c.Action = "merged"
		} else {
			c.Action = "rejected"
		}
	}

	if pr.CreatedAt != "" {
		c.EventDate = parseEventDate(pr.CreatedAt)
	}
}

func extractIssue(c *Canonical, body []byte) {
	var p struct {
		Issue struct {
			Title     string `json:"title"`
			Body      string `json:"body"`
			HTMLURL   string `json:"html_url"`
			CreatedAt string `json:"created_at"`
		} `json:"issue"`
	}
	_ = json.Unmarshal(body, &p)

	c.Message = joinTitleBody(p.Issue.Title, p.Issue.Body)
	c.URL = p.Issue.HTMLURL
	if p.Issue.CreatedAt != "" {
		c.EventDate = parseEventDate(p.Issue.CreatedAt)
	}
}

func extractRelease(c *Canonical, body []byte) {
	var p struct {
		Release struct {
			TagName         string `json:"tag_name"`
			Name            string `json:"name"`
			HTMLURL         string `json:"html_url"`
			TargetCommitish string `json:"target_commitish"`
		} `json:"release"`
	}
	_ = json.Unmarshal(body, &p)

	c.Branch = p.Release.TargetCommitish
	c.URL = p.Release.HTMLURL
	if p.Release.TagName != "" {
		name := p.Release.Name
		if name == "" {
			name = p.Release.TagName
		}
		c.Message = "Release: " + name
	}
}

func extractCreate(c *Canonical, body []byte) {
	var p struct {
		RefType    string `json:"ref_type"`
		Ref        string `json:"ref"`
		Repository struct {
			HTMLURL string `json:"html_url"`
		} `json:"repository"`
	}
	_ = json.Unmarshal(body, &p)

	refType := p.RefType
	if refType == "" {
		refType = "unknown"
	}

	c.Action = "created " + refType
	c.Branch = strings.TrimPrefix(p.Ref, "refs/heads/")
	c.Message = fmt.Sprintf("Created %s: %s", refType, p.Ref)
	if p.Repository.HTMLURL != "" && p.Ref != "" {
		c.URL = p.Repository.HTMLURL + "/tree/" + p.Ref
	}
}

func joinTitleBody(title, body string) string {
	if body == "" {
		return title
	}
	return title + "\n" + body
}

// parseEventDate parses an ISO-8601 offset timestamp; failures yield nil,
// never an error.
func parseEventDate(value string) *time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}
