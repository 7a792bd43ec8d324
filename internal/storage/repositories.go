package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RepositoryStore handles repository-related database operations.
type RepositoryStore struct {
	db *Database
}

// NewRepositoryStore creates a new repository store.
func NewRepositoryStore(db *Database) *RepositoryStore {
	return &RepositoryStore{db: db}
}

// Register creates a repository keyed by its owner/name composite id.
func (s *RepositoryStore) Register(githubRepoID, url string) (*Repository, error) {
	owner, name, ok := strings.Cut(githubRepoID, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid repository id %q, want owner/name", githubRepoID)
	}

	repo := &Repository{
		ID:           uuid.NewString(),
		GithubRepoID: githubRepoID,
		Name:         name,
		Owner:        owner,
		URL:          url,
		CreatedAt:    time.Now(),
	}

	_, err := s.db.Exec(`
		INSERT INTO repositories (id, github_repo_id, name, owner, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		repo.ID, repo.GithubRepoID, repo.Name, repo.Owner, repo.URL, repo.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register repository: %w", err)
	}
	return repo, nil
}

// ByGithubRepoID returns the repository for an owner/name key, or nil when
// it was never registered.
func (s *RepositoryStore) ByGithubRepoID(githubRepoID string) (*Repository, error) {
	var repo Repository
	err := s.db.Get(&repo, `SELECT * FROM repositories WHERE github_repo_id = ?`, githubRepoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// ByID returns the repository with the given id, or nil when absent.
func (s *RepositoryStore) ByID(id string) (*Repository, error) {
	var repo Repository
	err := s.db.Get(&repo, `SELECT * FROM repositories WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// All returns every registered repository.
func (s *RepositoryStore) All() ([]Repository, error) {
	var repos []Repository
	err := s.db.Select(&repos, `SELECT * FROM repositories ORDER BY created_at DESC`)
	return repos, err
}

// TouchSync stamps last_synced_at and opportunistically refreshes the
// reported primary language when the payload carries one.
func (s *RepositoryStore) TouchSync(id, language string) error {
	if language != "" {
		_, err := s.db.Exec(
			`UPDATE repositories SET last_synced_at = ?, language = ? WHERE id = ?`,
			time.Now(), language, id)
		return err
	}
	_, err := s.db.Exec(`UPDATE repositories SET last_synced_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// ContributorStore handles contributor-related database operations.
type ContributorStore struct {
	db *Database
}

// NewContributorStore creates a new contributor store.
func NewContributorStore(db *Database) *ContributorStore {
	return &ContributorStore{db: db}
}

// Upsert creates a contributor on first sighting and refreshes the avatar
// URL on later sightings without overwriting identity.
func (s *ContributorStore) Upsert(login, avatarURL string) (*Contributor, error) {
	query := `
		INSERT INTO contributors (id, github_login, avatar_url, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(github_login) DO UPDATE SET
			avatar_url = COALESCE(NULLIF(excluded.avatar_url, ''), avatar_url)
	`
	var avatar *string
	if avatarURL != "" {
		avatar = &avatarURL
	}
	if _, err := s.db.Exec(query, uuid.NewString(), login, avatar, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to upsert contributor: %w", err)
	}

	var c Contributor
	if err := s.db.Get(&c, `SELECT * FROM contributors WHERE github_login = ?`, login); err != nil {
		return nil, err
	}
	return &c, nil
}

// ByLogin returns the contributor with the given login, or nil when absent.
func (s *ContributorStore) ByLogin(login string) (*Contributor, error) {
	var c Contributor
	err := s.db.Get(&c, `SELECT * FROM contributors WHERE github_login = ?`, login)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
