package api

import (
	"encoding/json"
	"net/http"
)

// registerRepository registers a repository so its webhooks are accepted.
func (s *Server) registerRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GithubRepoID string `json:"githubRepoId"` // owner/name
		URL          string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GithubRepoID == "" {
		respondError(w, http.StatusBadRequest, "githubRepoId is required")
		return
	}
	if req.URL == "" {
		req.URL = "https://github.com/" + req.GithubRepoID
	}

	repo, err := s.repositories.Register(req.GithubRepoID, req.URL)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, repo)
}

// listRepositories returns every registered repository.
func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.repositories.All()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to query repositories")
		return
	}
	respondJSON(w, http.StatusOK, repos)
}
