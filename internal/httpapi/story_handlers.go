package httpapi

import (
	"net/http"
	"strings"
	"time"

	"storyhub.org/internal/audit"
	"storyhub.org/internal/auth"
)

type storyResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toStoryResponse(s *auth.Story) storyResponse {
	return storyResponse{
		ID:        s.ID,
		Title:     s.Title,
		Body:      s.Body,
		CreatedBy: s.CreatedBy,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type createStoryRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type updateStoryRequest struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

func (a *API) handleListStories(w http.ResponseWriter, r *http.Request) {
	stories, err := a.store.Stories().List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]storyResponse, 0, len(stories))
	for _, s := range stories {
		out = append(out, toStoryResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication failed")
		return
	}
	var req createStoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, r, http.StatusBadRequest, "title is required")
		return
	}
	story := &auth.Story{
		Title:     strings.TrimSpace(req.Title),
		Body:      req.Body,
		CreatedBy: identity.UserID,
	}
	if err := a.store.Stories().Create(r.Context(), story); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "story.created", map[string]any{
		"story_id": story.ID,
	})
	writeJSON(w, http.StatusCreated, toStoryResponse(story))
}

func (a *API) handleGetStory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	story, err := a.store.Stories().Find(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoryResponse(story))
}

func (a *API) handleUpdateStory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req updateStoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	story, err := a.store.Stories().Update(r.Context(), id, auth.StoryUpdate{
		Title: req.Title,
		Body:  req.Body,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "story.updated", map[string]any{
		"story_id": id,
	})
	writeJSON(w, http.StatusOK, toStoryResponse(story))
}

func (a *API) handleDeleteStory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.Stories().Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "story.deleted", map[string]any{
		"story_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
