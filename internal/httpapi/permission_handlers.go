package httpapi

import (
	"net/http"
	"time"

	"storyhub.org/internal/ability"
	"storyhub.org/internal/audit"
	"storyhub.org/internal/auth"
)

type permissionResponse struct {
	ID         int64            `json:"id"`
	RoleID     int64            `json:"role_id"`
	Action     string           `json:"action"`
	Subject    string           `json:"subject"`
	Inverted   bool             `json:"inverted"`
	Conditions *auth.Conditions `json:"conditions,omitempty"`
	Reason     *string          `json:"reason,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func toPermissionResponse(p *auth.Permission) permissionResponse {
	return permissionResponse{
		ID:         p.ID,
		RoleID:     p.RoleID,
		Action:     p.Action,
		Subject:    p.Subject,
		Inverted:   p.Inverted,
		Conditions: p.Conditions,
		Reason:     p.Reason,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

type createPermissionRequest struct {
	RoleID     int64            `json:"role_id"`
	Action     string           `json:"action"`
	Subject    string           `json:"subject"`
	Inverted   bool             `json:"inverted"`
	Conditions *auth.Conditions `json:"conditions"`
	Reason     *string          `json:"reason"`
}

type updatePermissionRequest struct {
	Action     *string          `json:"action"`
	Subject    *string          `json:"subject"`
	Inverted   *bool            `json:"inverted"`
	Conditions *auth.Conditions `json:"conditions"`
	Reason     *string          `json:"reason"`
}

// validateRule rejects action/subject values the decision engine would not
// recognize, so malformed rules never reach storage.
func validateRule(action, subject *string) error {
	if action != nil {
		if _, err := ability.ParseAction(*action); err != nil {
			return err
		}
	}
	if subject != nil {
		if _, err := ability.ParseSubject(*subject); err != nil {
			return err
		}
	}
	return nil
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.store.Permissions().List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RoleID <= 0 {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	if err := validateRule(&req.Action, &req.Subject); err != nil {
		handleServiceError(w, r, err)
		return
	}
	perm := &auth.Permission{
		RoleID:     req.RoleID,
		Action:     req.Action,
		Subject:    req.Subject,
		Inverted:   req.Inverted,
		Conditions: req.Conditions,
		Reason:     req.Reason,
	}
	if err := a.store.Permissions().Create(r.Context(), perm); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "permission.created", map[string]any{
		"permission_id": perm.ID,
		"role_id":       perm.RoleID,
		"action":        perm.Action,
		"subject":       perm.Subject,
	})
	writeJSON(w, http.StatusCreated, toPermissionResponse(perm))
}

func (a *API) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.store.Permissions().Find(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPermissionResponse(perm))
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req updatePermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateRule(req.Action, req.Subject); err != nil {
		handleServiceError(w, r, err)
		return
	}
	perm, err := a.store.Permissions().Update(r.Context(), id, auth.PermissionUpdate{
		Action:     req.Action,
		Subject:    req.Subject,
		Inverted:   req.Inverted,
		Conditions: req.Conditions,
		Reason:     req.Reason,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "permission.updated", map[string]any{
		"permission_id": id,
	})
	writeJSON(w, http.StatusOK, toPermissionResponse(perm))
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.Permissions().Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "permission.deleted", map[string]any{
		"permission_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
