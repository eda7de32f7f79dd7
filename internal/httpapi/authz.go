package httpapi

import (
	"errors"
	"net/http"

	"storyhub.org/internal/ability"
	"storyhub.org/internal/auth"
	"storyhub.org/internal/audit"
	"storyhub.org/internal/obs"
	"storyhub.org/internal/stream"
)

// requiredAbility is the static authorization declaration of one protected
// operation. LoadSubject marks the check as subject-scoped: the target
// record is fetched by the path id and constrained rules evaluate against
// its owner.
type requiredAbility struct {
	Action      ability.Action
	Subject     ability.Subject
	LoadSubject bool
}

// operation pairs a route pattern with its ability declaration. The triple
// is looked up by plain mapping at dispatch time; nothing is derived from
// handler metadata at runtime.
type operation struct {
	pattern string
	require requiredAbility
	handler http.HandlerFunc
}

func (a *API) operations() []operation {
	return []operation{
		// users
		{"GET /v1/users", requiredAbility{ability.ActionRead, ability.SubjectUser, false}, a.handleListUsers},
		{"POST /v1/users", requiredAbility{ability.ActionCreate, ability.SubjectUser, false}, a.handleCreateUser},
		{"GET /v1/users/{id}", requiredAbility{ability.ActionRead, ability.SubjectUser, true}, a.handleGetUser},
		{"PATCH /v1/users/{id}", requiredAbility{ability.ActionUpdate, ability.SubjectUser, true}, a.handleUpdateUser},
		{"DELETE /v1/users/{id}", requiredAbility{ability.ActionDelete, ability.SubjectUser, true}, a.handleDeleteUser},

		// stories
		{"GET /v1/stories", requiredAbility{ability.ActionRead, ability.SubjectStory, false}, a.handleListStories},
		{"POST /v1/stories", requiredAbility{ability.ActionCreate, ability.SubjectStory, false}, a.handleCreateStory},
		{"GET /v1/stories/{id}", requiredAbility{ability.ActionRead, ability.SubjectStory, true}, a.handleGetStory},
		{"PATCH /v1/stories/{id}", requiredAbility{ability.ActionUpdate, ability.SubjectStory, true}, a.handleUpdateStory},
		{"DELETE /v1/stories/{id}", requiredAbility{ability.ActionDelete, ability.SubjectStory, true}, a.handleDeleteStory},

		// role and permission administration is wildcard-only territory
		{"GET /v1/roles", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleListRoles},
		{"POST /v1/roles", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleCreateRole},
		{"GET /v1/roles/{id}", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleGetRole},
		{"PATCH /v1/roles/{id}", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleUpdateRole},
		{"DELETE /v1/roles/{id}", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleDeleteRole},

		{"GET /v1/permissions", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleListPermissions},
		{"POST /v1/permissions", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleCreatePermission},
		{"GET /v1/permissions/{id}", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleGetPermission},
		{"PATCH /v1/permissions/{id}", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleUpdatePermission},
		{"DELETE /v1/permissions/{id}", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleDeletePermission},

		// live security-event feed for operators
		{"GET /v1/events", requiredAbility{ability.ActionManage, ability.SubjectAll, false}, a.handleEvents},
	}
}

// protect wraps a handler with the per-request decision procedure: resolve
// identity, optionally load the conditioned subject, evaluate the compiled
// rules, fail closed.
func (a *API) protect(op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			denyAuthentication(w, r, errors.New("no identity attached"))
			return
		}

		var subjectID *int64
		if op.require.LoadSubject {
			id, err := pathID(r)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			subjectID = &id
		}

		decision, err := a.engine.AuthorizeRequest(r.Context(), identity, op.require.Action, op.require.Subject, subjectID)
		if err != nil {
			// A missing conditioned subject is a not-found outcome, raised
			// before any authorization verdict.
			handleServiceError(w, r, err)
			return
		}
		obs.ObserveDecision(string(op.require.Action), string(op.require.Subject), decision.Allowed)
		if !decision.Allowed {
			_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
				"action":  op.require.Action,
				"subject": op.require.Subject,
				"reason":  decision.Reason,
			})
			a.events.Publish(stream.Event{
				Type:   "authz.denied",
				UserID: identity.UserID,
				Path:   r.URL.Path,
				Reason: decision.Reason,
			})
			writeError(w, r, http.StatusForbidden, decision.Reason)
			return
		}
		op.handler(w, r)
	}
}
