package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"storyhub.org/internal/ability"
	"storyhub.org/internal/auth"
)

const (
	adminEmail   = "angel@yopmail.com"
	memberEmail  = "ale@yopmail.com"
	testPassword = "Admin@123456"
)

// newTestAPI wires the whole stack over an in-memory store, seeded with the
// builtin roles, rules and two accounts.
func newTestAPI(t *testing.T) (http.Handler, *memStore) {
	t.Helper()
	ctx := context.Background()
	store := newMemStore()

	admin := &auth.Role{Name: "Admin"}
	member := &auth.Role{Name: "User"}
	for _, role := range []*auth.Role{admin, member} {
		if err := store.Roles().Create(ctx, role); err != nil {
			t.Fatalf("seed role %s: %v", role.Name, err)
		}
	}

	owner := &auth.Conditions{Ownership: "{{ id }}"}
	reason := "You are not allowed to perform this action"
	seedRules := []*auth.Permission{
		{RoleID: admin.ID, Action: "manage", Subject: "all"},
		{RoleID: member.ID, Action: "read", Subject: "User"},
		{RoleID: member.ID, Action: "manage", Subject: "User", Conditions: owner},
		{RoleID: member.ID, Action: "read", Subject: "Story"},
		{RoleID: member.ID, Action: "create", Subject: "Story"},
		{RoleID: member.ID, Action: "manage", Subject: "Story", Conditions: owner},
		{RoleID: member.ID, Action: "delete", Subject: "User", Inverted: true, Reason: &reason},
	}
	for _, p := range seedRules {
		if err := store.Permissions().Create(ctx, p); err != nil {
			t.Fatalf("seed permission: %v", err)
		}
	}

	digest := auth.NewDigest(bcrypt.MinCost)
	hash, err := digest.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	for _, u := range []*auth.User{
		{Name: "Angel De La Cruz", Email: adminEmail, PasswordHash: hash, RoleID: admin.ID},
		{Name: "Ale Peralta", Email: memberEmail, PasswordHash: hash, RoleID: member.ID},
	} {
		if err := store.Users().Create(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.Email, err)
		}
	}

	signer, err := auth.NewSigner(auth.TokenConfig{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
	})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	svc := auth.NewService(store, signer, digest, auth.WithSignupRoleID(member.ID))
	api := New(ReadyProbe{}, "test", svc, ability.NewEngine(store), store)
	return api.Handler(), store
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func signin(t *testing.T, h http.Handler, email string) tokenPairResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/signin", "", map[string]string{
		"email": email, "password": testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("signin %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var pair tokenPairResponse
	decodeBody(t, rec, &pair)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("signin %s: incomplete pair %+v", email, pair)
	}
	return pair
}

func userIDByEmail(t *testing.T, store *memStore, email string) int64 {
	t.Helper()
	u, err := store.Users().FindByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("find %s: %v", email, err)
	}
	return u.ID
}

func TestHealthEndpointsArePublic(t *testing.T) {
	h, _ := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rec := doJSON(t, h, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := doJSON(t, h, http.MethodGet, "/v1/users", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("missing WWW-Authenticate header")
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != "authentication failed" {
		t.Fatalf("unexpected denial body: %v", body)
	}
}

func TestSigninDenialIsUniform(t *testing.T) {
	h, _ := newTestAPI(t)
	wrongPassword := doJSON(t, h, http.MethodPost, "/v1/auth/signin", "", map[string]string{
		"email": adminEmail, "password": "nope",
	})
	unknownEmail := doJSON(t, h, http.MethodPost, "/v1/auth/signin", "", map[string]string{
		"email": "ghost@yopmail.com", "password": "nope",
	})
	if wrongPassword.Code != http.StatusUnauthorized || unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("statuses %d/%d, want 401/401", wrongPassword.Code, unknownEmail.Code)
	}
	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatalf("denials differ: %q vs %q", wrongPassword.Body.String(), unknownEmail.Body.String())
	}
}

func TestSignupIssuesTokensAndConflicts(t *testing.T) {
	h, _ := newTestAPI(t)
	payload := map[string]string{
		"name": "New Member", "email": "new@yopmail.com", "password": "Secret@123",
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/signup", "", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: status %d body %s", rec.Code, rec.Body.String())
	}
	var pair tokenPairResponse
	decodeBody(t, rec, &pair)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}

	again := doJSON(t, h, http.MethodPost, "/v1/auth/signup", "", payload)
	if again.Code != http.StatusConflict {
		t.Fatalf("duplicate signup: status %d, want 409", again.Code)
	}
}

func TestAdminWildcardAndCredentialHiding(t *testing.T) {
	h, _ := newTestAPI(t)
	pair := signin(t, h, adminEmail)

	rec := doJSON(t, h, http.MethodGet, "/v1/users", pair.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list users: status %d body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if strings.Contains(body, "password") || strings.Contains(body, "refresh_digest") {
		t.Fatalf("credential material leaked: %s", body)
	}
}

func TestUserListPagination(t *testing.T) {
	h, _ := newTestAPI(t)
	pair := signin(t, h, adminEmail)

	type pagedUsers struct {
		Data  []userResponse `json:"data"`
		Total int64          `json:"total"`
	}

	// Two seeded accounts, one per page.
	first := doJSON(t, h, http.MethodGet, "/v1/users?page=1&limit=1", pair.AccessToken, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("page 1: status %d body %s", first.Code, first.Body.String())
	}
	var page1 pagedUsers
	decodeBody(t, first, &page1)
	if page1.Total != 2 || len(page1.Data) != 1 {
		t.Fatalf("page 1: total %d with %d records, want 2/1", page1.Total, len(page1.Data))
	}

	second := doJSON(t, h, http.MethodGet, "/v1/users?page=2&limit=1", pair.AccessToken, nil)
	if second.Code != http.StatusOK {
		t.Fatalf("page 2: status %d", second.Code)
	}
	var page2 pagedUsers
	decodeBody(t, second, &page2)
	if len(page2.Data) != 1 || page2.Data[0].ID == page1.Data[0].ID {
		t.Fatalf("page 2 must hold the remaining record, got %+v", page2.Data)
	}

	// Defaults cover both accounts in one page.
	all := doJSON(t, h, http.MethodGet, "/v1/users", pair.AccessToken, nil)
	var everything pagedUsers
	decodeBody(t, all, &everything)
	if len(everything.Data) != 2 {
		t.Fatalf("default page: %d records, want 2", len(everything.Data))
	}
}

func TestOwnershipOverHTTP(t *testing.T) {
	h, store := newTestAPI(t)
	pair := signin(t, h, memberEmail)
	ownID := userIDByEmail(t, store, memberEmail)
	adminID := userIDByEmail(t, store, adminEmail)

	own := doJSON(t, h, http.MethodPatch, fmt.Sprintf("/v1/users/%d", ownID), pair.AccessToken,
		map[string]string{"name": "Ale Updated"})
	if own.Code != http.StatusOK {
		t.Fatalf("update own profile: status %d body %s", own.Code, own.Body.String())
	}

	foreign := doJSON(t, h, http.MethodPatch, fmt.Sprintf("/v1/users/%d", adminID), pair.AccessToken,
		map[string]string{"name": "Hijacked"})
	if foreign.Code != http.StatusForbidden {
		t.Fatalf("update foreign profile: status %d, want 403", foreign.Code)
	}
	var body map[string]string
	decodeBody(t, foreign, &body)
	if body["error"] != ability.DefaultDenialReason {
		t.Fatalf("unexpected denial reason: %v", body)
	}
}

func TestInvertedRuleOverridesOwnership(t *testing.T) {
	h, store := newTestAPI(t)
	pair := signin(t, h, memberEmail)
	ownID := userIDByEmail(t, store, memberEmail)

	rec := doJSON(t, h, http.MethodDelete, fmt.Sprintf("/v1/users/%d", ownID), pair.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("delete own profile: status %d, want 403", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != "You are not allowed to perform this action" {
		t.Fatalf("inverted rule reason not surfaced: %v", body)
	}
}

func TestStoryOwnershipLifecycle(t *testing.T) {
	h, store := newTestAPI(t)
	memberPair := signin(t, h, memberEmail)
	memberID := userIDByEmail(t, store, memberEmail)

	created := doJSON(t, h, http.MethodPost, "/v1/stories", memberPair.AccessToken,
		map[string]string{"title": "First", "body": "once upon a time"})
	if created.Code != http.StatusCreated {
		t.Fatalf("create story: status %d body %s", created.Code, created.Body.String())
	}
	var story storyResponse
	decodeBody(t, created, &story)
	if story.CreatedBy != memberID {
		t.Fatalf("story owner = %d, want caller %d", story.CreatedBy, memberID)
	}

	updated := doJSON(t, h, http.MethodPatch, fmt.Sprintf("/v1/stories/%d", story.ID), memberPair.AccessToken,
		map[string]string{"title": "First, revised"})
	if updated.Code != http.StatusOK {
		t.Fatalf("update own story: status %d body %s", updated.Code, updated.Body.String())
	}

	// a second member account cannot touch someone else's story
	signup := doJSON(t, h, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"name": "Intruder", "email": "intruder@yopmail.com", "password": "Secret@123",
	})
	if signup.Code != http.StatusCreated {
		t.Fatalf("signup intruder: status %d", signup.Code)
	}
	var intruderPair tokenPairResponse
	decodeBody(t, signup, &intruderPair)

	foreign := doJSON(t, h, http.MethodPatch, fmt.Sprintf("/v1/stories/%d", story.ID), intruderPair.AccessToken,
		map[string]string{"title": "Stolen"})
	if foreign.Code != http.StatusForbidden {
		t.Fatalf("update foreign story: status %d, want 403", foreign.Code)
	}
}

func TestMissingSubjectIs404NotForbidden(t *testing.T) {
	h, _ := newTestAPI(t)
	pair := signin(t, h, adminEmail)

	rec := doJSON(t, h, http.MethodGet, "/v1/stories/9999", pair.AccessToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing story: status %d, want 404", rec.Code)
	}
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	h, store := newTestAPI(t)
	pair := signin(t, h, memberEmail)
	memberID := userIDByEmail(t, store, memberEmail)

	first := doJSON(t, h, http.MethodPost, "/v1/auth/refresh-token", "", map[string]any{
		"user_id": memberID, "refresh_token": pair.RefreshToken,
	})
	if first.Code != http.StatusOK {
		t.Fatalf("first refresh: status %d body %s", first.Code, first.Body.String())
	}

	replay := doJSON(t, h, http.MethodPost, "/v1/auth/refresh-token", "", map[string]any{
		"user_id": memberID, "refresh_token": pair.RefreshToken,
	})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: status %d, want 401", replay.Code)
	}
}

func TestLogoutRevokesRefreshCredential(t *testing.T) {
	h, store := newTestAPI(t)
	pair := signin(t, h, memberEmail)
	memberID := userIDByEmail(t, store, memberEmail)

	logout := doJSON(t, h, http.MethodPost, "/v1/auth/logout", pair.AccessToken, nil)
	if logout.Code != http.StatusOK {
		t.Fatalf("logout: status %d body %s", logout.Code, logout.Body.String())
	}
	var body map[string]bool
	decodeBody(t, logout, &body)
	if !body["revoked"] {
		t.Fatalf("logout must report revocation: %v", body)
	}

	refresh := doJSON(t, h, http.MethodPost, "/v1/auth/refresh-token", "", map[string]any{
		"user_id": memberID, "refresh_token": pair.RefreshToken,
	})
	if refresh.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: status %d, want 401", refresh.Code)
	}
}

func TestRefreshTokenRejectedAsAccessToken(t *testing.T) {
	h, _ := newTestAPI(t)
	pair := signin(t, h, memberEmail)

	rec := doJSON(t, h, http.MethodGet, "/v1/users", pair.RefreshToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token on protected route: status %d, want 401", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/users", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: status %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("missing CORS headers")
	}
}

func TestRolesRequireWildcardAbility(t *testing.T) {
	h, _ := newTestAPI(t)
	memberPair := signin(t, h, memberEmail)
	adminPair := signin(t, h, adminEmail)

	denied := doJSON(t, h, http.MethodGet, "/v1/roles", memberPair.AccessToken, nil)
	if denied.Code != http.StatusForbidden {
		t.Fatalf("member listing roles: status %d, want 403", denied.Code)
	}

	allowed := doJSON(t, h, http.MethodGet, "/v1/roles", adminPair.AccessToken, nil)
	if allowed.Code != http.StatusOK {
		t.Fatalf("admin listing roles: status %d body %s", allowed.Code, allowed.Body.String())
	}
}

func TestPermissionValidationRejectsUnknownVerbs(t *testing.T) {
	h, _ := newTestAPI(t)
	pair := signin(t, h, adminEmail)

	rec := doJSON(t, h, http.MethodPost, "/v1/permissions", pair.AccessToken, map[string]any{
		"role_id": 2, "action": "obliterate", "subject": "Story",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: status %d, want 400", rec.Code)
	}
}
