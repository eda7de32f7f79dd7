package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"storyhub.org/internal/auth"
	"storyhub.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/signup",
	"/v1/auth/signin",
	"/v1/auth/refresh-token",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/metrics",
	"/openapi.yaml",
	"/",
}

// withAuth authenticates every non-public request. Extraction and
// verification failures produce one uniform denial; the distinct internal
// cause is only logged.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			denyAuthentication(w, r, err)
			return
		}

		identity, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrAuthenticationDenied) {
				denyAuthentication(w, r, err)
				return
			}
			handleServiceError(w, r, err)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), identity)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// denyAuthentication responds identically for every authentication failure
// so the caller cannot probe which check tripped.
func denyAuthentication(w http.ResponseWriter, r *http.Request, cause error) {
	obs.LogRequest(map[string]any{
		"level": "warn",
		"msg":   "authentication denied",
		"path":  r.URL.Path,
		"cause": cause.Error(),
	})
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, r, http.StatusUnauthorized, "authentication failed")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
