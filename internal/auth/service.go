package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignupRoleID is the role assigned to self-registered accounts.
const DefaultSignupRoleID int64 = 2

// Service implements the credential lifecycle: signup, signin, refresh-token
// rotation and logout. It composes a Store, a token Signer and a Digest as
// injected capabilities; there is no shared mutable state beyond what the
// store itself guards.
type Service struct {
	store        Store
	signer       *Signer
	digest       Digest
	signupRoleID int64
	now          func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSignupRoleID overrides the role granted on signup.
func WithSignupRoleID(roleID int64) ServiceOption {
	return func(s *Service) {
		if roleID > 0 {
			s.signupRoleID = roleID
		}
	}
}

// NewService constructs the credential service.
func NewService(store Store, signer *Signer, digest Digest, opts ...ServiceOption) *Service {
	svc := &Service{
		store:        store,
		signer:       signer,
		digest:       digest,
		signupRoleID: DefaultSignupRoleID,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Signup registers a new account and signs it in. A duplicate email surfaces
// as ErrConflict before any credentials are minted.
func (s *Service) Signup(ctx context.Context, email, password, name string) (TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	_, err := s.store.Users().FindByEmail(ctx, email)
	switch {
	case err == nil:
		return TokenPair{}, fmt.Errorf("%w: a user with this email already exists", ErrConflict)
	case !errors.Is(err, ErrNotFound):
		return TokenPair{}, fmt.Errorf("%w: lookup email: %v", ErrInternal, err)
	}

	passwordHash, err := s.digest.Hash(password)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	user := &User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: passwordHash,
		RoleID:       s.signupRoleID,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return TokenPair{}, err
		}
		return TokenPair{}, fmt.Errorf("%w: create user: %v", ErrInternal, err)
	}
	return s.issueAndStore(ctx, user)
}

// Signin authenticates email/password credentials. Every failure mode maps
// to the same denial so the response never reveals whether the email exists.
func (s *Service) Signin(ctx context.Context, email, password string) (TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, ErrAuthenticationDenied
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrAuthenticationDenied
		}
		return TokenPair{}, fmt.Errorf("%w: lookup email: %v", ErrInternal, err)
	}
	if !s.digest.Compare(password, user.PasswordHash) {
		return TokenPair{}, ErrAuthenticationDenied
	}
	return s.issueAndStore(ctx, user)
}

// Refresh rotates credentials: the presented refresh token must carry a
// valid signature, belong to userID and digest-match the stored value. The
// digest swap is a compare-and-set, so of two concurrent refreshes with the
// same token exactly one succeeds; the loser is denied.
func (s *Service) Refresh(ctx context.Context, userID int64, refreshToken string) (TokenPair, error) {
	claims, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if subject, convErr := strconv.ParseInt(claims.Subject, 10, 64); convErr != nil || subject != userID {
		return TokenPair{}, ErrAuthenticationDenied
	}

	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrAuthenticationDenied
		}
		return TokenPair{}, fmt.Errorf("%w: load user %d: %v", ErrInternal, userID, err)
	}
	if user.RefreshDigest == nil {
		return TokenPair{}, ErrAuthenticationDenied
	}
	if !s.digest.CompareToken(refreshToken, *user.RefreshDigest) {
		return TokenPair{}, ErrAuthenticationDenied
	}

	pair, err := s.signer.IssuePair(user.ID, user.Email, user.RoleID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	nextDigest, err := s.digest.HashToken(pair.RefreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	rotated, err := s.store.Users().RotateRefreshDigest(ctx, user.ID, *user.RefreshDigest, nextDigest)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: refresh-state update failed for user %d: %v", ErrInternal, user.ID, err)
	}
	if !rotated {
		// A concurrent refresh or logout won the race; this token is spent.
		return TokenPair{}, ErrAuthenticationDenied
	}
	return pair, nil
}

// Logout revokes the stored refresh digest, reporting whether a record was
// affected. Previously issued refresh tokens are dead afterwards.
func (s *Service) Logout(ctx context.Context, userID int64) (bool, error) {
	affected, err := s.store.Users().ClearRefreshDigest(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: refresh-state update failed for user %d: %v", ErrInternal, userID, err)
	}
	return affected, nil
}

// CreateUser provisions an account administratively. Unlike Signup it
// accepts an explicit role and never mints tokens.
func (s *Service) CreateUser(ctx context.Context, email, password, name string, roleID int64) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if roleID <= 0 {
		roleID = s.signupRoleID
	}
	passwordHash, err := s.digest.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	user := &User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: passwordHash,
		RoleID:       roleID,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: a user with this email already exists", ErrConflict)
		}
		return nil, fmt.Errorf("%w: create user: %v", ErrInternal, err)
	}
	return user, nil
}

// UpdateUser applies a partial account patch, hashing a replacement password
// when one is supplied.
func (s *Service) UpdateUser(ctx context.Context, id int64, name, email, password *string, roleID *int64) (*User, error) {
	upd := UserUpdate{Name: name, RoleID: roleID}
	if email != nil {
		normalized := normalizeEmail(*email)
		if normalized == "" {
			return nil, fmt.Errorf("%w: email must not be empty", ErrInvalidInput)
		}
		upd.Email = &normalized
	}
	if password != nil {
		if *password == "" {
			return nil, fmt.Errorf("%w: password must not be empty", ErrInvalidInput)
		}
		hash, err := s.digest.Hash(*password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		upd.PasswordHash = &hash
	}
	return s.store.Users().Update(ctx, id, upd)
}

// Authenticate verifies an access token and returns the caller identity.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := s.signer.VerifyAccess(accessToken)
	if err != nil {
		return Identity{}, err
	}
	return claims.Identity()
}

// issueAndStore mints a pair and overwrites the stored refresh digest. The
// digest write either completes or the whole operation fails; a pair is
// never returned with stale refresh state.
func (s *Service) issueAndStore(ctx context.Context, user *User) (TokenPair, error) {
	pair, err := s.signer.IssuePair(user.ID, user.Email, user.RoleID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	digest, err := s.digest.HashToken(pair.RefreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := s.store.Users().SetRefreshDigest(ctx, user.ID, digest); err != nil {
		return TokenPair{}, fmt.Errorf("%w: refresh-state update failed for user %d: %v", ErrInternal, user.ID, err)
	}
	return pair, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
