package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer     = "storyhub"
	defaultAccessTTL  = 10 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// ErrInvalidToken indicates the presented token failed verification. It
// unwraps to ErrAuthenticationDenied; the concrete cause (expiry, malformed
// payload, signature mismatch) is carried by VerifyError for internal
// logging only, so callers observe a single uniform failure.
var ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrAuthenticationDenied)

// VerifyCause classifies internal verification failures.
type VerifyCause int

const (
	CauseUnknown VerifyCause = iota
	CauseExpired
	CauseMalformed
	CauseSignatureMismatch
)

func (c VerifyCause) String() string {
	switch c {
	case CauseExpired:
		return "expired"
	case CauseMalformed:
		return "malformed"
	case CauseSignatureMismatch:
		return "signature_mismatch"
	default:
		return "unknown"
	}
}

// VerifyError pairs the uniform sentinel with the internal cause.
type VerifyError struct {
	Cause VerifyCause
}

func (e *VerifyError) Error() string { return "auth: invalid token (" + e.Cause.String() + ")" }

// Unwrap makes errors.Is(err, ErrInvalidToken) hold for every cause.
func (e *VerifyError) Unwrap() error { return ErrInvalidToken }

// TokenConfig carries signing material and lifetimes, injected once at
// construction. Access and refresh tokens are signed with independent
// secrets so a leaked access secret cannot forge refresh tokens.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Claims are the signed token payload shared by both token kinds.
type Claims struct {
	Email  string `json:"email"`
	RoleID int64  `json:"role_id"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into the request identity.
func (c *Claims) Identity() (Identity, error) {
	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return Identity{}, &VerifyError{Cause: CauseMalformed}
	}
	return Identity{UserID: userID, Email: c.Email, RoleID: c.RoleID}, nil
}

// Signer issues and verifies HS256 token pairs.
type Signer struct {
	cfg TokenConfig
	now func() time.Time
}

// NewSigner validates the configuration and constructs a Signer.
func NewSigner(cfg TokenConfig) (*Signer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("auth: both access and refresh secrets are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		cfg.Issuer = defaultIssuer
	}
	return &Signer{cfg: cfg, now: time.Now}, nil
}

// IssuePair signs a fresh access/refresh pair. A failure on either signature
// surfaces as a terminal issuance error; a partial pair is never returned.
func (s *Signer) IssuePair(userID int64, email string, roleID int64) (TokenPair, error) {
	now := s.now().UTC()
	accessExp := now.Add(s.cfg.AccessTTL)
	refreshExp := now.Add(s.cfg.RefreshTTL)

	access, err := s.sign(userID, email, roleID, now, accessExp, s.cfg.AccessSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: token issuance failed: %w", err)
	}
	refresh, err := s.sign(userID, email, roleID, now, refreshExp, s.cfg.RefreshSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: token issuance failed: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates an access token signature and claims.
func (s *Signer) VerifyAccess(token string) (*Claims, error) {
	return s.verify(token, s.cfg.AccessSecret)
}

// VerifyRefresh validates a refresh token signature and claims.
func (s *Signer) VerifyRefresh(token string) (*Claims, error) {
	return s.verify(token, s.cfg.RefreshSecret)
}

func (s *Signer) sign(userID int64, email string, roleID int64, now, exp time.Time, secret []byte) (string, error) {
	claims := Claims{
		Email:  email,
		RoleID: roleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Signer) verify(token string, secret []byte) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &VerifyError{Cause: CauseMalformed}
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.cfg.Issuer))
	if err != nil {
		return nil, &VerifyError{Cause: classifyJWTError(err)}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, &VerifyError{Cause: CauseMalformed}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, &VerifyError{Cause: CauseMalformed}
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, &VerifyError{Cause: CauseMalformed}
	}
	return claims, nil
}

func classifyJWTError(err error) VerifyCause {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return CauseExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return CauseSignatureMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return CauseMalformed
	default:
		return CauseUnknown
	}
}
