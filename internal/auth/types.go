package auth

import "time"

// User is a registered account. RefreshDigest holds the digest of the most
// recently issued refresh token (bcrypt over its SHA-256 sum); it is nil
// until the first sign-in and cleared again on logout.
type User struct {
	ID            int64
	Name          string
	Email         string
	PasswordHash  string
	RoleID        int64
	RefreshDigest *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role groups permissions. Users reference exactly one role.
type Role struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Permission is a stored authorization rule scoped to a role. Conditions is
// nil for unconditional rules; otherwise it carries the ownership template
// rendered per request by the ability compiler. Inverted rules forbid instead
// of grant and take precedence over permissive matches.
type Permission struct {
	ID         int64
	RoleID     int64
	Action     string
	Subject    string
	Inverted   bool
	Conditions *Conditions
	Reason     *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Conditions is the structured condition column. Ownership is the only
// recognized key: a template whose sole placeholder is the caller id.
type Conditions struct {
	Ownership string `json:"ownership"`
}

// Story is the ownable content record authored by users.
type Story struct {
	ID        int64
	Title     string
	Body      string
	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity is the authenticated caller derived from verified access token
// claims. It carries everything condition rendering may reference.
type Identity struct {
	UserID int64
	Email  string
	RoleID int64
}

// TokenPair bundles a freshly signed access/refresh token set. Only the
// refresh token digest is ever persisted.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// DefaultPageSize bounds paginated listings when the caller does not specify
// a size.
const DefaultPageSize = 10

// Page bounds a paginated list query. The zero value normalizes to the first
// page at DefaultPageSize.
type Page struct {
	Number int
	Size   int
}

// Normalize applies the first-page and default-size fallbacks.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	return p
}

// Offset is the number of records skipped before the page starts.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// UserUpdate is a partial user patch; nil fields are left untouched.
type UserUpdate struct {
	Name         *string
	Email        *string
	PasswordHash *string
	RoleID       *int64
}

// PermissionUpdate is a partial permission patch.
type PermissionUpdate struct {
	Action     *string
	Subject    *string
	Inverted   *bool
	Conditions *Conditions
	Reason     *string
}

// StoryUpdate is a partial story patch.
type StoryUpdate struct {
	Title *string
	Body  *string
}
