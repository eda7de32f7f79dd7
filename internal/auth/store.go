package auth

import "context"

// Store describes persistence operations required by the authorization
// subsystem.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	Stories() StoryStore
}

// UserStore manages user accounts and the refresh-token digest column.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// List returns one page of users ordered by id, plus the total count.
	List(ctx context.Context, page Page) ([]*User, int64, error)
	Update(ctx context.Context, id int64, upd UserUpdate) (*User, error)
	Delete(ctx context.Context, id int64) error

	// SetRefreshDigest unconditionally overwrites the stored digest.
	SetRefreshDigest(ctx context.Context, userID int64, digest string) error
	// RotateRefreshDigest replaces the digest only while the stored value
	// still equals prev. It reports false when a concurrent rotation or
	// logout already replaced it, closing the refresh replay window.
	RotateRefreshDigest(ctx context.Context, userID int64, prev, next string) (bool, error)
	// ClearRefreshDigest nulls the digest, reporting whether a row changed.
	ClearRefreshDigest(ctx context.Context, userID int64) (bool, error)
}

// RoleStore manages roles.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id int64) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Update(ctx context.Context, id int64, name string) (*Role, error)
	Delete(ctx context.Context, id int64) error
}

// PermissionStore manages stored authorization rules. ListByRole preserves
// declaration order; the decision engine depends on it.
type PermissionStore interface {
	Create(ctx context.Context, p *Permission) error
	Find(ctx context.Context, id int64) (*Permission, error)
	List(ctx context.Context) ([]*Permission, error)
	ListByRole(ctx context.Context, roleID int64) ([]*Permission, error)
	Update(ctx context.Context, id int64, upd PermissionUpdate) (*Permission, error)
	Delete(ctx context.Context, id int64) error
}

// StoryStore manages the ownable content records.
type StoryStore interface {
	Create(ctx context.Context, story *Story) error
	Find(ctx context.Context, id int64) (*Story, error)
	List(ctx context.Context) ([]*Story, error)
	Update(ctx context.Context, id int64, upd StoryUpdate) (*Story, error)
	Delete(ctx context.Context, id int64) error
}
