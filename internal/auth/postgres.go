package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

const uniqueViolation = "23505"

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore             { return &userStore{db: s.db} }
func (s *PGStore) Roles() RoleStore             { return &roleStore{db: s.db} }
func (s *PGStore) Permissions() PermissionStore { return &permissionStore{db: s.db} }
func (s *PGStore) Stories() StoryStore          { return &storyStore{db: s.db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, name, email, password_hash, role_id, refresh_digest, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.RoleID, &u.RefreshDigest, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *User) error {
	row := s.db.QueryRowContext(ctx,
		`insert into users(name, email, password_hash, role_id) values($1,$2,$3,$4)
		 returning id, created_at, updated_at`,
		u.Name, u.Email, u.PasswordHash, u.RoleID,
	)
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email %s", ErrConflict, u.Email)
		}
		return err
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) List(ctx context.Context, page Page) ([]*User, int64, error) {
	page = page.Normalize()
	var total int64
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by id limit $1 offset $2`,
		page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (s *userStore) Update(ctx context.Context, id int64, upd UserUpdate) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`update users set
			name          = coalesce($2, name),
			email         = coalesce($3, email),
			password_hash = coalesce($4, password_hash),
			role_id       = coalesce($5, role_id),
			updated_at    = now()
		 where id=$1
		 returning `+userColumns,
		id, upd.Name, upd.Email, upd.PasswordHash, upd.RoleID))
}

func (s *userStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *userStore) SetRefreshDigest(ctx context.Context, userID int64, digest string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set refresh_digest=$2, updated_at=now() where id=$1`, userID, digest)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// RotateRefreshDigest is the compare-and-set making rotation single-use: the
// update only lands while the stored digest still equals prev.
func (s *userStore) RotateRefreshDigest(ctx context.Context, userID int64, prev, next string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update users set refresh_digest=$3, updated_at=now()
		 where id=$1 and refresh_digest=$2`, userID, prev, next)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *userStore) ClearRefreshDigest(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update users set refresh_digest=null, updated_at=now()
		 where id=$1 and refresh_digest is not null`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Role store ---------------------------------------------------------------
type roleStore struct{ db *sql.DB }

func scanRole(row interface{ Scan(...any) error }) (*Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) Create(ctx context.Context, role *Role) error {
	row := s.db.QueryRowContext(ctx,
		`insert into roles(name) values($1) returning id, created_at, updated_at`, role.Name)
	if err := row.Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: role %s", ErrConflict, role.Name)
		}
		return err
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id int64) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at from roles where id=$1`, id))
}

func (s *roleStore) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, created_at, updated_at from roles order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *roleStore) Update(ctx context.Context, id int64, name string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`update roles set name=$2, updated_at=now() where id=$1
		 returning id, name, created_at, updated_at`, id, name))
}

func (s *roleStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id=$1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Permission store ---------------------------------------------------------
type permissionStore struct{ db *sql.DB }

const permissionColumns = `id, role_id, action, subject, inverted, conditions, reason, created_at, updated_at`

func scanPermission(row interface{ Scan(...any) error }) (*Permission, error) {
	var (
		p          Permission
		conditions []byte
	)
	if err := row.Scan(&p.ID, &p.RoleID, &p.Action, &p.Subject, &p.Inverted, &conditions, &p.Reason, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(conditions) > 0 {
		var c Conditions
		if err := json.Unmarshal(conditions, &c); err != nil {
			return nil, fmt.Errorf("permission %d: decode conditions: %w", p.ID, err)
		}
		p.Conditions = &c
	}
	return &p, nil
}

func marshalConditions(c *Conditions) (any, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (s *permissionStore) Create(ctx context.Context, p *Permission) error {
	conditions, err := marshalConditions(p.Conditions)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx,
		`insert into permissions(role_id, action, subject, inverted, conditions, reason)
		 values($1,$2,$3,$4,$5,$6) returning id, created_at, updated_at`,
		p.RoleID, p.Action, p.Subject, p.Inverted, conditions, p.Reason,
	)
	return row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (s *permissionStore) Find(ctx context.Context, id int64) (*Permission, error) {
	return scanPermission(s.db.QueryRowContext(ctx,
		`select `+permissionColumns+` from permissions where id=$1`, id))
}

func (s *permissionStore) List(ctx context.Context) ([]*Permission, error) {
	return s.queryPermissions(ctx,
		`select `+permissionColumns+` from permissions order by id`)
}

// ListByRole preserves declaration order; the decision engine's conflict
// resolution depends on it.
func (s *permissionStore) ListByRole(ctx context.Context, roleID int64) ([]*Permission, error) {
	return s.queryPermissions(ctx,
		`select `+permissionColumns+` from permissions where role_id=$1 order by id`, roleID)
}

func (s *permissionStore) queryPermissions(ctx context.Context, query string, args ...any) ([]*Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *permissionStore) Update(ctx context.Context, id int64, upd PermissionUpdate) (*Permission, error) {
	conditions, err := marshalConditions(upd.Conditions)
	if err != nil {
		return nil, err
	}
	return scanPermission(s.db.QueryRowContext(ctx,
		`update permissions set
			action     = coalesce($2, action),
			subject    = coalesce($3, subject),
			inverted   = coalesce($4, inverted),
			conditions = coalesce($5, conditions),
			reason     = coalesce($6, reason),
			updated_at = now()
		 where id=$1
		 returning `+permissionColumns,
		id, upd.Action, upd.Subject, upd.Inverted, conditions, upd.Reason))
}

func (s *permissionStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id=$1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Story store --------------------------------------------------------------
type storyStore struct{ db *sql.DB }

const storyColumns = `id, title, body, created_by, created_at, updated_at`

func scanStory(row interface{ Scan(...any) error }) (*Story, error) {
	var st Story
	if err := row.Scan(&st.ID, &st.Title, &st.Body, &st.CreatedBy, &st.CreatedAt, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *storyStore) Create(ctx context.Context, story *Story) error {
	row := s.db.QueryRowContext(ctx,
		`insert into stories(title, body, created_by) values($1,$2,$3)
		 returning id, created_at, updated_at`,
		story.Title, story.Body, story.CreatedBy,
	)
	return row.Scan(&story.ID, &story.CreatedAt, &story.UpdatedAt)
}

func (s *storyStore) Find(ctx context.Context, id int64) (*Story, error) {
	return scanStory(s.db.QueryRowContext(ctx,
		`select `+storyColumns+` from stories where id=$1`, id))
}

func (s *storyStore) List(ctx context.Context) ([]*Story, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+storyColumns+` from stories order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stories []*Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, st)
	}
	return stories, rows.Err()
}

func (s *storyStore) Update(ctx context.Context, id int64, upd StoryUpdate) (*Story, error) {
	return scanStory(s.db.QueryRowContext(ctx,
		`update stories set
			title      = coalesce($2, title),
			body       = coalesce($3, body),
			updated_at = now()
		 where id=$1
		 returning `+storyColumns,
		id, upd.Title, upd.Body))
}

func (s *storyStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from stories where id=$1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
