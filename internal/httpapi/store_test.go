package httpapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"storyhub.org/internal/auth"
)

// memStore is a full in-memory auth.Store for exercising the API end to end
// without a database.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]*auth.User
	roles   map[int64]*auth.Role
	perms   map[int64]*auth.Permission
	stories map[int64]*auth.Story
}

func newMemStore() *memStore {
	return &memStore{
		nextID:  1,
		users:   make(map[int64]*auth.User),
		roles:   make(map[int64]*auth.Role),
		perms:   make(map[int64]*auth.Permission),
		stories: make(map[int64]*auth.Story),
	}
}

func (m *memStore) Users() auth.UserStore             { return (*memUsers)(m) }
func (m *memStore) Roles() auth.RoleStore             { return (*memRoles)(m) }
func (m *memStore) Permissions() auth.PermissionStore { return (*memPermissions)(m) }
func (m *memStore) Stories() auth.StoryStore          { return (*memStories)(m) }

func (m *memStore) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

// users ---------------------------------------------------------------------

type memUsers memStore

func (m *memUsers) Create(_ context.Context, u *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return auth.ErrConflict
		}
	}
	u.ID = (*memStore)(m).id()
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	clone := *u
	m.users[u.ID] = &clone
	return nil
}

func (m *memUsers) Find(_ context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memUsers) List(_ context.Context, page auth.Page) ([]*auth.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page = page.Normalize()
	out := make([]*auth.User, 0, len(m.users))
	for _, u := range m.users {
		clone := *u
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	start := page.Offset()
	if start > len(out) {
		start = len(out)
	}
	end := start + page.Size
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (m *memUsers) Update(_ context.Context, id int64, upd auth.UserUpdate) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.RoleID != nil {
		u.RoleID = *upd.RoleID
	}
	u.UpdatedAt = time.Now().UTC()
	clone := *u
	return &clone, nil
}

func (m *memUsers) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) SetRefreshDigest(_ context.Context, userID int64, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.RefreshDigest = &digest
	return nil
}

func (m *memUsers) RotateRefreshDigest(_ context.Context, userID int64, prev, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.RefreshDigest == nil || *u.RefreshDigest != prev {
		return false, nil
	}
	u.RefreshDigest = &next
	return true, nil
}

func (m *memUsers) ClearRefreshDigest(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.RefreshDigest == nil {
		return false, nil
	}
	u.RefreshDigest = nil
	return true, nil
}

// roles ---------------------------------------------------------------------

type memRoles memStore

func (m *memRoles) Create(_ context.Context, role *auth.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return auth.ErrConflict
		}
	}
	role.ID = (*memStore)(m).id()
	role.CreatedAt = time.Now().UTC()
	role.UpdatedAt = role.CreatedAt
	clone := *role
	m.roles[role.ID] = &clone
	return nil
}

func (m *memRoles) Find(_ context.Context, id int64) (*auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *role
	return &clone, nil
}

func (m *memRoles) List(context.Context) ([]*auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*auth.Role, 0, len(m.roles))
	for _, role := range m.roles {
		clone := *role
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRoles) Update(_ context.Context, id int64, name string) (*auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	role.Name = name
	role.UpdatedAt = time.Now().UTC()
	clone := *role
	return &clone, nil
}

func (m *memRoles) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return auth.ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

// permissions ---------------------------------------------------------------

type memPermissions memStore

func (m *memPermissions) Create(_ context.Context, p *auth.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = (*memStore)(m).id()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	clone := *p
	m.perms[p.ID] = &clone
	return nil
}

func (m *memPermissions) Find(_ context.Context, id int64) (*auth.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *memPermissions) List(context.Context) ([]*auth.Permission, error) {
	return m.collect(func(*auth.Permission) bool { return true })
}

func (m *memPermissions) ListByRole(_ context.Context, roleID int64) ([]*auth.Permission, error) {
	return m.collect(func(p *auth.Permission) bool { return p.RoleID == roleID })
}

func (m *memPermissions) collect(keep func(*auth.Permission) bool) ([]*auth.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*auth.Permission
	for _, p := range m.perms {
		if keep(p) {
			clone := *p
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memPermissions) Update(_ context.Context, id int64, upd auth.PermissionUpdate) (*auth.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Action != nil {
		p.Action = *upd.Action
	}
	if upd.Subject != nil {
		p.Subject = *upd.Subject
	}
	if upd.Inverted != nil {
		p.Inverted = *upd.Inverted
	}
	if upd.Conditions != nil {
		p.Conditions = upd.Conditions
	}
	if upd.Reason != nil {
		p.Reason = upd.Reason
	}
	p.UpdatedAt = time.Now().UTC()
	clone := *p
	return &clone, nil
}

func (m *memPermissions) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perms[id]; !ok {
		return auth.ErrNotFound
	}
	delete(m.perms, id)
	return nil
}

// stories -------------------------------------------------------------------

type memStories memStore

func (m *memStories) Create(_ context.Context, story *auth.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	story.ID = (*memStore)(m).id()
	story.CreatedAt = time.Now().UTC()
	story.UpdatedAt = story.CreatedAt
	clone := *story
	m.stories[story.ID] = &clone
	return nil
}

func (m *memStories) Find(_ context.Context, id int64) (*auth.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	story, ok := m.stories[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *story
	return &clone, nil
}

func (m *memStories) List(context.Context) ([]*auth.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*auth.Story, 0, len(m.stories))
	for _, story := range m.stories {
		clone := *story
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStories) Update(_ context.Context, id int64, upd auth.StoryUpdate) (*auth.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	story, ok := m.stories[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Title != nil {
		story.Title = *upd.Title
	}
	if upd.Body != nil {
		story.Body = *upd.Body
	}
	story.UpdatedAt = time.Now().UTC()
	clone := *story
	return &clone, nil
}

func (m *memStories) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stories[id]; !ok {
		return auth.ErrNotFound
	}
	delete(m.stories, id)
	return nil
}
