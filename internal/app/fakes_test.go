package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"yaw/api/internal/store"
)

// fakeDirectory is an in-memory user directory. Question texts are joined on
// read like the SQL query does.
type fakeDirectory struct {
	mu      sync.Mutex
	users   map[string]store.User
	byEmail map[string]string
	catalog map[int]string
	pingErr error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:   map[string]store.User{},
		byEmail: map[string]string{},
		catalog: map[int]string{},
	}
}

func (f *fakeDirectory) joined(user store.User) store.User {
	for i := range user.Secrets {
		user.Secrets[i].Question = f.catalog[user.Secrets[i].QuestionID]
	}
	return user
}

func (f *fakeDirectory) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return f.joined(f.users[id]), nil
}

func (f *fakeDirectory) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return f.joined(user), nil
}

func (f *fakeDirectory) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[user.Email]; ok {
		return store.ErrDuplicateEmail
	}
	f.users[user.ID] = user
	f.byEmail[user.Email] = user.ID
	return nil
}

func (f *fakeDirectory) UpdateUserPassword(_ context.Context, userID, passwordHash string, updatedAt time.Time) error {
	return f.update(userID, func(u *store.User) {
		u.PasswordHash = passwordHash
		u.UpdatedAt = updatedAt
	})
}

func (f *fakeDirectory) UpdateUser(_ context.Context, userID string, update store.UserUpdate) error {
	return f.update(userID, func(u *store.User) {
		if update.Name != nil {
			u.Name = *update.Name
		}
		if update.IsActive != nil {
			u.IsActive = *update.IsActive
		}
		if update.Role != nil {
			u.Role = *update.Role
		}
		if update.PasswordHash != nil {
			u.PasswordHash = *update.PasswordHash
		}
	})
}

func (f *fakeDirectory) UpdateUserAvatar(_ context.Context, userID, avatar string) error {
	return f.update(userID, func(u *store.User) { u.Avatar = avatar })
}

func (f *fakeDirectory) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	return f.update(userID, func(u *store.User) { u.LastLogin = &at })
}

func (f *fakeDirectory) update(userID string, fn func(*store.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	fn(&user)
	f.users[userID] = user
	return nil
}

func (f *fakeDirectory) EmailExists(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byEmail[email]
	return ok, nil
}

func (f *fakeDirectory) CountUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeDirectory) ListSecretQuestions(context.Context) ([]store.SecretQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.SecretQuestion, 0, len(f.catalog))
	for id, text := range f.catalog {
		out = append(out, store.SecretQuestion{ID: id, Question: text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDirectory) SeedSecretQuestions(_ context.Context, questions []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.catalog) > 0 {
		return 0, nil
	}
	for i, q := range questions {
		f.catalog[i+1] = q
	}
	return len(questions), nil
}

func (f *fakeDirectory) ListUsers(_ context.Context, params store.ListUsersParams) (store.UserPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		if params.Search != "" && !strings.Contains(strings.ToLower(user.Name+" "+user.Email), strings.ToLower(params.Search)) {
			continue
		}
		matched = append(matched, user)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Email < matched[j].Email })
	return store.UserPage{Users: matched, Total: len(matched), Page: params.Page, Limit: params.Limit}, nil
}

func (f *fakeDirectory) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeDirectory) user(email string) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joined(f.users[f.byEmail[email]])
}
