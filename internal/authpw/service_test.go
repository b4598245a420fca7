package authpw

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"yaw/api/internal/auth"
	"yaw/api/internal/session"
	"yaw/api/internal/store"
)

// fakeUserStore is an in-memory UserStore. Question texts are joined from
// catalog on read, like the SQL LEFT JOIN.
type fakeUserStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	byEmail  map[string]string
	catalog  map[int]string
	lastSeen map[string]time.Time
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:    map[string]store.User{},
		byEmail:  map[string]string{},
		lastSeen: map[string]time.Time{},
		catalog: map[int]string{
			1: "What was the name of your first pet?",
			2: "In what city were you born?",
			3: "What is your mother's maiden name?",
			4: "What was your childhood nickname?",
		},
	}
}

func (f *fakeUserStore) joined(user store.User) store.User {
	for i := range user.Secrets {
		user.Secrets[i].Question = f.catalog[user.Secrets[i].QuestionID]
	}
	return user
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return f.joined(f.users[id]), nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return f.joined(user), nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[user.Email]; ok {
		return store.ErrDuplicateEmail
	}
	f.users[user.ID] = user
	f.byEmail[user.Email] = user.ID
	return nil
}

func (f *fakeUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = updatedAt
	f.users[userID] = user
	return nil
}

func (f *fakeUserStore) UpdateUser(_ context.Context, userID string, update store.UserUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if update.Email != nil {
		if other, taken := f.byEmail[*update.Email]; taken && other != userID {
			return store.ErrDuplicateEmail
		}
		delete(f.byEmail, user.Email)
		user.Email = *update.Email
		f.byEmail[user.Email] = userID
	}
	if update.Name != nil {
		user.Name = *update.Name
	}
	if update.IsActive != nil {
		user.IsActive = *update.IsActive
	}
	if update.Role != nil {
		user.Role = *update.Role
	}
	if update.PasswordHash != nil {
		user.PasswordHash = *update.PasswordHash
	}
	f.users[userID] = user
	return nil
}

func (f *fakeUserStore) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen[userID] = at
	return nil
}

func (f *fakeUserStore) EmailExists(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byEmail[email]
	return ok, nil
}

func (f *fakeUserStore) CountUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeUserStore) ListSecretQuestions(context.Context) ([]store.SecretQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.SecretQuestion, 0, len(f.catalog))
	for id, text := range f.catalog {
		out = append(out, store.SecretQuestion{ID: id, Question: text})
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	emails []string
}

func (n *recordingNotifier) PasswordChanged(_ context.Context, email, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, email)
	return nil
}

type fixture struct {
	svc      *Service
	users    *fakeUserStore
	grants   *session.MemoryStore
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		users:    newFakeUserStore(),
		grants:   session.NewMemoryStore(),
		notifier: &recordingNotifier{},
		now:      time.Now(),
	}
	if opts.Hasher == nil {
		opts.Hasher = NewBcryptHasher(bcrypt.MinCost)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return f.now }
	}
	opts.Notifier = f.notifier
	f.svc = NewService(f.users, auth.NewSigner("test-secret").WithClock(opts.Now), f.grants, opts)
	return f
}

func (f *fixture) register(t *testing.T, email, password string) store.User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), RegisterRequest{
		Name:        "Test User",
		Email:       email,
		Password:    password,
		QuestionIDs: []int{1, 2, 3},
		Answers:     []string{"rex", "paris", "smith"},
	})
	require.NoError(t, err)
	return user
}

func TestSelectQuestionSamplesAllSlots(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, "ada@example.com", "correct horse")

	seen := map[int]string{}
	for i := 0; i < 300; i++ {
		q, err := f.svc.SelectQuestion(context.Background(), "ada@example.com")
		require.NoError(t, err)
		require.Contains(t, []int{1, 2, 3}, q.ID)
		seen[q.ID] = q.Text
	}

	assert.Len(t, seen, 3, "all three slots should be sampled")
	assert.Equal(t, "What was the name of your first pet?", seen[1])
	assert.Equal(t, "In what city were you born?", seen[2])
	assert.Equal(t, "What is your mother's maiden name?", seen[3])
}

func TestSelectQuestionUsesInjectedSource(t *testing.T) {
	f := newFixture(t, Options{Intn: func(n int) int { return n - 1 }})
	f.register(t, "ada@example.com", "correct horse")

	q, err := f.svc.SelectQuestion(context.Background(), "  ADA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, Question{ID: 3, Text: "What is your mother's maiden name?"}, q)
}

func TestSelectQuestionErrors(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.register(t, "ada@example.com", "correct horse")

	_, err := f.svc.SelectQuestion(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.SelectQuestion(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	delete(f.users.catalog, user.Secrets[1].QuestionID)
	_, err = f.svc.SelectQuestion(context.Background(), "ada@example.com")
	assert.ErrorIs(t, err, ErrDataIntegrity)
}

func TestVerifyAnswer(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, "ada@example.com", "correct horse")

	tests := []struct {
		name       string
		email      string
		questionID int
		answer     string
		wantMatch  bool
		wantErr    error
	}{
		{name: "slot one matches", email: "ada@example.com", questionID: 1, answer: "rex", wantMatch: true},
		{name: "slot three matches", email: "ada@example.com", questionID: 3, answer: "smith", wantMatch: true},
		{name: "wrong slot", email: "ada@example.com", questionID: 2, answer: "rex"},
		{name: "case sensitive", email: "ada@example.com", questionID: 1, answer: "Rex"},
		{name: "question zero", email: "ada@example.com", questionID: 0, answer: "rex", wantErr: ErrInvalidInput},
		{name: "question four", email: "ada@example.com", questionID: 4, answer: "rex", wantErr: ErrInvalidInput},
		{name: "unknown email", email: "bob@example.com", questionID: 1, answer: "rex", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.VerifyAnswer(context.Background(), tt.email, tt.questionID, tt.answer)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, result.Match)
			if tt.wantMatch {
				assert.NotEmpty(t, result.ResetToken)
			} else {
				assert.Empty(t, result.ResetToken)
			}
		})
	}
}

func TestVerifyAnswerRejectsEmptyDigest(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.register(t, "ada@example.com", "correct horse")

	stored := f.users.users[user.ID]
	stored.Secrets[0].AnswerHash = ""
	f.users.users[user.ID] = stored

	_, err := f.svc.VerifyAnswer(context.Background(), "ada@example.com", 1, "rex")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestResetPasswordFlow(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, "ada@example.com", "old password")
	ctx := context.Background()

	verified, err := f.svc.VerifyAnswer(ctx, "ada@example.com", 2, "paris")
	require.NoError(t, err)
	require.True(t, verified.Match)

	require.NoError(t, f.svc.ResetPassword(ctx, "ada@example.com", "new password", verified.ResetToken))

	_, err = f.svc.SignIn(ctx, "ada@example.com", "new password")
	assert.NoError(t, err, "new password signs in")
	_, err = f.svc.SignIn(ctx, "ada@example.com", "old password")
	assert.ErrorIs(t, err, ErrUnauthorized, "old password is rejected")

	err = f.svc.ResetPassword(ctx, "ada@example.com", "third password", verified.ResetToken)
	assert.ErrorIs(t, err, ErrUnauthorized, "reset token is single use")

	assert.Equal(t, []string{"ada@example.com"}, f.notifier.emails)
}

func TestResetPasswordRejections(t *testing.T) {
	f := newFixture(t, Options{ResetTTL: time.Minute})
	f.register(t, "ada@example.com", "old password")
	f.register(t, "bob@example.com", "bobs password")
	ctx := context.Background()

	verified, err := f.svc.VerifyAnswer(ctx, "ada@example.com", 1, "rex")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "", "new password", verified.ResetToken), ErrInvalidInput)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "ada@example.com", "", verified.ResetToken), ErrInvalidInput)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "ada@example.com", "new password", ""), ErrUnauthorized)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "ada@example.com", "new password", "garbage"), ErrUnauthorized)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "bob@example.com", "new password", verified.ResetToken), ErrUnauthorized)

	f.now = f.now.Add(2 * time.Minute)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "ada@example.com", "new password", verified.ResetToken), ErrUnauthorized)

	_, err = f.svc.SignIn(ctx, "ada@example.com", "old password")
	assert.NoError(t, err, "password unchanged after rejected resets")
}

func TestRegister(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first := f.register(t, "first@example.com", "password1")
	second := f.register(t, "second@example.com", "password2")
	assert.Equal(t, store.RoleAdmin, first.Role)
	assert.Equal(t, store.RoleUser, second.Role)
	assert.NotEqual(t, "rex", first.Secrets[0].AnswerHash, "answers are hashed")

	base := RegisterRequest{
		Name:        "Someone",
		Email:       "third@example.com",
		Password:    "password3",
		QuestionIDs: []int{1, 2, 3},
		Answers:     []string{"a", "b", "c"},
	}
	tests := []struct {
		name    string
		mutate  func(*RegisterRequest)
		wantErr error
	}{
		{name: "duplicate email", mutate: func(r *RegisterRequest) { r.Email = "FIRST@example.com" }, wantErr: ErrConflict},
		{name: "repeated question", mutate: func(r *RegisterRequest) { r.QuestionIDs = []int{1, 1, 2} }, wantErr: ErrInvalidInput},
		{name: "unknown question", mutate: func(r *RegisterRequest) { r.QuestionIDs = []int{1, 2, 99} }, wantErr: ErrInvalidInput},
		{name: "two questions", mutate: func(r *RegisterRequest) { r.QuestionIDs = []int{1, 2} }, wantErr: ErrInvalidInput},
		{name: "short password", mutate: func(r *RegisterRequest) { r.Password = "short" }, wantErr: ErrInvalidInput},
		{name: "bad email", mutate: func(r *RegisterRequest) { r.Email = "not-an-email" }, wantErr: ErrInvalidInput},
		{name: "blank answer", mutate: func(r *RegisterRequest) { r.Answers = []string{"a", " ", "c"} }, wantErr: ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := f.svc.Register(ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSignInAndSignOut(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.register(t, "ada@example.com", "correct horse")
	ctx := context.Background()

	result, err := f.svc.SignIn(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)
	assert.Contains(t, f.users.lastSeen, user.ID)

	claims, err := f.svc.Authenticate(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, claims.Role)

	require.NoError(t, f.svc.SignOut(ctx, claims))
	_, err = f.svc.Authenticate(ctx, result.Token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSignInRejectsInactiveUser(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.register(t, "ada@example.com", "correct horse")
	inactive := false
	require.NoError(t, f.svc.AdminUpdateUser(context.Background(), user.ID, AdminUpdate{IsActive: &inactive}))

	_, err := f.svc.SignIn(context.Background(), "ada@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.register(t, "ada@example.com", "correct horse")
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, user.ID, "wrong guess", "battery staple"), ErrUnauthorized)
	require.NoError(t, f.svc.ChangePassword(ctx, user.ID, "correct horse", "battery staple"))

	_, err := f.svc.SignIn(ctx, "ada@example.com", "battery staple")
	assert.NoError(t, err)
}

func TestAdminUpdateUserValidation(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.register(t, "ada@example.com", "correct horse")
	other := f.register(t, "bob@example.com", "bobs password")
	ctx := context.Background()

	badRole := "Owner"
	assert.ErrorIs(t, f.svc.AdminUpdateUser(ctx, user.ID, AdminUpdate{Role: &badRole}), ErrInvalidInput)

	taken := "ADA@example.com"
	assert.ErrorIs(t, f.svc.AdminUpdateUser(ctx, other.ID, AdminUpdate{Email: &taken}), ErrConflict)

	assert.ErrorIs(t, f.svc.AdminUpdateUser(ctx, "missing", AdminUpdate{}), ErrNotFound)

	password := "admin-chosen"
	require.NoError(t, f.svc.AdminUpdateUser(ctx, other.ID, AdminUpdate{Password: &password}))
	_, err := f.svc.SignIn(ctx, "bob@example.com", "admin-chosen")
	assert.NoError(t, err)
}

func TestResetPasswordTooLongKeepsToken(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, "ada@example.com", "old password")
	ctx := context.Background()

	verified, err := f.svc.VerifyAnswer(ctx, "ada@example.com", 1, "rex")
	require.NoError(t, err)
	require.True(t, verified.Match)

	err = f.svc.ResetPassword(ctx, "ada@example.com", strings.Repeat("x", 80), verified.ResetToken)
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, f.svc.ResetPassword(ctx, "ada@example.com", "new password", verified.ResetToken),
		"a rejected password must not spend the token")
	_, err = f.svc.SignIn(ctx, "ada@example.com", "new password")
	assert.NoError(t, err)
}

func TestHashFailureDuringResetKeepsToken(t *testing.T) {
	hasher := &flakyHasher{Hasher: NewBcryptHasher(bcrypt.MinCost)}
	f := newFixture(t, Options{Hasher: hasher})
	f.register(t, "ada@example.com", "old password")
	ctx := context.Background()

	verified, err := f.svc.VerifyAnswer(ctx, "ada@example.com", 3, "smith")
	require.NoError(t, err)

	hasher.fail = true
	assert.Error(t, f.svc.ResetPassword(ctx, "ada@example.com", "new password", verified.ResetToken))
	hasher.fail = false
	require.NoError(t, f.svc.ResetPassword(ctx, "ada@example.com", "new password", verified.ResetToken))
}

type flakyHasher struct {
	Hasher
	fail bool
}

func (h *flakyHasher) Hash(secret string) (string, error) {
	if h.fail {
		return "", errors.New("hasher unavailable")
	}
	return h.Hasher.Hash(secret)
}

func TestPasswordLengthLimits(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.register(t, "ada@example.com", "correct horse")
	ctx := context.Background()
	long := strings.Repeat("y", maxPasswordBytes+1)

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, user.ID, "correct horse", long), ErrInvalidInput)
	assert.ErrorIs(t, f.svc.AdminUpdateUser(ctx, user.ID, AdminUpdate{Password: &long}), ErrInvalidInput)
	_, err := f.svc.Register(ctx, RegisterRequest{
		Name:        "Long",
		Email:       "long@example.com",
		Password:    long,
		QuestionIDs: []int{1, 2, 3},
		Answers:     []string{"a", "b", "c"},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	exact := strings.Repeat("z", maxPasswordBytes)
	require.NoError(t, f.svc.ChangePassword(ctx, user.ID, "correct horse", exact))
}

func TestAuthenticateReloadsAccount(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, "ada@example.com", "correct horse")
	bob := f.register(t, "bob@example.com", "bobs password")
	ctx := context.Background()

	admin := store.RoleAdmin
	require.NoError(t, f.svc.AdminUpdateUser(ctx, bob.ID, AdminUpdate{Role: &admin}))
	signedIn, err := f.svc.SignIn(ctx, "bob@example.com", "bobs password")
	require.NoError(t, err)

	demoted := store.RoleUser
	require.NoError(t, f.svc.AdminUpdateUser(ctx, bob.ID, AdminUpdate{Role: &demoted}))
	claims, err := f.svc.Authenticate(ctx, signedIn.Token)
	require.NoError(t, err)
	assert.Equal(t, store.RoleUser, claims.Role, "role comes from the account, not the token")

	inactive := false
	require.NoError(t, f.svc.AdminUpdateUser(ctx, bob.ID, AdminUpdate{IsActive: &inactive}))
	_, err = f.svc.Authenticate(ctx, signedIn.Token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	delete(f.users.users, bob.ID)
	_, err = f.svc.Authenticate(ctx, signedIn.Token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCreateUserIgnoresFirstAccountRule(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	req := RegisterRequest{
		Name:        "Carol",
		Email:       "carol@example.com",
		Password:    "carols password",
		QuestionIDs: []int{2, 3, 4},
		Answers:     []string{"a", "b", "c"},
	}

	user, err := f.svc.CreateUser(ctx, req, store.RoleUser, false)
	require.NoError(t, err)
	assert.Equal(t, store.RoleUser, user.Role, "first account keeps the requested role")
	assert.False(t, user.IsActive)

	_, err = f.svc.SignIn(ctx, "carol@example.com", "carols password")
	assert.ErrorIs(t, err, ErrUnauthorized, "inactive accounts cannot sign in")

	req.Email = "dave@example.com"
	_, err = f.svc.CreateUser(ctx, req, "Owner", true)
	assert.ErrorIs(t, err, ErrInvalidInput)

	admin, err := f.svc.CreateUser(ctx, req, store.RoleAdmin, true)
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, admin.Role)
	_, err = f.svc.CreateUser(ctx, req, store.RoleUser, true)
	assert.ErrorIs(t, err, ErrConflict)
}
