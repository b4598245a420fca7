// Package authpw provides email/password accounts and the secret-question
// password reset flow.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"yaw/api/internal/auth"
	"yaw/api/internal/session"
	"yaw/api/internal/store"
	"yaw/api/internal/util"
)

const (
	minPasswordLength = 8
	// bcrypt only looks at the first 72 bytes of a secret.
	maxPasswordBytes = 72
	secretSlots      = 3
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error
	UpdateUser(ctx context.Context, userID string, update store.UserUpdate) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	EmailExists(ctx context.Context, email string) (bool, error)
	CountUsers(ctx context.Context) (int, error)
	ListSecretQuestions(ctx context.Context) ([]store.SecretQuestion, error)
}

// Notifier is told about completed password changes. Failures are logged,
// never returned to the caller.
type Notifier interface {
	PasswordChanged(ctx context.Context, email, name string) error
}

type Options struct {
	Hasher    Hasher
	ResetTTL  time.Duration
	AccessTTL time.Duration
	// Intn returns a uniform int in [0, n). Defaults to math/rand/v2.
	Intn     func(n int) int
	Now      func() time.Time
	Notifier Notifier
	Logger   *zap.Logger
}

// Service provides email/password authentication
type Service struct {
	store     UserStore
	signer    *auth.Signer
	grants    session.Store
	hasher    Hasher
	resetTTL  time.Duration
	accessTTL time.Duration
	intn      func(n int) int
	now       func() time.Time
	notifier  Notifier
	logger    *zap.Logger
}

func NewService(users UserStore, signer *auth.Signer, grants session.Store, opts Options) *Service {
	s := &Service{
		store:     users,
		signer:    signer,
		grants:    grants,
		hasher:    opts.Hasher,
		resetTTL:  opts.ResetTTL,
		accessTTL: opts.AccessTTL,
		intn:      opts.Intn,
		now:       opts.Now,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
	}
	if s.hasher == nil {
		s.hasher = NewBcryptHasher(10)
	}
	if s.resetTTL <= 0 {
		s.resetTTL = 10 * time.Minute
	}
	if s.accessTTL <= 0 {
		s.accessTTL = 12 * time.Hour
	}
	if s.intn == nil {
		s.intn = rand.IntN
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// NormalizeEmail trims and lowercases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) lookupByEmail(ctx context.Context, email string) (store.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return store.User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	return nil
}

// RegisterRequest contains sign-up parameters
type RegisterRequest struct {
	Name        string
	Email       string
	Password    string
	QuestionIDs []int
	Answers     []string
}

// Register creates an account with three distinct secret questions. The
// first account on a fresh install becomes an administrator.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	return s.create(ctx, req, "", true)
}

// CreateUser adds an account on an administrator's behalf with the given
// role and active state. It does not consult the registration setting.
func (s *Service) CreateUser(ctx context.Context, req RegisterRequest, role string, active bool) (store.User, error) {
	if role != store.RoleAdmin && role != store.RoleUser {
		return store.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return s.create(ctx, req, role, active)
}

// create stores a new account. An empty role makes the first account an
// administrator and every later one a user.
func (s *Service) create(ctx context.Context, req RegisterRequest, role string, active bool) (store.User, error) {
	name := strings.TrimSpace(req.Name)
	email := NormalizeEmail(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return store.User{}, fmt.Errorf("%w: name, email, and password are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, fmt.Errorf("%w: email address is malformed", ErrInvalidInput)
	}
	if err := checkPassword(req.Password); err != nil {
		return store.User{}, err
	}
	if len(req.QuestionIDs) != secretSlots || len(req.Answers) != secretSlots {
		return store.User{}, fmt.Errorf("%w: three secret questions and answers are required", ErrInvalidInput)
	}
	if err := s.validateQuestionIDs(ctx, req.QuestionIDs); err != nil {
		return store.User{}, err
	}

	exists, err := s.store.EmailExists(ctx, email)
	if err != nil {
		return store.User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return store.User{}, fmt.Errorf("%w: user already exists", ErrConflict)
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return store.User{}, err
	}

	var secrets [secretSlots]store.SecretSlot
	for i := range secrets {
		answer := req.Answers[i]
		if strings.TrimSpace(answer) == "" {
			return store.User{}, fmt.Errorf("%w: secret answer %d is empty", ErrInvalidInput, i+1)
		}
		digest, err := s.hasher.Hash(answer)
		if err != nil {
			return store.User{}, err
		}
		secrets[i] = store.SecretSlot{QuestionID: req.QuestionIDs[i], AnswerHash: digest}
	}

	if role == "" {
		count, err := s.store.CountUsers(ctx)
		if err != nil {
			return store.User{}, fmt.Errorf("count users: %w", err)
		}
		role = store.RoleUser
		if count == 0 {
			role = store.RoleAdmin
		}
	}

	now := s.now().UTC()
	user := store.User{
		ID:           util.NewID(""),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     active,
		AuthType:     store.AuthTypeEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
		Secrets:      secrets,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return store.User{}, fmt.Errorf("%w: user already exists", ErrConflict)
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", role), zap.Bool("active", active))
	return user, nil
}

func (s *Service) validateQuestionIDs(ctx context.Context, ids []int) error {
	catalog, err := s.store.ListSecretQuestions(ctx)
	if err != nil {
		return fmt.Errorf("list secret questions: %w", err)
	}
	known := make(map[int]bool, len(catalog))
	for _, q := range catalog {
		known[q.ID] = true
	}
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("%w: unknown secret question %d", ErrInvalidInput, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: secret questions must be unique", ErrInvalidInput)
		}
		seen[id] = true
	}
	return nil
}

// SignInResult contains sign-in result
type SignInResult struct {
	User      store.User
	Token     string
	ExpiresAt time.Time
}

// SignIn authenticates a user and issues an access token.
func (s *Service) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return SignInResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	user, err := s.lookupByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return SignInResult{}, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	if err != nil {
		return SignInResult{}, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return SignInResult{}, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	if !user.IsActive {
		return SignInResult{}, fmt.Errorf("%w: account is disabled", ErrUnauthorized)
	}

	access := auth.NewClaims(user.ID, auth.PurposeAccess)
	access.Name = user.Name
	access.Email = user.Email
	access.Role = user.Role
	token, claims, err := s.signer.Issue(access, s.accessTTL)
	if err != nil {
		return SignInResult{}, err
	}

	now := s.now().UTC()
	if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("update last login failed", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLogin = &now
	}

	return SignInResult{User: user, Token: token, ExpiresAt: claims.Expiry()}, nil
}

// Authenticate validates an access token and rejects revoked ones. The
// account is reloaded so deactivation and role changes apply to tokens that
// were issued before them.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Claims, error) {
	claims, err := s.signer.Parse(token, auth.PurposeAccess)
	if err != nil {
		return auth.Claims{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	revoked, err := s.grants.IsAccessTokenRevoked(ctx, claims.JTI())
	if err != nil {
		return auth.Claims{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return auth.Claims{}, fmt.Errorf("%w: token revoked", ErrUnauthorized)
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID())
	if errors.Is(err, store.ErrNotFound) {
		return auth.Claims{}, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
	}
	if err != nil {
		return auth.Claims{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return auth.Claims{}, fmt.Errorf("%w: account is disabled", ErrUnauthorized)
	}
	claims.Name = user.Name
	claims.Email = user.Email
	claims.Role = user.Role
	return claims, nil
}

// SignOut revokes the access token until it would have expired anyway.
func (s *Service) SignOut(ctx context.Context, claims auth.Claims) error {
	if err := s.grants.RevokeAccessToken(ctx, claims.JTI(), claims.Expiry()); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// ChangePassword replaces the password of a signed-in user.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return fmt.Errorf("%w: current and new password are required", ErrInvalidInput)
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return fmt.Errorf("%w: current password is incorrect", ErrUnauthorized)
	}
	return s.setPassword(ctx, user, newPassword)
}

// AdminUpdate carries the fields an administrator may change on a user.
type AdminUpdate struct {
	Name     *string
	Email    *string
	IsActive *bool
	Role     *string
	Password *string
}

func (s *Service) AdminUpdateUser(ctx context.Context, userID string, in AdminUpdate) error {
	update := store.UserUpdate{Name: in.Name, IsActive: in.IsActive}
	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return fmt.Errorf("%w: email address is malformed", ErrInvalidInput)
		}
		update.Email = &email
	}
	if in.Role != nil {
		if *in.Role != store.RoleAdmin && *in.Role != store.RoleUser {
			return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *in.Role)
		}
		update.Role = in.Role
	}
	if in.Password != nil && *in.Password != "" {
		if err := checkPassword(*in.Password); err != nil {
			return err
		}
		digest, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return err
		}
		update.PasswordHash = &digest
	}

	err := s.store.UpdateUser(ctx, userID, update)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrDuplicateEmail):
		return fmt.Errorf("%w: email already in use", ErrConflict)
	case err != nil:
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (s *Service) setPassword(ctx context.Context, user store.User, newPassword string) error {
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.storePassword(ctx, user, digest)
}

// storePassword saves an already hashed password and sends the notice.
func (s *Service) storePassword(ctx context.Context, user store.User, digest string) error {
	err := s.store.UpdateUserPassword(ctx, user.ID, digest, s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.PasswordChanged(ctx, user.Email, user.Name); err != nil {
			s.logger.Warn("password change notice failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return nil
}
