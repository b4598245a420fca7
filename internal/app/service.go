package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"yaw/api/internal/auth"
	"yaw/api/internal/authpw"
	"yaw/api/internal/blob"
	"yaw/api/internal/config"
	"yaw/api/internal/export"
	"yaw/api/internal/gitrepo"
	"yaw/api/internal/pagetree"
	"yaw/api/internal/rbac"
	"yaw/api/internal/search"
	"yaw/api/internal/settings"
	"yaw/api/internal/store"
)

// Session is the authenticated caller of a request.
type Session struct {
	UserID string
	Name   string
	Email  string
	Role   rbac.Role
	claims auth.Claims
}

type userDirectory interface {
	authpw.UserStore
	ListUsers(ctx context.Context, params store.ListUsersParams) (store.UserPage, error)
	UpdateUserAvatar(ctx context.Context, userID, avatar string) error
	SeedSecretQuestions(ctx context.Context, questions []string) (int, error)
	Ping(ctx context.Context) error
}

type historyRepo interface {
	Init(author string) error
	CommitAll(author, message string) (gitrepo.CommitInfo, error)
	History(path string, limit int) ([]gitrepo.CommitInfo, error)
	FileAt(hash, path string) (string, error)
}

// Deps are the collaborators a Service is assembled from. History, Search
// and Exporter are optional.
type Deps struct {
	Users    userDirectory
	Accounts *authpw.Service
	Tree     *pagetree.Tree
	History  historyRepo
	Search   *search.Service
	Exporter *export.Service
	Settings *settings.Store
	Uploads  *blob.Uploads
	Content  blob.Store
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	logger   *zap.Logger
	users    userDirectory
	accounts *authpw.Service
	tree     *pagetree.Tree
	history  historyRepo
	search   *search.Service
	exporter *export.Service
	settings *settings.Store
	uploads  *blob.Uploads
	content  blob.Store
	attached *blob.Attachments
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		logger:   deps.Logger,
		users:    deps.Users,
		accounts: deps.Accounts,
		tree:     deps.Tree,
		history:  deps.History,
		search:   deps.Search,
		exporter: deps.Exporter,
		settings: deps.Settings,
		uploads:  deps.Uploads,
		content:  deps.Content,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.content != nil {
		s.attached = blob.NewAttachments(s.content)
	}
	if s.tree != nil {
		s.tree.OnChange(s.recordChange)
		if s.search != nil {
			s.search.SetScope(s.indexScope)
		}
	}
	return s
}

// Bootstrap seeds the secret-question catalog and starts page history.
func (s *Service) Bootstrap(ctx context.Context) error {
	inserted, err := s.users.SeedSecretQuestions(ctx, store.DefaultSecretQuestions)
	if err != nil {
		return fmt.Errorf("seed secret questions: %w", err)
	}
	if inserted > 0 {
		s.logger.Info("seeded secret questions", zap.Int("count", inserted))
	}
	if s.history != nil {
		if err := s.history.Init("yaw"); err != nil {
			return fmt.Errorf("init page history: %w", err)
		}
	}
	return nil
}

type actorKey struct{}

func withActor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actorKey{}, name)
}

func actorFrom(ctx context.Context) string {
	if name, ok := ctx.Value(actorKey{}).(string); ok && name != "" {
		return name
	}
	return "yaw"
}

// recordChange runs on the page tree writer after every mutation.
func (s *Service) recordChange(ctx context.Context, change pagetree.Change) {
	if s.history != nil {
		commit, err := s.history.CommitAll(actorFrom(ctx), change.Message)
		switch {
		case errors.Is(err, gitrepo.ErrNoChanges):
		case err != nil:
			s.logger.Warn("commit page change", zap.String("op", change.Op), zap.Error(err))
		default:
			s.logger.Debug("page change committed", zap.String("op", change.Op), zap.String("hash", commit.Hash))
		}
	}
	if s.search != nil {
		s.search.Sync(change.Paths)
	}
}

// indexScope keeps deleted pages out of the search index.
func (s *Service) indexScope(ctx context.Context) (search.Policy, error) {
	view, err := s.tree.Visibility(ctx, true)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.users.Ping(ctx)
}

func (s *Service) Authenticate(ctx context.Context, token string) (Session, error) {
	claims, err := s.accounts.Authenticate(ctx, token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID: claims.UserID(),
		Name:   claims.Name,
		Email:  claims.Email,
		Role:   rbac.Normalize(claims.Role),
		claims: claims,
	}, nil
}

func (s *Service) Can(session Session, action rbac.Action) bool {
	return rbac.Can(session.Role, action)
}

// RegistrationOpen reports whether self-service sign-up is allowed. It is
// always open while no account exists.
func (s *Service) RegistrationOpen(ctx context.Context) (bool, error) {
	prevent, err := s.settings.PreventUserRegistration()
	if err != nil {
		return false, err
	}
	if !prevent {
		return true, nil
	}
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count == 0, nil
}

func (s *Service) CurrentUser(ctx context.Context, session Session) (store.User, error) {
	user, err := s.users.GetUserByID(ctx, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, authpw.ErrNotFound
	}
	return user, err
}

func (s *Service) ListUsers(ctx context.Context, params store.ListUsersParams) (store.UserPage, error) {
	return s.users.ListUsers(ctx, params)
}

func (s *Service) ListSecretQuestions(ctx context.Context) ([]store.SecretQuestion, error) {
	return s.users.ListSecretQuestions(ctx)
}

func (s *Service) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.users.EmailExists(ctx, authpw.NormalizeEmail(email))
}

// SetAvatar stores a cropped avatar and points the user at it.
func (s *Service) SetAvatar(ctx context.Context, userID string, body io.Reader, size int64) (string, error) {
	url, err := s.uploads.SaveAvatar(ctx, body, size)
	if err != nil {
		return "", err
	}
	err = s.users.UpdateUserAvatar(ctx, userID, url)
	if errors.Is(err, store.ErrNotFound) {
		return "", authpw.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("update avatar: %w", err)
	}
	return url, nil
}

func (s *Service) PageHistory(path string, limit int) ([]gitrepo.CommitInfo, error) {
	if s.history == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	return s.history.History(path, limit)
}

func (s *Service) PageAt(hash, path string) (string, error) {
	if s.history == nil {
		return "", fmt.Errorf("%w: history is disabled", gitrepo.ErrNotFound)
	}
	return s.history.FileAt(hash, path)
}

// Search finds pages containing term that the caller may see.
func (s *Service) Search(ctx context.Context, term string, signedIn bool) ([]search.Result, error) {
	view, err := s.tree.Visibility(ctx, signedIn)
	if err != nil {
		return nil, err
	}
	if s.search == nil {
		results, err := search.NewFiles(s.tree.Root()).Search(ctx, term, 0)
		if err != nil {
			return nil, err
		}
		return search.Filter(results, view), nil
	}
	return s.search.Search(ctx, term, view)
}

// Visible fails with pagetree.ErrNotFound when the page at path is hidden
// from the caller.
func (s *Service) Visible(ctx context.Context, path string, signedIn bool) error {
	view, err := s.tree.Visibility(ctx, signedIn)
	if err != nil {
		return err
	}
	if !view.Allows(path) {
		return fmt.Errorf("%w: %s", pagetree.ErrNotFound, path)
	}
	return nil
}

// SaveAttachment stores a file linked from page content.
func (s *Service) SaveAttachment(ctx context.Context, filename string, body io.Reader, size int64) (string, error) {
	if s.attached == nil {
		return "", domainError(http.StatusServiceUnavailable, "UNAVAILABLE", "File uploads are not configured", nil)
	}
	return s.attached.Save(ctx, filename, body, size)
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.exporter == nil {
		return nil, fmt.Errorf("%w: exporter is disabled", export.ErrPDFDependencyMissing)
	}
	ctx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	return s.exporter.Export(ctx, req)
}

// Register creates an account unless registration has been closed.
func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (store.User, error) {
	open, err := s.RegistrationOpen(ctx)
	if err != nil {
		return store.User{}, err
	}
	if !open {
		return store.User{}, domainError(http.StatusForbidden, "REGISTRATION_CLOSED", "User registration is disabled", nil)
	}
	user, err := s.accounts.Register(ctx, req)
	if err != nil {
		return store.User{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", user.Role))
	return user, nil
}

// CreateUser adds an account for an administrator. It works while
// self-service registration is closed.
func (s *Service) CreateUser(ctx context.Context, actor Session, req authpw.RegisterRequest, role string, active bool) (store.User, error) {
	if role == "" {
		role = store.RoleUser
	}
	user, err := s.accounts.CreateUser(ctx, req, role, active)
	if err != nil {
		return store.User{}, err
	}
	s.logger.Info("user created by admin",
		zap.String("user_id", user.ID),
		zap.String("admin_id", actor.UserID),
		zap.String("role", user.Role))
	return user, nil
}

// UpdateUser applies an administrator's edit. Admins cannot deactivate or
// demote themselves.
func (s *Service) UpdateUser(ctx context.Context, actor Session, userID string, in authpw.AdminUpdate) error {
	if userID == actor.UserID {
		if in.IsActive != nil && !*in.IsActive {
			return domainError(http.StatusBadRequest, "INVALID_INPUT", "You cannot deactivate your own account", nil)
		}
		if in.Role != nil && rbac.Normalize(*in.Role) != rbac.RoleAdmin {
			return domainError(http.StatusBadRequest, "INVALID_INPUT", "You cannot remove your own admin role", nil)
		}
	}
	return s.accounts.AdminUpdateUser(ctx, userID, in)
}
