package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"yaw/api/internal/rbac"
)

// maxJSONBody bounds request bodies for JSON endpoints.
const maxJSONBody = 4 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger.Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := r.URL.Path
	get := r.Method == http.MethodGet || r.Method == http.MethodHead
	post := r.Method == http.MethodPost

	switch {
	case get && path == "/api/health":
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case get && path == "/api/ready":
		s.handleReady(w, r)

	// Password reset. The unprefixed aliases keep older clients working.
	case post && (path == "/api/auth/reset-password/init" || path == "/reset-password/init"):
		s.handleResetInit(w, r)
	case post && (path == "/api/auth/reset-password/verify" || path == "/reset-password/verify"):
		s.handleResetVerify(w, r)
	case post && (path == "/api/auth/reset-password/reset" || path == "/reset-password/reset"):
		s.handleResetPassword(w, r)

	case post && path == "/api/auth/register":
		s.handleRegister(w, r)
	case post && path == "/api/auth/signin":
		s.handleSignIn(w, r)
	case post && path == "/api/auth/signout":
		s.withSession(w, r, "", s.handleSignOut)
	case get && path == "/api/auth/me":
		s.withSession(w, r, rbac.ActionAccount, s.handleMe)
	case get && path == "/api/secret-questions":
		s.handleSecretQuestions(w, r)
	case post && path == "/api/users/check-email":
		s.handleCheckEmail(w, r)
	case post && path == "/api/users/password":
		s.withSession(w, r, rbac.ActionAccount, s.handleChangePassword)
	case post && path == "/api/users/avatar":
		s.withSession(w, r, rbac.ActionAccount, s.handleAvatar)
	case get && path == "/api/users":
		s.withSession(w, r, rbac.ActionUsers, s.handleListUsers)
	case (r.Method == http.MethodPut || post) && path == "/api/users/update":
		s.withSession(w, r, rbac.ActionUsers, s.handleUpdateUser)
	case post && path == "/api/users/create":
		s.withSession(w, r, rbac.ActionUsers, s.handleCreateUser)

	case get && path == "/api/file-structure":
		s.handleFileStructure(w, r)
	case post && path == "/api/file-structure/reorder":
		s.withSession(w, r, rbac.ActionWrite, s.handleReorder)
	case get && path == "/api/pages":
		s.handlePages(w, r)
	case get && path == "/api/file-content":
		s.handleFileContent(w, r)
	case post && path == "/api/create-item":
		s.withSession(w, r, rbac.ActionWrite, s.handleCreateItem)
	case post && (path == "/api/rename-item" || path == "/rename-item"):
		s.withSession(w, r, rbac.ActionWrite, s.handleRenameItem)
	case post && path == "/api/delete-item":
		s.withSession(w, r, rbac.ActionWrite, s.handleDeleteItem)
	case get && path == "/api/deleted-items":
		s.withSession(w, r, rbac.ActionWrite, s.handleDeletedItems)
	case post && path == "/api/restore-items":
		s.withSession(w, r, rbac.ActionWrite, s.handleRestoreItems)
	case post && path == "/api/update-sort-order":
		s.withSession(w, r, rbac.ActionWrite, s.handleUpdateSortOrder)
	case post && path == "/api/update-file":
		s.withSession(w, r, rbac.ActionWrite, s.handleUpdateFile)
	case post && path == "/api/import-markdown":
		s.withSession(w, r, rbac.ActionWrite, s.handleImportMarkdown)
	case get && path == "/api/history":
		s.handleHistory(w, r)
	case get && path == "/api/history/file":
		s.handleHistoryFile(w, r)
	case get && path == "/api/search":
		s.handleSearch(w, r)
	case get && path == "/api/export":
		s.handleExport(w, r)

	case get && path == "/api/settings":
		s.handleGetSettings(w, r)
	case post && path == "/api/settings":
		s.withSession(w, r, rbac.ActionSettings, s.handleUpdateSettings)
	case get && (path == "/api/settings/licensing" || path == "/api/settings/theming"):
		s.handleGetBlob(w, r, strings.TrimPrefix(path, "/api/settings/"))
	case post && (path == "/api/settings/licensing" || path == "/api/settings/theming"):
		name := strings.TrimPrefix(path, "/api/settings/")
		s.withSession(w, r, rbac.ActionSettings, func(w http.ResponseWriter, r *http.Request, _ Session) {
			s.handlePutBlob(w, r, name)
		})

	case post && path == "/api/upload-image":
		s.withSession(w, r, rbac.ActionWrite, s.handleUploadImage)
	case post && path == "/api/upload-file":
		s.withSession(w, r, rbac.ActionWrite, s.handleUploadFile)
	case get && strings.HasPrefix(path, "/api/uploads/"):
		s.handleServeUpload(w, r, strings.TrimPrefix(path, "/api/uploads/"))
	case get && strings.HasPrefix(path, "/api/content/"):
		s.handleServeContent(w, r, strings.TrimPrefix(path, "/api/content/"))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error"}
		s.logger.Warn("readiness check failed", zap.Error(err))
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, session Session)

// withSession authenticates the bearer token and checks action before
// calling next. An empty action only requires a valid session.
func (s *HTTPServer) withSession(w http.ResponseWriter, r *http.Request, action rbac.Action, next sessionHandler) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if action != "" && !s.service.Can(session, action) {
		s.logger.Info("forbidden",
			zap.String("user_id", session.UserID),
			zap.String("action", string(action)),
			zap.String("path", r.URL.Path))
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	ctx := withActor(r.Context(), session.Name)
	next(w, r.WithContext(ctx), session)
}

// signedIn reports whether the request carries a valid session. A bad or
// expired token is treated as anonymous so public pages stay readable.
func (s *HTTPServer) signedIn(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		return false
	}
	_, err := s.service.Authenticate(r.Context(), token)
	return err == nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("X-Content-Type-Options", "nosniff")

		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panicked", zap.String("request_id", requestID), zap.Any("panic", rec))
				writeError(writer, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
			}
			s.logger.Info("request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", writer.status),
				zap.Duration("duration", time.Since(started)),
			)
		}()

		next.ServeHTTP(writer, r)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	header.Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeServiceError maps err onto a response. Server-side failures are
// logged with their detail, which never reaches the client.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// flexInt accepts both 3 and "3", as browser forms send either.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("expected an integer, got %s", data)
	}
	*f = flexInt(value)
	return nil
}
