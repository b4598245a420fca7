package app

import (
	"net/http"
	"strings"
	"time"

	"yaw/api/internal/authpw"
	"yaw/api/internal/rbac"
	"yaw/api/internal/store"
)

// maxAvatarBytes bounds avatar uploads.
const maxAvatarBytes = 5 << 20

type userResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	IsActive  bool       `json:"isActive"`
	Avatar    string     `json:"avatar,omitempty"`
	AuthType  string     `json:"authType"`
	CreatedAt time.Time  `json:"createdAt"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

func toUserResponse(user store.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      user.Role,
		IsActive:  user.IsActive,
		Avatar:    user.Avatar,
		AuthType:  user.AuthType,
		CreatedAt: user.CreatedAt,
		LastLogin: user.LastLogin,
	}
}

func (s *HTTPServer) handleResetInit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Email) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Email is required", nil)
		return
	}
	question, err := s.service.accounts.SelectQuestion(r.Context(), body.Email)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secretQuestion": question.Text,
		"questionId":     question.ID,
	})
}

func (s *HTTPServer) handleResetVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string  `json:"email"`
		QuestionID   flexInt `json:"questionId"`
		SecretAnswer string  `json:"secretAnswer"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Email) == "" || body.SecretAnswer == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Email, question and answer are required", nil)
		return
	}
	result, err := s.service.accounts.VerifyAnswer(r.Context(), body.Email, int(body.QuestionID), body.SecretAnswer)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !result.Match {
		writeError(w, http.StatusBadRequest, "ANSWER_MISMATCH", "Secret answer is incorrect", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Secret answer verified",
		"resetToken": result.ResetToken,
		"expiresAt":  result.ExpiresAt,
	})
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		NewPassword string `json:"newPassword"`
		ResetToken  string `json:"resetToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if err := s.service.accounts.ResetPassword(r.Context(), body.Email, body.NewPassword, body.ResetToken); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password has been reset"})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name            string    `json:"name"`
		Email           string    `json:"email"`
		Password        string    `json:"password"`
		SecretQuestions []flexInt `json:"secretQuestions"`
		SecretAnswers   []string  `json:"secretAnswers"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	ids := make([]int, 0, len(body.SecretQuestions))
	for _, id := range body.SecretQuestions {
		ids = append(ids, int(id))
	}
	user, err := s.service.Register(r.Context(), authpw.RegisterRequest{
		Name:        body.Name,
		Email:       body.Email,
		Password:    body.Password,
		QuestionIDs: ids,
		Answers:     body.SecretAnswers,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": toUserResponse(user)})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	result, err := s.service.accounts.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     result.Token,
		"expiresAt": result.ExpiresAt,
		"user":      toUserResponse(result.User),
	})
}

func (s *HTTPServer) handleSignOut(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.accounts.SignOut(r.Context(), session.claims); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, session Session) {
	user, err := s.service.CurrentUser(r.Context(), session)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

func (s *HTTPServer) handleSecretQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.service.ListSecretQuestions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		items = append(items, map[string]any{"id": q.ID, "question": q.Question})
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": items})
}

func (s *HTTPServer) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Email) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Email is required", nil)
		return
	}
	exists, err := s.service.EmailExists(r.Context(), body.Email)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exists": exists})
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if err := s.service.accounts.ChangePassword(r.Context(), session.UserID, body.CurrentPassword, body.NewPassword); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password updated"})
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request, _ Session) {
	page, err := s.service.ListUsers(r.Context(), store.ListUsersParams{
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", 10),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	users := make([]userResponse, 0, len(page.Users))
	for _, user := range page.Users {
		users = append(users, toUserResponse(user))
	}
	pages := 0
	if page.Limit > 0 {
		pages = (page.Total + page.Limit - 1) / page.Limit
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"pagination": map[string]any{
			"total":       page.Total,
			"pages":       pages,
			"currentPage": page.Page,
			"limit":       page.Limit,
		},
	})
}

func (s *HTTPServer) handleUpdateUser(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		UserID   string  `json:"userId"`
		Name     *string `json:"name"`
		Email    *string `json:"email"`
		IsActive *bool   `json:"isActive"`
		Role     *string `json:"role"`
		Password *string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.UserID) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "userId is required", nil)
		return
	}
	err := s.service.UpdateUser(r.Context(), session, body.UserID, authpw.AdminUpdate{
		Name:     body.Name,
		Email:    body.Email,
		IsActive: body.IsActive,
		Role:     body.Role,
		Password: body.Password,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User updated"})
}

// handleCreateUser lets an administrator add an account directly. New
// accounts are active unless isActive is false.
func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Name            string    `json:"name"`
		Email           string    `json:"email"`
		Password        string    `json:"password"`
		Role            string    `json:"role"`
		IsActive        *bool     `json:"isActive"`
		SecretQuestions []flexInt `json:"secretQuestions"`
		SecretAnswers   []string  `json:"secretAnswers"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	ids := make([]int, 0, len(body.SecretQuestions))
	for _, id := range body.SecretQuestions {
		ids = append(ids, int(id))
	}
	active := body.IsActive == nil || *body.IsActive
	user, err := s.service.CreateUser(r.Context(), session, authpw.RegisterRequest{
		Name:        body.Name,
		Email:       body.Email,
		Password:    body.Password,
		QuestionIDs: ids,
		Answers:     body.SecretAnswers,
	}, body.Role, active)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": toUserResponse(user)})
}

// handleAvatar stores a cropped avatar for the caller, or for any user when
// the caller administers users.
func (s *HTTPServer) handleAvatar(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes+1<<10)
	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid multipart form", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID := strings.TrimSpace(r.FormValue("userId"))
	if userID == "" {
		userID = session.UserID
	}
	if userID != session.UserID && !s.service.Can(session, rbac.ActionUsers) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "No avatar uploaded", nil)
		return
	}
	defer file.Close()

	url, err := s.service.SetAvatar(r.Context(), userID, file, header.Size)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url, "avatar": url})
}
