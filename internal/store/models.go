package store

import "time"

const (
	RoleAdmin = "Admin"
	RoleUser  = "User"

	AuthTypeEmail = "Email"
)

// SecretSlot is one of the three secret-question slots on a user. Question
// is the catalog text joined at read time and is empty when the referenced
// catalog row does not exist.
type SecretSlot struct {
	QuestionID int
	Question   string
	AnswerHash string
}

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	Avatar       string
	AuthType     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    *time.Time
	Secrets      [3]SecretSlot
}

type SecretQuestion struct {
	ID       int
	Question string
}

// UserUpdate carries the admin-editable user fields; nil fields are left as is.
type UserUpdate struct {
	Name         *string
	Email        *string
	IsActive     *bool
	Role         *string
	PasswordHash *string
}

type ListUsersParams struct {
	Page   int
	Limit  int
	Search string
}

type UserPage struct {
	Users []User
	Total int
	Page  int
	Limit int
}
