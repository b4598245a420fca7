package rbac

import "strings"

type Role string
type Action string

const (
	RoleAnonymous Role = ""
	RoleUser      Role = "User"
	RoleAdmin     Role = "Admin"
)

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionAccount  Action = "account"
	ActionSettings Action = "settings"
	ActionUsers    Action = "users"
)

// Can reports whether role may perform action. Anonymous visitors can only
// read; signed-in users edit pages and their own account; admins do
// everything.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionRead || action == ActionWrite || action == ActionAccount
	case RoleAnonymous:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps a stored role name onto a known role; unknown names are
// treated as plain users.
func Normalize(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "admin":
		return RoleAdmin
	case "":
		return RoleAnonymous
	default:
		return RoleUser
	}
}
