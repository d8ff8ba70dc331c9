package domain

import "strings"

// Role gates which mutating operations a session may invoke.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// Action is an operation that is subject to role checks.
type Action string

const (
	ActionCreateStartup     Action = "startup:create"
	ActionDeleteStartup     Action = "startup:delete"
	ActionVerifyStartup     Action = "startup:verify"
	ActionBulkUploadStartup Action = "startup:bulk-upload"
	ActionDeleteCountryData Action = "country-data:delete"
	ActionUploadCountryData Action = "country-data:upload"
	ActionManageUsers       Action = "users:manage"
)

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

var actionMinRole = map[Action]Role{
	ActionCreateStartup:     RoleViewer,
	ActionDeleteStartup:     RoleEditor,
	ActionDeleteCountryData: RoleEditor,
	ActionUploadCountryData: RoleEditor,
	ActionVerifyStartup:     RoleAdmin,
	ActionBulkUploadStartup: RoleViewer,
	ActionManageUsers:       RoleAdmin,
}

// ParseRole normalizes a role string; ok is false for unknown roles.
func ParseRole(v string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(v)))
	_, ok := roleRank[r]
	return r, ok
}

// Can reports whether the role may perform the action. Unknown roles and
// unknown actions are denied.
func (r Role) Can(a Action) bool {
	min, ok := actionMinRole[a]
	if !ok {
		return false
	}
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	return rank >= roleRank[min]
}

// User is an account record as returned by the API.
type User struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	IsVerified   bool      `json:"isVerified"`
	Country      string    `json:"country,omitempty"`
	Organization string    `json:"organization,omitempty"`
	JobTitle     string    `json:"jobTitle,omitempty"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	CreatedAt    Timestamp `json:"createdAt"`
	LastLogin    Timestamp `json:"lastLogin"`
}

// DisplayName falls back to the email when the profile has no name.
func (u User) DisplayName() string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.Email
}

// Registration is the self-service sign-up payload.
type Registration struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Role         Role   `json:"role"`
	Country      string `json:"country"`
	Organization string `json:"organization,omitempty"`
	JobTitle     string `json:"jobTitle,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
	IsVerified   bool   `json:"isVerified"`
}

// UserUpdate carries the fields an admin may edit.
type UserUpdate struct {
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	IsVerified bool   `json:"isVerified"`
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the API's answer to a successful login.
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
