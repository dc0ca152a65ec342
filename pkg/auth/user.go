package auth

import "github.com/Sternrassler/taskflow-client/pkg/envelope"

// User is the signed-in account snapshot persisted under KeyUserInfo.
type User struct {
	ID         envelope.ID  `json:"id"`
	Username   string       `json:"username"`
	Email      string       `json:"email"`
	FirstName  string       `json:"first_name,omitempty"`
	LastName   string       `json:"last_name,omitempty"`
	DateJoined string       `json:"date_joined,omitempty"`
	LastLogin  string       `json:"last_login,omitempty"`
	Profile    *UserProfile `json:"profile,omitempty"`
}

// DisplayName returns the full name when known, else the username.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// UserProfile holds per-user preferences and task counters.
type UserProfile struct {
	Avatar             string  `json:"avatar,omitempty"`
	AvatarURL          string  `json:"avatar_url,omitempty"`
	Nickname           string  `json:"nickname,omitempty"`
	Bio                string  `json:"bio,omitempty"`
	Phone              string  `json:"phone,omitempty"`
	Timezone           string  `json:"timezone,omitempty"`
	Language           string  `json:"language,omitempty"`
	ThemePreference    string  `json:"theme_preference,omitempty"`
	EmailNotifications bool    `json:"email_notifications"`
	TaskCount          int     `json:"task_count"`
	CompletedTaskCount int     `json:"completed_task_count"`
	CompletionRate     float64 `json:"completion_rate,omitempty"`
	CreatedAt          string  `json:"created_at,omitempty"`
	UpdatedAt          string  `json:"updated_at,omitempty"`
}

// CompletionPercent returns completed/total as a rounded percentage.
func (p UserProfile) CompletionPercent() int {
	if p.TaskCount <= 0 {
		return 0
	}
	return (p.CompletedTaskCount*100 + p.TaskCount/2) / p.TaskCount
}

// Tokens is the token pair returned by login.
type Tokens struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	ExpiresIn int    `json:"expires_in,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// AuthData is the payload of a successful login.
type AuthData struct {
	User   User   `json:"user"`
	Tokens Tokens `json:"tokens"`
}
