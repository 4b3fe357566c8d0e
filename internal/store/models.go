package store

import "time"

// Message roles. Persisted messages are written by exactly one of these.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         *string   `json:"name,omitempty"`
	Image        *string   `json:"image,omitempty"`
	PasswordHash *string   `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"createdAt"`
}

type ChatSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Source is a web citation attached to an assistant message. It is stored
// embedded in the owning message, never as its own row.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"-"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserPreferences holds the per-user theme document. One row per user.
type UserPreferences struct {
	ID     string
	UserID string
	Theme  map[string]string
}
