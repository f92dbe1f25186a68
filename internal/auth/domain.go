package auth

import (
	"time"

	"github.com/carebook/carebook/internal/authz"
)

// User represents a platform account. Role and status feed directly into
// permission resolution; everything else is profile data.
type User struct {
	ID           int64
	Email        string
	FullName     string
	PasswordHash string
	Role         string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal maps the stored account to its request-time identity.
func (u *User) Principal() authz.Principal {
	return authz.Principal{UserID: u.ID, Role: u.Role, Status: u.Status}
}
