package domain

import (
	"strings"
	"time"
)

// User owns events and is the reminder recipient.
type User struct {
	ID        string
	Name      string
	Email     *string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address returns the recipient e-mail address, or "" when the user has none.
func (u *User) Address() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return strings.TrimSpace(*u.Email)
}
