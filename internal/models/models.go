package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// AccountStatus gates access: only active accounts may call authenticated endpoints.
type AccountStatus string

const (
	AccountPending   AccountStatus = "pending"
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountPending, AccountActive, AccountSuspended:
		return true
	}
	return false
}

type User struct {
	ID          int64         `json:"id"`
	Email       string        `json:"email"`
	FullName    string        `json:"fullName"`
	Role        Role          `json:"role"`
	Status      AccountStatus `json:"status"`
	LastLoginAt *time.Time    `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Visibility controls who besides the owner and admins may view a look.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	// VisibilityShared exposes the look to the users listed in look_shares.
	VisibilityShared Visibility = "shared"
	VisibilityPublic Visibility = "public"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityShared, VisibilityPublic:
		return true
	}
	return false
}

type Look struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"userId"`
	Title      string     `json:"title"`
	Notes      string     `json:"notes,omitempty"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	Visibility Visibility `json:"visibility"`
	SharedWith []int64    `json:"sharedWith,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// ViewableBy reports whether user may read the look. Only the owner and admins
// may change it.
func (l *Look) ViewableBy(user *User) bool {
	if l.UserID == user.ID || user.IsAdmin() || l.Visibility == VisibilityPublic {
		return true
	}
	if l.Visibility != VisibilityShared {
		return false
	}
	for _, id := range l.SharedWith {
		if id == user.ID {
			return true
		}
	}
	return false
}

// LookVideo links a generated video to a look; at most one link per look is the default.
type LookVideo struct {
	LookID     int64     `json:"lookId"`
	VideoJobID int64     `json:"videoJobId"`
	IsDefault  bool      `json:"isDefault"`
	CreatedAt  time.Time `json:"createdAt"`
	Job        *VideoJob `json:"job,omitempty"`
}

// DefaultSettings is the single admin-edited defaults row applied beneath every
// user's own overrides.
type DefaultSettings struct {
	Theme     string    `json:"theme"`
	Overrides []byte    `json:"-"`
	UpdatedBy *int64    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type UserSettings struct {
	UserID    int64     `json:"userId"`
	Theme     string    `json:"theme"`
	Overrides []byte    `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}
