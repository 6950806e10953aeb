package models

import "time"

// User represents an account holder. Parents have no parent reference;
// children carry the id of the parent they are linked to.
type User struct {
	ID           int64      `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"`
	FirstName    string     `json:"first_name" db:"first_name"`
	LastName     string     `json:"last_name" db:"last_name"`
	Email        string     `json:"email" db:"email"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	ParentID     *int64     `json:"parent_id" db:"parent_id"`
	Birthday     *time.Time `json:"birthday" db:"birthday"`
	Total        int64      `json:"total" db:"total"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// IsParent reports whether the user is a parent account.
func (u *User) IsParent() bool {
	return u.ParentID == nil
}

// IsChild reports whether the user is linked to a parent.
func (u *User) IsChild() bool {
	return u.ParentID != nil
}

// FullName returns the user's full name.
func (u *User) FullName() string {
	if u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.FirstName
}

// Age returns the user's age in full years, or -1 when no birthday is set.
func (u *User) Age(now time.Time) int {
	if u.Birthday == nil {
		return -1
	}
	b := *u.Birthday
	age := now.Year() - b.Year()
	if now.Month() < b.Month() || (now.Month() == b.Month() && now.Day() < b.Day()) {
		age--
	}
	return age
}
