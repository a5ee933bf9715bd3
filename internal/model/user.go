package model

import "time"

// User is an account holder. Passwords are stored as a salted argon2id hash
// with a fixed rotation deadline.
type User struct {
	ID                 string    `json:"id" db:"id"`
	Email              string    `json:"email" db:"email"`
	FirstName          string    `json:"first_name" db:"first_name"`
	LastName           string    `json:"last_name" db:"last_name"`
	MobileNumber       string    `json:"mobile_number,omitempty" db:"mobile_number"`
	RoleID             string    `json:"role_id" db:"role_id"`
	PasswordHash       string    `json:"-" db:"password_hash"`
	Salt               string    `json:"-" db:"salt"`
	PasswordExpiration time.Time `json:"password_expiration" db:"password_expiration"`
	IsActive           bool      `json:"is_active" db:"is_active"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// Password is the stored form of a user password.
type Password struct {
	Hash       string
	Salt       string
	Expiration time.Time
}
