package model

import "time"

// Role groups permissions. Admin roles may reach admin-only routes; public
// routes refuse them.
type Role struct {
	ID          string       `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	Description string       `json:"description" db:"description"`
	IsActive    bool         `json:"is_active" db:"is_active"`
	IsAdmin     bool         `json:"is_admin" db:"is_admin"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// Permission is a named capability granted to roles.
type Permission struct {
	ID          string    `json:"id" db:"id"`
	Code        string    `json:"code" db:"code"`
	Description string    `json:"description" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
