package domain

import "github.com/google/uuid"

const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

type Product struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Blocked   bool      `json:"blocked"`
}

type LicenseType struct {
	LicenseTypeID       uuid.UUID `json:"license_type_id"`
	Name                string    `json:"name"`
	DefaultDurationDays int       `json:"default_duration_days"`
	Description         string    `json:"description"`
}

type User struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
}
