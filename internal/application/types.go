package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

type Config struct {
	ServiceName        string
	TicketLifetimeDays int
	AuditTimeout       time.Duration
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID   uuid.UUID
	Email    string
	Username string
	Role     string
}

func (c Caller) IsAdmin() bool { return c.Role == domain.RoleAdmin }

func (c Caller) Identified() bool { return c.UserID != uuid.Nil }

type CreateLicenseInput struct {
	ProductID     uuid.UUID
	OwnerID       uuid.UUID
	LicenseTypeID uuid.UUID
	DeviceCount   int
	Description   string
}

type ActivateLicenseInput struct {
	Code       string
	MACAddress string
	DeviceName string
}

type UpdateLicenseInput struct {
	Code              string
	NewExpirationDate string
}

type CheckLicenseInput struct {
	MACAddress string
	DeviceName string
}

type LicenseView struct {
	License  domain.License         `json:"license"`
	State    domain.LicenseState    `json:"state"`
	Bindings []domain.DeviceLicense `json:"bindings"`
}
