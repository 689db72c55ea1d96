package contracts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse carries a signed Ticket when the failure warrants one.
type ErrorResponse struct {
	Status    string  `json:"status"`
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	RequestID string  `json:"request_id,omitempty"`
	Ticket    *Ticket `json:"ticket,omitempty"`
}

type CreateLicenseRequest struct {
	ProductID     string `json:"product_id" validate:"required,uuid"`
	OwnerID       string `json:"owner_id" validate:"required,uuid"`
	LicenseTypeID string `json:"license_type_id" validate:"required,uuid"`
	DeviceCount   int    `json:"device_count" validate:"required,gt=0"`
	Description   string `json:"description" validate:"max=1024"`
}

type ActivateLicenseRequest struct {
	Code       string `json:"code" validate:"required,max=64"`
	MACAddress string `json:"mac_address" validate:"required,mac"`
	DeviceName string `json:"device_name" validate:"required,max=255"`
}

type UpdateLicenseRequest struct {
	Code              string `json:"code" validate:"required,max=64"`
	NewExpirationDate string `json:"new_expiration_date" validate:"required"`
}

type CheckLicenseRequest struct {
	MACAddress string `json:"mac_address" validate:"required,mac"`
	DeviceName string `json:"device_name" validate:"required,max=255"`
}

// Ticket is the wire form of domain.Ticket. Dates use the same layout the
// signature covers, so a client can rebuild the signed bytes from this shape.
type Ticket struct {
	ServerDate         string `json:"server_date"`
	TicketLifetimeDays int    `json:"ticket_lifetime_days"`
	ActivationDate     string `json:"activation_date,omitempty"`
	ExpirationDate     string `json:"expiration_date,omitempty"`
	UserID             string `json:"user_id,omitempty"`
	DeviceID           string `json:"device_id,omitempty"`
	Blocked            bool   `json:"blocked"`
	Detail             string `json:"detail"`
	Signature          string `json:"signature"`
}

func TicketFromDomain(t domain.Ticket) Ticket {
	out := Ticket{
		ServerDate:         t.ServerDate.UTC().Format(domain.TicketDateLayout),
		TicketLifetimeDays: t.TicketLifetimeDays,
		Blocked:            t.Blocked,
		Detail:             t.Detail,
		Signature:          t.Signature,
	}
	if t.ActivationDate != nil {
		out.ActivationDate = t.ActivationDate.UTC().Format(domain.TicketDateLayout)
	}
	if t.ExpirationDate != nil {
		out.ExpirationDate = t.ExpirationDate.UTC().Format(domain.TicketDateLayout)
	}
	if t.UserID != nil {
		out.UserID = t.UserID.String()
	}
	if t.DeviceID != nil {
		out.DeviceID = t.DeviceID.String()
	}
	return out
}

// ToDomain parses the wire form back into a domain.Ticket.
func (t Ticket) ToDomain() (domain.Ticket, error) {
	serverDate, err := time.Parse(domain.TicketDateLayout, t.ServerDate)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("parse server_date: %w", err)
	}
	out := domain.Ticket{
		ServerDate:         serverDate.UTC(),
		TicketLifetimeDays: t.TicketLifetimeDays,
		Blocked:            t.Blocked,
		Detail:             t.Detail,
		Signature:          t.Signature,
	}
	if out.ActivationDate, err = parseOptionalDate("activation_date", t.ActivationDate); err != nil {
		return domain.Ticket{}, err
	}
	if out.ExpirationDate, err = parseOptionalDate("expiration_date", t.ExpirationDate); err != nil {
		return domain.Ticket{}, err
	}
	if out.UserID, err = parseOptionalID("user_id", t.UserID); err != nil {
		return domain.Ticket{}, err
	}
	if out.DeviceID, err = parseOptionalID("device_id", t.DeviceID); err != nil {
		return domain.Ticket{}, err
	}
	return out, nil
}

func parseOptionalDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := time.Parse(domain.TicketDateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	v = v.UTC()
	return &v, nil
}

func parseOptionalID(field, raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return &v, nil
}

type LicenseResponse struct {
	LicenseID         string `json:"license_id"`
	Code              string `json:"code"`
	OwnerID           string `json:"owner_id"`
	ProductID         string `json:"product_id"`
	LicenseTypeID     string `json:"license_type_id"`
	UserID            string `json:"user_id,omitempty"`
	RemainingSlots    int    `json:"remaining_slots"`
	Blocked           bool   `json:"blocked"`
	State             string `json:"state,omitempty"`
	FirstActivationAt string `json:"first_activation_at,omitempty"`
	ExpiresAt         string `json:"expires_at,omitempty"`
	DurationDays      int    `json:"duration_days"`
	Description       string `json:"description"`
	CreatedAt         string `json:"created_at"`
}

type BindingResponse struct {
	DeviceID    string `json:"device_id"`
	ActivatedAt string `json:"activated_at"`
}

type LicenseViewResponse struct {
	License  LicenseResponse   `json:"license"`
	Bindings []BindingResponse `json:"bindings"`
}

type DeviceResponse struct {
	DeviceID   string `json:"device_id"`
	MACAddress string `json:"mac_address"`
	Name       string `json:"name"`
	UserID     string `json:"user_id"`
	CreatedAt  string `json:"created_at"`
}

type PublicKeyResponse struct {
	Algorithm    string `json:"algorithm"`
	PublicKeyPEM string `json:"public_key_pem"`
}
