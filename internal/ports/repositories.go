package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

// LicenseRepository owns License rows, their codes and expiry.
// Slot counters change only through BindingRepository.
type LicenseRepository interface {
	// CreateWithOutboxTx persists an unactivated license with its history row
	// and outbox event. A duplicate code returns domain.ErrConflict.
	CreateWithOutboxTx(ctx context.Context, license domain.License, history domain.LicenseHistory, event OutboxEvent) (domain.License, error)
	FindByCode(ctx context.Context, code string) (Lookup[domain.License], error)
	FindByID(ctx context.Context, licenseID uuid.UUID) (Lookup[domain.License], error)
	// RenewWithOutboxTx moves the expiry forward. It returns
	// domain.ErrInvalidState if the stored expiry is not strictly before
	// params.NewExpiresAt at write time.
	RenewWithOutboxTx(ctx context.Context, params RenewTxParams, history domain.LicenseHistory, event OutboxEvent) (domain.License, error)
}

type RenewTxParams struct {
	LicenseID    uuid.UUID
	NewExpiresAt time.Time
	DurationDays int
	RenewedAt    time.Time
	// Seal runs inside the unit of work once the renewal is staged. An error
	// from it rolls the renewal back.
	Seal func(renewed domain.License) error
}

// DeviceRepository reads devices and deletes unbound ones. New devices are
// registered only through BindingRepository.Bind.
type DeviceRepository interface {
	FindByID(ctx context.Context, deviceID uuid.UUID) (Lookup[domain.Device], error)
	FindByMAC(ctx context.Context, macAddress string) (Lookup[domain.Device], error)
	FindByMACAndName(ctx context.Context, macAddress, name string) (Lookup[domain.Device], error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Device, error)
	// DeleteWithOutboxTx removes an unbound device together with its event.
	// It fails with domain.ErrConflict while the device is still bound.
	DeleteWithOutboxTx(ctx context.Context, deviceID uuid.UUID, event OutboxEvent) error
}

// BindParams describes one activation. ExpiresAt and DurationDays apply only
// when the license has never been activated.
type BindParams struct {
	DeviceID uuid.UUID
	// NewDevice, when set, is registered in the same unit of work as the
	// binding. A MAC that is already registered fails with domain.ErrConflict.
	NewDevice    *domain.Device
	LicenseID    uuid.UUID
	UserID       uuid.UUID
	ActivatedAt  time.Time
	ExpiresAt    time.Time
	DurationDays int
	// Seal runs inside the unit of work after every row is staged. An error
	// from it rolls the whole bind back, device registration included.
	Seal func(result BindResult) error
}

type BindResult struct {
	License domain.License
	Binding domain.DeviceLicense
}

// BindingRepository is the only writer of slot counters. Bind and Release move
// a binding and a slot together in one unit of work.
type BindingRepository interface {
	// Bind fails with domain.ErrAlreadyBound for an existing pair,
	// domain.ErrConflict when the device is bound to another license,
	// domain.ErrForbidden when the license is bound to another user and
	// domain.ErrSlotsExhausted when no slot remains.
	Bind(ctx context.Context, params BindParams, history domain.LicenseHistory, event OutboxEvent) (BindResult, error)
	// Release removes the binding, credits one slot back and deletes the
	// device in one unit of work.
	Release(ctx context.Context, deviceID, licenseID uuid.UUID, history domain.LicenseHistory, event OutboxEvent) (domain.License, error)
	FindByLicense(ctx context.Context, licenseID uuid.UUID) ([]domain.DeviceLicense, error)
	FindByDevice(ctx context.Context, deviceID uuid.UUID) (Lookup[domain.DeviceLicense], error)
	FindByDevicePair(ctx context.Context, deviceID, licenseID uuid.UUID) (Lookup[domain.DeviceLicense], error)
}

type ProductRepository interface {
	FindByID(ctx context.Context, productID uuid.UUID) (Lookup[domain.Product], error)
}

type LicenseTypeRepository interface {
	FindByID(ctx context.Context, licenseTypeID uuid.UUID) (Lookup[domain.LicenseType], error)
}

type UserRepository interface {
	FindByID(ctx context.Context, userID uuid.UUID) (Lookup[domain.User], error)
}

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository drains the rows that repository units of work stage.
type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}

// AuditSink appends action history. The licensing core never reads it back.
type AuditSink interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}
