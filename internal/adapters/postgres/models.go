package postgres

import (
	"time"

	"github.com/google/uuid"
)

type userModel struct {
	UserID   uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Email    string    `gorm:"column:email"`
	Username string    `gorm:"column:username"`
	Role     string    `gorm:"column:role"`
}

func (userModel) TableName() string { return "users" }

type productModel struct {
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name"`
	IsBlocked bool      `gorm:"column:is_blocked"`
}

func (productModel) TableName() string { return "products" }

type licenseTypeModel struct {
	LicenseTypeID       uuid.UUID `gorm:"column:license_type_id;type:uuid;primaryKey"`
	Name                string    `gorm:"column:name"`
	DefaultDurationDays int       `gorm:"column:default_duration_days"`
	Description         string    `gorm:"column:description"`
}

func (licenseTypeModel) TableName() string { return "license_types" }

type licenseModel struct {
	LicenseID         uuid.UUID  `gorm:"column:license_id;type:uuid;primaryKey"`
	Code              string     `gorm:"column:code"`
	OwnerID           uuid.UUID  `gorm:"column:owner_id"`
	ProductID         uuid.UUID  `gorm:"column:product_id"`
	LicenseTypeID     uuid.UUID  `gorm:"column:license_type_id"`
	UserID            *uuid.UUID `gorm:"column:user_id"`
	RemainingSlots    int        `gorm:"column:remaining_slots"`
	IsBlocked         bool       `gorm:"column:is_blocked"`
	FirstActivationAt *time.Time `gorm:"column:first_activation_at"`
	ExpiresAt         *time.Time `gorm:"column:expires_at"`
	DurationDays      int        `gorm:"column:duration_days"`
	Description       string     `gorm:"column:description"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (licenseModel) TableName() string { return "licenses" }

type deviceModel struct {
	DeviceID   uuid.UUID `gorm:"column:device_id;type:uuid;primaryKey"`
	MACAddress string    `gorm:"column:mac_address"`
	Name       string    `gorm:"column:name"`
	UserID     uuid.UUID `gorm:"column:user_id"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (deviceModel) TableName() string { return "devices" }

type deviceLicenseModel struct {
	DeviceLicenseID uuid.UUID `gorm:"column:device_license_id;type:uuid;primaryKey"`
	DeviceID        uuid.UUID `gorm:"column:device_id"`
	LicenseID       uuid.UUID `gorm:"column:license_id"`
	ActivatedAt     time.Time `gorm:"column:activated_at"`
}

func (deviceLicenseModel) TableName() string { return "device_licenses" }

type licenseHistoryModel struct {
	HistoryID   uuid.UUID `gorm:"column:history_id;type:uuid;primaryKey"`
	LicenseID   uuid.UUID `gorm:"column:license_id"`
	UserID      uuid.UUID `gorm:"column:user_id"`
	Status      string    `gorm:"column:status"`
	ChangedAt   time.Time `gorm:"column:changed_at"`
	Description string    `gorm:"column:description"`
}

func (licenseHistoryModel) TableName() string { return "license_history" }

type auditEntryModel struct {
	EntryID     uuid.UUID  `gorm:"column:entry_id;type:uuid;primaryKey"`
	UserID      *uuid.UUID `gorm:"column:user_id"`
	Email       string     `gorm:"column:email"`
	Username    string     `gorm:"column:username"`
	ActionType  string     `gorm:"column:action_type"`
	Description string     `gorm:"column:description"`
	OccurredAt  time.Time  `gorm:"column:occurred_at"`
}

func (auditEntryModel) TableName() string { return "audit_entries" }

type licenseOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (licenseOutboxModel) TableName() string { return "license_outbox" }
