package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	LicenseHistoryCreated   = "CREATED"
	LicenseHistoryActivated = "ACTIVATED"
	LicenseHistoryRenewed   = "RENEWED"
	LicenseHistoryUnbound   = "UNBOUND"
)

type LicenseHistory struct {
	HistoryID   uuid.UUID `json:"history_id"`
	LicenseID   uuid.UUID `json:"license_id"`
	UserID      uuid.UUID `json:"user_id"`
	Status      string    `json:"status"`
	ChangedAt   time.Time `json:"changed_at"`
	Description string    `json:"description"`
}

const (
	AuditActionAuth     = "AUTH"
	AuditActionRegister = "REG"
	AuditActionLicense  = "LICENSE"
)

// AuditEntry is one append-only action record. UserID is nil when the
// action failed before a caller was identified.
type AuditEntry struct {
	EntryID     uuid.UUID  `json:"entry_id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	ActionType  string     `json:"action_type"`
	Description string     `json:"description"`
	OccurredAt  time.Time  `json:"occurred_at"`
}
