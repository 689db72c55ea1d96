package domain

import (
	"time"

	"github.com/google/uuid"
)

type LicenseState string

const (
	LicenseStateUnactivated LicenseState = "UNACTIVATED"
	LicenseStateActive      LicenseState = "ACTIVE"
	LicenseStateExpired     LicenseState = "EXPIRED"
	LicenseStateBlocked     LicenseState = "BLOCKED"
)

// License references its owner, product and type by id only; the registries
// resolve them. FirstActivationAt and ExpiresAt stay nil until the first
// activation and FirstActivationAt never changes afterwards.
type License struct {
	LicenseID         uuid.UUID  `json:"license_id"`
	Code              string     `json:"code"`
	OwnerID           uuid.UUID  `json:"owner_id"`
	ProductID         uuid.UUID  `json:"product_id"`
	LicenseTypeID     uuid.UUID  `json:"license_type_id"`
	UserID            *uuid.UUID `json:"user_id,omitempty"`
	RemainingSlots    int        `json:"remaining_slots"`
	Blocked           bool       `json:"blocked"`
	FirstActivationAt *time.Time `json:"first_activation_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	DurationDays      int        `json:"duration_days"`
	Description       string     `json:"description"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (l License) Activated() bool { return l.FirstActivationAt != nil }

func (l License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// State folds the blocked axis over the activation lifecycle.
func (l License) State(now time.Time) LicenseState {
	switch {
	case l.Blocked:
		return LicenseStateBlocked
	case !l.Activated():
		return LicenseStateUnactivated
	case l.Expired(now):
		return LicenseStateExpired
	default:
		return LicenseStateActive
	}
}

// BoundToOther reports whether the license was activated by a user other
// than userID.
func (l License) BoundToOther(userID uuid.UUID) bool {
	return l.UserID != nil && *l.UserID != userID
}

// DaysUntil counts whole days from now to t, rounding a partial day up.
func DaysUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
