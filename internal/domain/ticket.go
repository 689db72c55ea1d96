package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// TicketDateLayout is the textual date form used in the signed payload.
	TicketDateLayout = time.RFC3339
	// RenewalDateLayout is the only accepted form of a requested expiration.
	RenewalDateLayout = "2006-01-02T15:04:05"

	DefaultTicketLifetimeDays = 2
)

// Ticket is a signed attestation of a licensing outcome. Field order here is
// the signed order; Signature covers every field above it.
type Ticket struct {
	ServerDate         time.Time  `json:"server_date"`
	TicketLifetimeDays int        `json:"ticket_lifetime_days"`
	ActivationDate     *time.Time `json:"activation_date,omitempty"`
	ExpirationDate     *time.Time `json:"expiration_date,omitempty"`
	UserID             *uuid.UUID `json:"user_id,omitempty"`
	DeviceID           *uuid.UUID `json:"device_id,omitempty"`
	Blocked            bool       `json:"blocked"`
	Detail             string     `json:"detail"`
	Signature          string     `json:"signature"`
}

type canonicalTicket struct {
	ServerDate         string `json:"server_date"`
	TicketLifetimeDays int    `json:"ticket_lifetime_days"`
	ActivationDate     string `json:"activation_date"`
	ExpirationDate     string `json:"expiration_date"`
	UserID             string `json:"user_id"`
	DeviceID           string `json:"device_id"`
	Blocked            bool   `json:"blocked"`
	Detail             string `json:"detail"`
}

// CanonicalBytes serializes every signed field in fixed order with UTC
// second-precision dates. Absent values serialize as empty strings.
func (t Ticket) CanonicalBytes() ([]byte, error) {
	raw, err := json.Marshal(canonicalTicket{
		ServerDate:         formatTicketDate(&t.ServerDate),
		TicketLifetimeDays: t.TicketLifetimeDays,
		ActivationDate:     formatTicketDate(t.ActivationDate),
		ExpirationDate:     formatTicketDate(t.ExpirationDate),
		UserID:             formatTicketID(t.UserID),
		DeviceID:           formatTicketID(t.DeviceID),
		Blocked:            t.Blocked,
		Detail:             t.Detail,
	})
	if err != nil {
		return nil, fmt.Errorf("canonical ticket: %w", err)
	}
	return raw, nil
}

func formatTicketDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(TicketDateLayout)
}

func formatTicketID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// TicketTime truncates t to the precision tickets carry.
func TicketTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// ParseRenewalDate parses a requested expiration as UTC. The input must match
// RenewalDateLayout exactly; fractional seconds and padding are rejected.
func ParseRenewalDate(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(RenewalDateLayout, raw, time.UTC)
	if err != nil || t.Format(RenewalDateLayout) != raw {
		return time.Time{}, fmt.Errorf("%w: new expiration date must match yyyy-MM-ddTHH:mm:ss", ErrInvalidInput)
	}
	return t, nil
}
