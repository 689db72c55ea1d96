package domain

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Device struct {
	DeviceID   uuid.UUID `json:"device_id"`
	MACAddress string    `json:"mac_address"`
	Name       string    `json:"name"`
	UserID     uuid.UUID `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// DeviceLicense binds one device to one license and consumes one slot.
type DeviceLicense struct {
	DeviceLicenseID uuid.UUID `json:"device_license_id"`
	DeviceID        uuid.UUID `json:"device_id"`
	LicenseID       uuid.UUID `json:"license_id"`
	ActivatedAt     time.Time `json:"activated_at"`
}

// NormalizeMAC returns the upper-case colon form of a hardware address.
func NormalizeMAC(raw string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid mac address", ErrInvalidInput)
	}
	return strings.ToUpper(hw.String()), nil
}

func NormalizeDeviceName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: device name is required", ErrInvalidInput)
	}
	if len(name) > 255 {
		return "", fmt.Errorf("%w: device name is too long", ErrInvalidInput)
	}
	return name, nil
}
