package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

const (
	defaultDeviceLimit = 50
	maxDeviceLimit     = 200
)

// GetDevice returns a device to an administrator or to the user it belongs to.
func (s *Service) GetDevice(ctx context.Context, caller Caller, deviceID uuid.UUID) (domain.Device, error) {
	const operation = "get_device"
	if err := requireCaller(caller); err != nil {
		return domain.Device{}, s.fail(ctx, caller, operation, err)
	}
	device, err := s.findDevice(ctx, deviceID)
	if err != nil {
		return domain.Device{}, s.fail(ctx, caller, operation, err)
	}
	if !caller.IsAdmin() && device.UserID != caller.UserID {
		return domain.Device{}, s.fail(ctx, caller, operation, domain.PlainError(domain.ErrForbidden, "caller may not view this device"))
	}
	return device, nil
}

// ListDevices pages through the devices registered to userID. Non-admin
// callers may only list their own.
func (s *Service) ListDevices(ctx context.Context, caller Caller, userID uuid.UUID, limit, offset int) ([]domain.Device, error) {
	const operation = "list_devices"
	if err := requireCaller(caller); err != nil {
		return nil, s.fail(ctx, caller, operation, err)
	}
	if userID == uuid.Nil {
		userID = caller.UserID
	}
	if !caller.IsAdmin() && userID != caller.UserID {
		return nil, s.fail(ctx, caller, operation, domain.PlainError(domain.ErrForbidden, "caller may not list devices of another user"))
	}
	if limit <= 0 {
		limit = defaultDeviceLimit
	}
	if limit > maxDeviceLimit {
		limit = maxDeviceLimit
	}
	if offset < 0 {
		offset = 0
	}
	devices, err := s.devices.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, s.fail(ctx, caller, operation, fmt.Errorf("list devices: %w", err))
	}
	return devices, nil
}

// DeleteDevice removes a device. A bound device first gives its slot back to
// the license, under the same lock activation takes for that license.
func (s *Service) DeleteDevice(ctx context.Context, caller Caller, deviceID uuid.UUID) error {
	const operation = "delete_device"
	if err := s.deleteDevice(ctx, caller, deviceID); err != nil {
		return s.fail(ctx, caller, operation, err)
	}
	s.recordAudit(ctx, caller, fmt.Sprintf("device %s deleted", deviceID))
	s.logger().InfoContext(ctx, "device deleted",
		"operation", operation,
		"outcome", "success",
		"device_id", deviceID,
	)
	return nil
}

func (s *Service) deleteDevice(ctx context.Context, caller Caller, deviceID uuid.UUID) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	if !caller.IsAdmin() {
		return domain.PlainError(domain.ErrForbidden, "only administrators can delete devices")
	}
	device, err := s.findDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	res, err := s.bindings.FindByDevice(ctx, device.DeviceID)
	if err != nil {
		return fmt.Errorf("find binding: %w", err)
	}
	binding, bound := res.Get()
	if !bound {
		return s.devices.DeleteWithOutboxTx(ctx, device.DeviceID, s.deviceDeletedEvent(device, uuid.Nil))
	}

	license, err := s.licenses.FindByID(ctx, binding.LicenseID)
	if err != nil {
		return fmt.Errorf("find license: %w", err)
	}
	current, ok := license.Get()
	if !ok {
		return notFound(false, "license not found")
	}

	return s.locker.WithLock(ctx, activationLockKey(current.Code), func(ctx context.Context) error {
		now := s.now()
		history := domain.LicenseHistory{
			HistoryID:   uuid.New(),
			LicenseID:   current.LicenseID,
			UserID:      caller.UserID,
			Status:      domain.LicenseHistoryUnbound,
			ChangedAt:   now,
			Description: "device " + device.Name + " removed",
		}
		_, err := s.bindings.Release(ctx, device.DeviceID, current.LicenseID, history, s.deviceDeletedEvent(device, current.LicenseID))
		return err
	})
}

func (s *Service) findDevice(ctx context.Context, deviceID uuid.UUID) (domain.Device, error) {
	res, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return domain.Device{}, fmt.Errorf("find device: %w", err)
	}
	device, ok := res.Get()
	if !ok {
		return domain.Device{}, notFound(false, "device not found")
	}
	return device, nil
}

func (s *Service) deviceDeletedEvent(device domain.Device, licenseID uuid.UUID) ports.OutboxEvent {
	payload := map[string]any{
		"device_id":   device.DeviceID.String(),
		"mac_address": device.MACAddress,
		"user_id":     device.UserID.String(),
	}
	if licenseID != uuid.Nil {
		payload["license_id"] = licenseID.String()
	}
	return newEvent("device.deleted", device.DeviceID.String(), s.now(), payload)
}
