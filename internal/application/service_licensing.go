package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

const maxCodeAttempts = 5

func activationLockKey(code string) string {
	return "license:activation:" + code
}

// CreateLicense issues a new unactivated license. Only administrators may
// create licenses.
func (s *Service) CreateLicense(ctx context.Context, caller Caller, input CreateLicenseInput) (domain.License, error) {
	const operation = "create_license"
	license, err := s.createLicense(ctx, caller, input)
	if err != nil {
		return domain.License{}, s.fail(ctx, caller, operation, err)
	}
	s.recordAudit(ctx, caller, fmt.Sprintf("license %s created by %s", license.LicenseID, caller.Username))
	s.logger().InfoContext(ctx, "license created",
		"operation", operation,
		"outcome", "success",
		"license_id", license.LicenseID,
		"owner_id", license.OwnerID,
	)
	return license, nil
}

func (s *Service) createLicense(ctx context.Context, caller Caller, input CreateLicenseInput) (domain.License, error) {
	if err := requireCaller(caller); err != nil {
		return domain.License{}, err
	}
	if !caller.IsAdmin() {
		return domain.License{}, domain.PlainError(domain.ErrForbidden, "only administrators can create licenses")
	}
	if input.DeviceCount <= 0 {
		return domain.License{}, domain.PlainError(domain.ErrInvalidInput, "device count must be positive")
	}

	product, err := s.productCheck(ctx, input.ProductID, false)
	if err != nil {
		return domain.License{}, err
	}
	owner, err := s.ownerCheck(ctx, input.OwnerID, false)
	if err != nil {
		return domain.License{}, err
	}
	licenseType, err := s.licenseTypeCheck(ctx, input.LicenseTypeID, false)
	if err != nil {
		return domain.License{}, err
	}

	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = "license created by " + caller.Username
	}

	now := s.now()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.codeFn()
		if err != nil {
			return domain.License{}, err
		}
		license := domain.License{
			LicenseID:      uuid.New(),
			Code:           code,
			OwnerID:        owner.UserID,
			ProductID:      product.ProductID,
			LicenseTypeID:  licenseType.LicenseTypeID,
			RemainingSlots: input.DeviceCount,
			DurationDays:   licenseType.DefaultDurationDays,
			Description:    description,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		history := domain.LicenseHistory{
			HistoryID:   uuid.New(),
			LicenseID:   license.LicenseID,
			UserID:      owner.UserID,
			Status:      domain.LicenseHistoryCreated,
			ChangedAt:   now,
			Description: "license created",
		}
		event := newEvent("license.created", license.LicenseID.String(), now, map[string]any{
			"license_id":      license.LicenseID.String(),
			"owner_id":        owner.UserID.String(),
			"product_id":      product.ProductID.String(),
			"license_type_id": licenseType.LicenseTypeID.String(),
			"device_count":    input.DeviceCount,
			"created_by":      caller.UserID.String(),
			"created_at":      now,
		})

		created, err := s.licenses.CreateWithOutboxTx(ctx, license, history, event)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return domain.License{}, fmt.Errorf("persist license: %w", err)
		}
		return created, nil
	}
	return domain.License{}, fmt.Errorf("generate unique activation code: %d collisions", maxCodeAttempts)
}

// ActivateLicense binds a device to the license identified by code and
// returns a signed ticket. The whole read-check-write sequence runs under a
// lock scoped to the code.
func (s *Service) ActivateLicense(ctx context.Context, caller Caller, input ActivateLicenseInput) (domain.Ticket, error) {
	const operation = "activate_license"
	if err := requireCaller(caller); err != nil {
		return domain.Ticket{}, s.fail(ctx, caller, operation, err)
	}
	code := domain.NormalizeActivationCode(input.Code)
	macAddress, err := domain.NormalizeMAC(input.MACAddress)
	if err != nil {
		return domain.Ticket{}, s.fail(ctx, caller, operation, err)
	}
	deviceName, err := domain.NormalizeDeviceName(input.DeviceName)
	if err != nil {
		return domain.Ticket{}, s.fail(ctx, caller, operation, err)
	}

	var ticket domain.Ticket
	err = s.locker.WithLock(ctx, activationLockKey(code), func(ctx context.Context) error {
		var activateErr error
		ticket, activateErr = s.activateLocked(ctx, caller, code, macAddress, deviceName)
		return activateErr
	})
	if err != nil {
		return domain.Ticket{}, s.fail(ctx, caller, operation, err)
	}
	s.logger().InfoContext(ctx, "license activated",
		"operation", operation,
		"outcome", "success",
		"user_id", caller.UserID,
		"device_id", ticket.DeviceID,
	)
	return ticket, nil
}

func (s *Service) activateLocked(ctx context.Context, caller Caller, code, macAddress, deviceName string) (domain.Ticket, error) {
	license, err := s.licenseCheck(ctx, code)
	if err != nil {
		return domain.Ticket{}, err
	}
	if license.BoundToOther(caller.UserID) {
		return domain.Ticket{}, domain.PlainError(domain.ErrForbidden, "license is bound to another user")
	}

	now := s.now()
	params := ports.BindParams{
		LicenseID:   license.LicenseID,
		UserID:      caller.UserID,
		ActivatedAt: now,
	}
	deviceOwner := caller.UserID
	if license.UserID != nil {
		deviceOwner = *license.UserID
	}
	if !license.Activated() {
		licenseType, err := s.licenseTypeCheck(ctx, license.LicenseTypeID, false)
		if err != nil {
			return domain.Ticket{}, err
		}
		params.ExpiresAt = now.AddDate(0, 0, licenseType.DefaultDurationDays)
		params.DurationDays = licenseType.DefaultDurationDays
	}

	device, registered, err := s.resolveDevice(ctx, license, deviceOwner, macAddress, deviceName, now)
	if err != nil {
		return domain.Ticket{}, err
	}
	params.DeviceID = device.DeviceID
	if registered {
		params.NewDevice = &device
	}

	var ticket domain.Ticket
	params.Seal = func(result ports.BindResult) error {
		bound := result.License
		draft := s.newTicket(now)
		draft.ActivationDate = timePtr(result.Binding.ActivatedAt)
		draft.ExpirationDate = bound.ExpiresAt
		draft.UserID = uuidPtr(caller.UserID)
		draft.DeviceID = uuidPtr(device.DeviceID)
		draft.Detail = fmt.Sprintf("license activated on device [%s:%s] | start %s | end %s",
			device.Name, device.MACAddress,
			formatDate(bound.FirstActivationAt), formatDate(bound.ExpiresAt))
		signed, err := s.signTicket(draft)
		if err != nil {
			return err
		}
		ticket = signed
		return nil
	}

	history := domain.LicenseHistory{
		HistoryID:   uuid.New(),
		LicenseID:   license.LicenseID,
		UserID:      caller.UserID,
		Status:      domain.LicenseHistoryActivated,
		ChangedAt:   now,
		Description: "license activated on device " + device.Name,
	}
	event := newEvent("license.activated", license.LicenseID.String(), now, map[string]any{
		"license_id":   license.LicenseID.String(),
		"device_id":    device.DeviceID.String(),
		"user_id":      caller.UserID.String(),
		"activated_at": now,
	})
	if _, err := s.bindings.Bind(ctx, params, history, event); err != nil {
		return domain.Ticket{}, err
	}
	if registered {
		s.recordAudit(ctx, caller, fmt.Sprintf("device %s [%s] registered", device.Name, device.MACAddress))
	}
	s.recordAudit(ctx, caller, fmt.Sprintf("license %s activated on device %s", license.LicenseID, device.DeviceID))
	return ticket, nil
}

// resolveDevice reuses an unbound device with the same (MAC, name) pair that
// belongs to owner, or prepares a new one for owner. A new device is only
// persisted by Bind, so a failed activation leaves nothing behind.
func (s *Service) resolveDevice(ctx context.Context, license domain.License, owner uuid.UUID, macAddress, name string, now time.Time) (domain.Device, bool, error) {
	existing, err := s.devices.FindByMACAndName(ctx, macAddress, name)
	if err != nil {
		return domain.Device{}, false, fmt.Errorf("find device: %w", err)
	}
	if device, ok := existing.Get(); ok {
		binding, err := s.bindings.FindByDevice(ctx, device.DeviceID)
		if err != nil {
			return domain.Device{}, false, fmt.Errorf("find binding: %w", err)
		}
		b, bound := binding.Get()
		if bound && b.LicenseID != license.LicenseID {
			return domain.Device{}, false, domain.PlainError(domain.ErrConflict, "device is already bound to another license")
		}
		if !bound && device.UserID != owner {
			return domain.Device{}, false, domain.PlainError(domain.ErrConflict, "device is registered to another user")
		}
		return device, false, nil
	}

	byMAC, err := s.devices.FindByMAC(ctx, macAddress)
	if err != nil {
		return domain.Device{}, false, fmt.Errorf("find device by mac: %w", err)
	}
	if byMAC.OK() {
		return domain.Device{}, false, domain.PlainError(domain.ErrConflict, "mac address is registered under another device name")
	}
	return domain.Device{
		DeviceID:   uuid.New(),
		MACAddress: macAddress,
		Name:       name,
		UserID:     owner,
		CreatedAt:  now,
	}, true, nil
}

// UpdateLicense renews an activated license. Blocked, expired and
// non-increasing requests come back as signed tickets, not errors.
func (s *Service) UpdateLicense(ctx context.Context, caller Caller, input UpdateLicenseInput) (domain.Ticket, error) {
	const operation = "update_license"
	ticket, err := s.updateLicense(ctx, caller, input)
	if err != nil {
		return domain.Ticket{}, s.fail(ctx, caller, operation, err)
	}
	s.logger().InfoContext(ctx, "license update processed",
		"operation", operation,
		"outcome", "success",
		"user_id", caller.UserID,
		"detail", ticket.Detail,
	)
	return ticket, nil
}

func (s *Service) updateLicense(ctx context.Context, caller Caller, input UpdateLicenseInput) (domain.Ticket, error) {
	if err := requireCaller(caller); err != nil {
		return domain.Ticket{}, err
	}
	license, err := s.licenseCheck(ctx, domain.NormalizeActivationCode(input.Code))
	if err != nil {
		return domain.Ticket{}, err
	}
	if !license.Activated() {
		return domain.Ticket{}, domain.PlainError(domain.ErrInvalidState, "license is not yet activated")
	}
	if license.OwnerID != caller.UserID {
		return domain.Ticket{}, domain.PlainError(domain.ErrForbidden, "caller is not the license owner")
	}

	now := s.now()
	if license.Blocked {
		s.recordAudit(ctx, caller, fmt.Sprintf("renewal of blocked license %s refused", license.LicenseID))
		return s.declineTicket(now, license, true, "license is blocked")
	}
	if license.Expired(now) {
		s.recordAudit(ctx, caller, fmt.Sprintf("renewal of expired license %s refused", license.LicenseID))
		return s.declineTicket(now, license, false, "license has expired and cannot be renewed")
	}

	newExpiry, err := domain.ParseRenewalDate(input.NewExpirationDate)
	if err != nil {
		return domain.Ticket{}, err
	}
	if !newExpiry.After(*license.ExpiresAt) {
		s.recordAudit(ctx, caller, fmt.Sprintf("renewal of license %s declined: date not after current expiry", license.LicenseID))
		return s.declineTicket(now, license, false, "new expiration date cannot be less than or equal to the current one")
	}

	duration := domain.DaysUntil(now, newExpiry)
	history := domain.LicenseHistory{
		HistoryID:   uuid.New(),
		LicenseID:   license.LicenseID,
		UserID:      caller.UserID,
		Status:      domain.LicenseHistoryRenewed,
		ChangedAt:   now,
		Description: "license renewed until " + newExpiry.Format(domain.RenewalDateLayout),
	}
	event := newEvent("license.renewed", license.LicenseID.String(), now, map[string]any{
		"license_id":         license.LicenseID.String(),
		"previous_expiry":    license.ExpiresAt,
		"new_expiry":         newExpiry,
		"duration_days":      duration,
		"renewed_by_user_id": caller.UserID.String(),
	})
	bindings, err := s.bindings.FindByLicense(ctx, license.LicenseID)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("find bindings: %w", err)
	}
	var ticket domain.Ticket
	seal := func(renewed domain.License) error {
		draft := s.newTicket(now)
		draft.UserID = uuidPtr(renewed.OwnerID)
		draft.ExpirationDate = renewed.ExpiresAt
		draft.Detail = fmt.Sprintf("license %s renewed until %s", renewed.Code, newExpiry.Format(domain.RenewalDateLayout))
		if len(bindings) > 0 {
			draft.ActivationDate = timePtr(bindings[0].ActivatedAt)
			draft.DeviceID = uuidPtr(bindings[0].DeviceID)
			draft.TicketLifetimeDays = duration
		}
		signed, err := s.signTicket(draft)
		if err != nil {
			return err
		}
		ticket = signed
		return nil
	}
	renewed, err := s.licenses.RenewWithOutboxTx(ctx, ports.RenewTxParams{
		LicenseID:    license.LicenseID,
		NewExpiresAt: newExpiry,
		DurationDays: duration,
		RenewedAt:    now,
		Seal:         seal,
	}, history, event)
	if errors.Is(err, domain.ErrInvalidState) {
		return s.declineTicket(now, license, false, "new expiration date cannot be less than or equal to the current one")
	}
	if errors.Is(err, domain.ErrSigningFailure) {
		return domain.Ticket{}, err
	}
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("renew license: %w", err)
	}
	s.recordAudit(ctx, caller, fmt.Sprintf("license %s renewed", renewed.LicenseID))
	return ticket, nil
}

func (s *Service) declineTicket(now time.Time, license domain.License, blocked bool, detail string) (domain.Ticket, error) {
	ticket := s.newTicket(now)
	ticket.UserID = uuidPtr(license.OwnerID)
	ticket.ExpirationDate = license.ExpiresAt
	ticket.Blocked = blocked
	ticket.Detail = detail
	return s.signTicket(ticket)
}

// CheckLicense reports the license bound to a device. A binding whose license
// has disappeared yields a signed failure ticket rather than an error.
func (s *Service) CheckLicense(ctx context.Context, caller Caller, input CheckLicenseInput) (domain.Ticket, error) {
	const operation = "check_license"
	ticket, err := s.checkLicense(ctx, caller, input)
	if err != nil {
		return domain.Ticket{}, s.fail(ctx, caller, operation, err)
	}
	return ticket, nil
}

func (s *Service) checkLicense(ctx context.Context, caller Caller, input CheckLicenseInput) (domain.Ticket, error) {
	if err := requireCaller(caller); err != nil {
		return domain.Ticket{}, err
	}
	macAddress, err := domain.NormalizeMAC(input.MACAddress)
	if err != nil {
		return domain.Ticket{}, err
	}
	deviceName, err := domain.NormalizeDeviceName(input.DeviceName)
	if err != nil {
		return domain.Ticket{}, err
	}

	device, err := s.deviceCheck(ctx, macAddress, deviceName)
	if err != nil {
		return domain.Ticket{}, err
	}
	binding, err := s.bindingCheck(ctx, device.DeviceID)
	if err != nil {
		return domain.Ticket{}, err
	}
	res, err := s.licenses.FindByID(ctx, binding.LicenseID)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("find license: %w", err)
	}

	now := s.now()
	license, ok := res.Get()
	if !ok {
		s.recordAudit(ctx, caller, fmt.Sprintf("check failed: license %s bound to device %s not found", binding.LicenseID, device.DeviceID))
		ticket := s.newTicket(now)
		ticket.Blocked = true
		ticket.Detail = "license not found"
		return s.signTicket(ticket)
	}

	s.recordAudit(ctx, caller, fmt.Sprintf("license %s checked on device %s", license.LicenseID, device.DeviceID))
	ticket := s.newTicket(now)
	ticket.ActivationDate = timePtr(binding.ActivatedAt)
	ticket.ExpirationDate = license.ExpiresAt
	ticket.UserID = license.UserID
	ticket.DeviceID = uuidPtr(device.DeviceID)
	ticket.Blocked = license.Blocked
	ticket.Detail = "license activated on device"
	return s.signTicket(ticket)
}

// GetLicense returns a license with its bindings to an administrator, its
// owner or its bound user.
func (s *Service) GetLicense(ctx context.Context, caller Caller, code string) (LicenseView, error) {
	const operation = "get_license"
	view, err := s.getLicense(ctx, caller, code)
	if err != nil {
		return LicenseView{}, s.fail(ctx, caller, operation, err)
	}
	return view, nil
}

func (s *Service) getLicense(ctx context.Context, caller Caller, code string) (LicenseView, error) {
	if err := requireCaller(caller); err != nil {
		return LicenseView{}, err
	}
	res, err := s.licenses.FindByCode(ctx, domain.NormalizeActivationCode(code))
	if err != nil {
		return LicenseView{}, fmt.Errorf("find license: %w", err)
	}
	license, ok := res.Get()
	if !ok {
		return LicenseView{}, notFound(false, "license not found")
	}
	boundUser := license.UserID != nil && *license.UserID == caller.UserID
	if !caller.IsAdmin() && license.OwnerID != caller.UserID && !boundUser {
		return LicenseView{}, domain.PlainError(domain.ErrForbidden, "caller may not view this license")
	}
	bindings, err := s.bindings.FindByLicense(ctx, license.LicenseID)
	if err != nil {
		return LicenseView{}, fmt.Errorf("find bindings: %w", err)
	}
	return LicenseView{License: license, State: license.State(s.nowFn()), Bindings: bindings}, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(domain.RenewalDateLayout)
}
