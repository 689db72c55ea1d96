package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type LicenseRepository struct {
	store *Store
}

func (r *LicenseRepository) CreateWithOutboxTx(_ context.Context, license domain.License, history domain.LicenseHistory, event ports.OutboxEvent) (domain.License, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.codes[license.Code]; exists {
		return domain.License{}, domain.ErrConflict
	}
	if _, exists := s.licenses[license.LicenseID]; exists {
		return domain.License{}, domain.ErrConflict
	}
	s.licenses[license.LicenseID] = license
	s.codes[license.Code] = license.LicenseID
	s.history = append(s.history, history)
	s.enqueueLocked(event)
	return license, nil
}

func (r *LicenseRepository) FindByCode(_ context.Context, code string) (ports.Lookup[domain.License], error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codes[code]
	if !ok {
		return ports.NotFound[domain.License](), nil
	}
	return ports.Found(s.licenses[id]), nil
}

func (r *LicenseRepository) FindByID(_ context.Context, licenseID uuid.UUID) (ports.Lookup[domain.License], error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[licenseID]
	if !ok {
		return ports.NotFound[domain.License](), nil
	}
	return ports.Found(license), nil
}

func (r *LicenseRepository) RenewWithOutboxTx(_ context.Context, params ports.RenewTxParams, history domain.LicenseHistory, event ports.OutboxEvent) (domain.License, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[params.LicenseID]
	if !ok {
		return domain.License{}, domain.ErrNotFound
	}
	if license.ExpiresAt == nil || !license.ExpiresAt.Before(params.NewExpiresAt) {
		return domain.License{}, domain.ErrInvalidState
	}
	expiresAt := params.NewExpiresAt
	license.ExpiresAt = &expiresAt
	license.DurationDays = params.DurationDays
	license.UpdatedAt = params.RenewedAt
	if params.Seal != nil {
		if err := params.Seal(license); err != nil {
			return domain.License{}, err
		}
	}
	s.licenses[license.LicenseID] = license
	s.history = append(s.history, history)
	s.enqueueLocked(event)
	return license, nil
}

type DeviceRepository struct {
	store *Store
}

func (r *DeviceRepository) FindByID(_ context.Context, deviceID uuid.UUID) (ports.Lookup[domain.Device], error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return ports.NotFound[domain.Device](), nil
	}
	return ports.Found(device), nil
}

func (r *DeviceRepository) FindByMAC(_ context.Context, macAddress string) (ports.Lookup[domain.Device], error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.macs[macAddress]
	if !ok {
		return ports.NotFound[domain.Device](), nil
	}
	return ports.Found(s.devices[id]), nil
}

func (r *DeviceRepository) FindByMACAndName(ctx context.Context, macAddress, name string) (ports.Lookup[domain.Device], error) {
	res, err := r.FindByMAC(ctx, macAddress)
	if err != nil {
		return res, err
	}
	device, ok := res.Get()
	if !ok || device.Name != name {
		return ports.NotFound[domain.Device](), nil
	}
	return res, nil
}

func (r *DeviceRepository) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]domain.Device, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]domain.Device, 0)
	for _, d := range s.devices {
		if d.UserID == userID {
			items = append(items, d)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].DeviceID.String() < items[j].DeviceID.String()
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if offset >= len(items) {
		return []domain.Device{}, nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end], nil
}

func (r *DeviceRepository) DeleteWithOutboxTx(_ context.Context, deviceID uuid.UUID, event ports.OutboxEvent) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return domain.ErrNotFound
	}
	if _, bound := s.bindings[deviceID]; bound {
		return domain.ErrConflict
	}
	delete(s.devices, deviceID)
	delete(s.macs, device.MACAddress)
	s.enqueueLocked(event)
	return nil
}

// BindingRepository keys bindings by device id: a device holds at most one.
type BindingRepository struct {
	store *Store
}

// Bind stages every change on copies and commits them to the store only
// after Seal succeeds.
func (r *BindingRepository) Bind(_ context.Context, params ports.BindParams, history domain.LicenseHistory, event ports.OutboxEvent) (ports.BindResult, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[params.LicenseID]
	if !ok {
		return ports.BindResult{}, domain.ErrNotFound
	}
	if params.NewDevice != nil {
		if params.NewDevice.DeviceID != params.DeviceID {
			return ports.BindResult{}, domain.ErrInvalidInput
		}
		if _, exists := s.macs[params.NewDevice.MACAddress]; exists {
			return ports.BindResult{}, domain.ErrConflict
		}
		if _, exists := s.devices[params.DeviceID]; exists {
			return ports.BindResult{}, domain.ErrConflict
		}
	} else if _, ok := s.devices[params.DeviceID]; !ok {
		return ports.BindResult{}, domain.ErrNotFound
	}
	if license.BoundToOther(params.UserID) {
		return ports.BindResult{}, domain.ErrForbidden
	}
	if existing, bound := s.bindings[params.DeviceID]; bound {
		if existing.LicenseID == params.LicenseID {
			return ports.BindResult{}, domain.ErrAlreadyBound
		}
		return ports.BindResult{}, domain.ErrConflict
	}
	if license.RemainingSlots <= 0 {
		return ports.BindResult{}, domain.ErrSlotsExhausted
	}

	if !license.Activated() {
		activatedAt := params.ActivatedAt
		expiresAt := params.ExpiresAt
		userID := params.UserID
		license.FirstActivationAt = &activatedAt
		license.ExpiresAt = &expiresAt
		license.DurationDays = params.DurationDays
		license.UserID = &userID
	}
	license.RemainingSlots--
	license.UpdatedAt = params.ActivatedAt
	binding := domain.DeviceLicense{
		DeviceLicenseID: uuid.New(),
		DeviceID:        params.DeviceID,
		LicenseID:       params.LicenseID,
		ActivatedAt:     params.ActivatedAt,
	}
	result := ports.BindResult{License: license, Binding: binding}
	if params.Seal != nil {
		if err := params.Seal(result); err != nil {
			return ports.BindResult{}, err
		}
	}

	if params.NewDevice != nil {
		s.devices[params.DeviceID] = *params.NewDevice
		s.macs[params.NewDevice.MACAddress] = params.DeviceID
	}
	s.licenses[license.LicenseID] = license
	s.bindings[params.DeviceID] = binding
	s.history = append(s.history, history)
	s.enqueueLocked(event)
	return result, nil
}

func (r *BindingRepository) Release(_ context.Context, deviceID, licenseID uuid.UUID, history domain.LicenseHistory, event ports.OutboxEvent) (domain.License, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, bound := s.bindings[deviceID]
	if !bound || binding.LicenseID != licenseID {
		return domain.License{}, domain.ErrNotFound
	}
	license, ok := s.licenses[licenseID]
	if !ok {
		return domain.License{}, domain.ErrNotFound
	}
	device, ok := s.devices[deviceID]
	if !ok {
		return domain.License{}, domain.ErrNotFound
	}
	delete(s.bindings, deviceID)
	delete(s.devices, deviceID)
	delete(s.macs, device.MACAddress)
	license.RemainingSlots++
	license.UpdatedAt = history.ChangedAt
	s.licenses[licenseID] = license
	s.history = append(s.history, history)
	s.enqueueLocked(event)
	return license, nil
}

func (r *BindingRepository) FindByLicense(_ context.Context, licenseID uuid.UUID) ([]domain.DeviceLicense, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindingsForLicenseLocked(licenseID), nil
}

func (r *BindingRepository) FindByDevice(_ context.Context, deviceID uuid.UUID) (ports.Lookup[domain.DeviceLicense], error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[deviceID]
	if !ok {
		return ports.NotFound[domain.DeviceLicense](), nil
	}
	return ports.Found(binding), nil
}

func (r *BindingRepository) FindByDevicePair(ctx context.Context, deviceID, licenseID uuid.UUID) (ports.Lookup[domain.DeviceLicense], error) {
	res, err := r.FindByDevice(ctx, deviceID)
	if err != nil {
		return res, err
	}
	if binding, ok := res.Get(); !ok || binding.LicenseID != licenseID {
		return ports.NotFound[domain.DeviceLicense](), nil
	}
	return res, nil
}

type ProductRepository struct {
	store *Store
}

func (r *ProductRepository) FindByID(_ context.Context, productID uuid.UUID) (ports.Lookup[domain.Product], error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	product, ok := r.store.products[productID]
	if !ok {
		return ports.NotFound[domain.Product](), nil
	}
	return ports.Found(product), nil
}

type LicenseTypeRepository struct {
	store *Store
}

func (r *LicenseTypeRepository) FindByID(_ context.Context, licenseTypeID uuid.UUID) (ports.Lookup[domain.LicenseType], error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	licenseType, ok := r.store.licenseTypes[licenseTypeID]
	if !ok {
		return ports.NotFound[domain.LicenseType](), nil
	}
	return ports.Found(licenseType), nil
}

type UserRepository struct {
	store *Store
}

func (r *UserRepository) FindByID(_ context.Context, userID uuid.UUID) (ports.Lookup[domain.User], error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	user, ok := r.store.users[userID]
	if !ok {
		return ports.NotFound[domain.User](), nil
	}
	return ports.Found(user), nil
}

type AuditRepository struct {
	store *Store
}

func (r *AuditRepository) Record(_ context.Context, entry domain.AuditEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.audit = append(r.store.audit, entry)
	return nil
}

type OutboxRepository struct {
	store *Store
}

// Enqueue appends a pending row outside any unit of work, for seeding.
func (r *OutboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.enqueueLocked(event)
	return nil
}

func (r *OutboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	out := make([]ports.OutboxRecord, 0, limit)
	for i := range s.outbox {
		if len(out) >= limit {
			break
		}
		rec := &s.outbox[i]
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil {
			continue
		}
		if rec.ClaimUntil != nil && rec.ClaimUntil.After(now) {
			continue
		}
		token := claimToken
		until := claimUntil
		rec.ClaimToken = &token
		rec.ClaimUntil = &until
		out = append(out, *rec)
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.PublishedAt = &at
		rec.LastError = nil
	})
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = &errMsg
		rec.LastErrorAt = &at
	})
}

func (r *OutboxRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.DeadLetteredAt = &at
		rec.LastError = &errMsg
		rec.LastErrorAt = &at
	})
}

func (r *OutboxRepository) update(outboxID uuid.UUID, claimToken string, apply func(*ports.OutboxRecord)) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		rec := &s.outbox[i]
		if rec.OutboxID != outboxID {
			continue
		}
		if rec.ClaimToken == nil || *rec.ClaimToken != claimToken {
			return domain.ErrConflict
		}
		apply(rec)
		rec.ClaimToken = nil
		rec.ClaimUntil = nil
		return nil
	}
	return domain.ErrNotFound
}
