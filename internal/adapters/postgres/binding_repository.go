package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type bindingRepository struct {
	db *gorm.DB
}

// Bind locks the license row, re-checks every activation rule against the
// locked state and writes the device, binding, slot, history and outbox rows
// in one transaction. Seal runs last; its error rolls everything back.
func (r *bindingRepository) Bind(ctx context.Context, params ports.BindParams, history domain.LicenseHistory, event ports.OutboxEvent) (ports.BindResult, error) {
	var result ports.BindResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row licenseModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("license_id = ?", params.LicenseID).
			Take(&row).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrNotFound
			}
			return err
		}
		if row.UserID != nil && *row.UserID != params.UserID {
			return domain.ErrForbidden
		}
		if params.NewDevice != nil {
			device := fromDomainDevice(*params.NewDevice)
			if err := tx.Create(&device).Error; err != nil {
				if isUniqueViolation(err) {
					return domain.ErrConflict
				}
				return err
			}
		}

		var existing deviceLicenseModel
		err := tx.Where("device_id = ?", params.DeviceID).Take(&existing).Error
		switch {
		case err == nil && existing.LicenseID == params.LicenseID:
			return domain.ErrAlreadyBound
		case err == nil:
			return domain.ErrConflict
		case !isNotFound(err):
			return err
		}
		if row.RemainingSlots <= 0 {
			return domain.ErrSlotsExhausted
		}

		updates := map[string]any{
			"remaining_slots": gorm.Expr("remaining_slots - 1"),
			"updated_at":      params.ActivatedAt,
		}
		if row.FirstActivationAt == nil {
			activatedAt := params.ActivatedAt
			expiresAt := params.ExpiresAt
			userID := params.UserID
			updates["first_activation_at"] = activatedAt
			updates["expires_at"] = expiresAt
			updates["duration_days"] = params.DurationDays
			updates["user_id"] = userID
			row.FirstActivationAt = &activatedAt
			row.ExpiresAt = &expiresAt
			row.DurationDays = params.DurationDays
			row.UserID = &userID
		}
		if err := tx.Model(&licenseModel{}).
			Where("license_id = ? AND remaining_slots > 0", params.LicenseID).
			Updates(updates).Error; err != nil {
			return err
		}
		row.RemainingSlots--
		row.UpdatedAt = params.ActivatedAt

		binding := deviceLicenseModel{
			DeviceLicenseID: uuid.New(),
			DeviceID:        params.DeviceID,
			LicenseID:       params.LicenseID,
			ActivatedAt:     params.ActivatedAt,
		}
		if err := tx.Create(&binding).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
		hist := fromDomainHistory(history)
		if err := tx.Create(&hist).Error; err != nil {
			return err
		}
		outbox := fromOutboxEvent(event)
		if err := tx.Create(&outbox).Error; err != nil {
			return err
		}
		result = ports.BindResult{License: toDomainLicense(row), Binding: toDomainBinding(binding)}
		if params.Seal != nil {
			return params.Seal(result)
		}
		return nil
	})
	if err != nil {
		return ports.BindResult{}, err
	}
	return result, nil
}

// Release unbinds the device, credits the slot and deletes the device row in
// one transaction.
func (r *bindingRepository) Release(ctx context.Context, deviceID, licenseID uuid.UUID, history domain.LicenseHistory, event ports.OutboxEvent) (domain.License, error) {
	var row licenseModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("license_id = ?", licenseID).
			Take(&row).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrNotFound
			}
			return err
		}
		res := tx.Where("device_id = ? AND license_id = ?", deviceID, licenseID).Delete(&deviceLicenseModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		if err := tx.Model(&licenseModel{}).
			Where("license_id = ?", licenseID).
			Updates(map[string]any{
				"remaining_slots": gorm.Expr("remaining_slots + 1"),
				"updated_at":      history.ChangedAt,
			}).Error; err != nil {
			return err
		}
		row.RemainingSlots++
		row.UpdatedAt = history.ChangedAt

		deleted := tx.Where("device_id = ?", deviceID).Delete(&deviceModel{})
		if deleted.Error != nil {
			return deleted.Error
		}
		if deleted.RowsAffected == 0 {
			return domain.ErrNotFound
		}

		hist := fromDomainHistory(history)
		if err := tx.Create(&hist).Error; err != nil {
			return err
		}
		outbox := fromOutboxEvent(event)
		return tx.Create(&outbox).Error
	})
	if err != nil {
		return domain.License{}, err
	}
	return toDomainLicense(row), nil
}

func (r *bindingRepository) FindByLicense(ctx context.Context, licenseID uuid.UUID) ([]domain.DeviceLicense, error) {
	var rows []deviceLicenseModel
	if err := r.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("activated_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.DeviceLicense, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainBinding(row))
	}
	return out, nil
}

func (r *bindingRepository) FindByDevice(ctx context.Context, deviceID uuid.UUID) (ports.Lookup[domain.DeviceLicense], error) {
	return r.findOne(r.db.WithContext(ctx).Where("device_id = ?", deviceID))
}

func (r *bindingRepository) FindByDevicePair(ctx context.Context, deviceID, licenseID uuid.UUID) (ports.Lookup[domain.DeviceLicense], error) {
	return r.findOne(r.db.WithContext(ctx).Where("device_id = ? AND license_id = ?", deviceID, licenseID))
}

func (r *bindingRepository) findOne(q *gorm.DB) (ports.Lookup[domain.DeviceLicense], error) {
	var row deviceLicenseModel
	if err := q.Take(&row).Error; err != nil {
		if isNotFound(err) {
			return ports.NotFound[domain.DeviceLicense](), nil
		}
		return ports.NotFound[domain.DeviceLicense](), err
	}
	return ports.Found(toDomainBinding(row)), nil
}
