package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type licenseRepository struct {
	db *gorm.DB
}

func (r *licenseRepository) CreateWithOutboxTx(ctx context.Context, license domain.License, history domain.LicenseHistory, event ports.OutboxEvent) (domain.License, error) {
	row := fromDomainLicense(license)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
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
		return tx.Create(&outbox).Error
	})
	if err != nil {
		return domain.License{}, err
	}
	return toDomainLicense(row), nil
}

func (r *licenseRepository) FindByCode(ctx context.Context, code string) (ports.Lookup[domain.License], error) {
	var row licenseModel
	if err := r.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error; err != nil {
		if isNotFound(err) {
			return ports.NotFound[domain.License](), nil
		}
		return ports.NotFound[domain.License](), err
	}
	return ports.Found(toDomainLicense(row)), nil
}

func (r *licenseRepository) FindByID(ctx context.Context, licenseID uuid.UUID) (ports.Lookup[domain.License], error) {
	var row licenseModel
	if err := r.db.WithContext(ctx).Where("license_id = ?", licenseID).Take(&row).Error; err != nil {
		if isNotFound(err) {
			return ports.NotFound[domain.License](), nil
		}
		return ports.NotFound[domain.License](), err
	}
	return ports.Found(toDomainLicense(row)), nil
}

func (r *licenseRepository) RenewWithOutboxTx(ctx context.Context, params ports.RenewTxParams, history domain.LicenseHistory, event ports.OutboxEvent) (domain.License, error) {
	var row licenseModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("license_id = ?", params.LicenseID).
			Take(&row).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrNotFound
			}
			return err
		}
		if row.ExpiresAt == nil || !row.ExpiresAt.Before(params.NewExpiresAt) {
			return domain.ErrInvalidState
		}
		if err := tx.Model(&licenseModel{}).
			Where("license_id = ?", params.LicenseID).
			Updates(map[string]any{
				"expires_at":    params.NewExpiresAt,
				"duration_days": params.DurationDays,
				"updated_at":    params.RenewedAt,
			}).Error; err != nil {
			return err
		}
		expiresAt := params.NewExpiresAt
		row.ExpiresAt = &expiresAt
		row.DurationDays = params.DurationDays
		row.UpdatedAt = params.RenewedAt

		hist := fromDomainHistory(history)
		if err := tx.Create(&hist).Error; err != nil {
			return err
		}
		outbox := fromOutboxEvent(event)
		if err := tx.Create(&outbox).Error; err != nil {
			return err
		}
		if params.Seal != nil {
			return params.Seal(toDomainLicense(row))
		}
		return nil
	})
	if err != nil {
		return domain.License{}, err
	}
	return toDomainLicense(row), nil
}
