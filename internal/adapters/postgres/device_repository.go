package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
)

type deviceRepository struct {
	db *gorm.DB
}

func (r *deviceRepository) FindByID(ctx context.Context, deviceID uuid.UUID) (ports.Lookup[domain.Device], error) {
	return r.findOne(r.db.WithContext(ctx).Where("device_id = ?", deviceID))
}

func (r *deviceRepository) FindByMAC(ctx context.Context, macAddress string) (ports.Lookup[domain.Device], error) {
	return r.findOne(r.db.WithContext(ctx).Where("mac_address = ?", macAddress))
}

func (r *deviceRepository) FindByMACAndName(ctx context.Context, macAddress, name string) (ports.Lookup[domain.Device], error) {
	return r.findOne(r.db.WithContext(ctx).Where("mac_address = ? AND name = ?", macAddress, name))
}

func (r *deviceRepository) findOne(q *gorm.DB) (ports.Lookup[domain.Device], error) {
	var row deviceModel
	if err := q.Take(&row).Error; err != nil {
		if isNotFound(err) {
			return ports.NotFound[domain.Device](), nil
		}
		return ports.NotFound[domain.Device](), err
	}
	return ports.Found(toDomainDevice(row)), nil
}

func (r *deviceRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Device, error) {
	var rows []deviceModel
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, device_id ASC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Device, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainDevice(row))
	}
	return out, nil
}

func (r *deviceRepository) DeleteWithOutboxTx(ctx context.Context, deviceID uuid.UUID, event ports.OutboxEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bound int64
		if err := tx.Model(&deviceLicenseModel{}).Where("device_id = ?", deviceID).Count(&bound).Error; err != nil {
			return err
		}
		if bound > 0 {
			return domain.ErrConflict
		}
		res := tx.Where("device_id = ?", deviceID).Delete(&deviceModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		outbox := fromOutboxEvent(event)
		return tx.Create(&outbox).Error
	})
}
