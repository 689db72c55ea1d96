package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
)

type productRepository struct {
	db *gorm.DB
}

func (r *productRepository) FindByID(ctx context.Context, productID uuid.UUID) (ports.Lookup[domain.Product], error) {
	var row productModel
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).Take(&row).Error; err != nil {
		if isNotFound(err) {
			return ports.NotFound[domain.Product](), nil
		}
		return ports.NotFound[domain.Product](), err
	}
	return ports.Found(domain.Product{ProductID: row.ProductID, Name: row.Name, Blocked: row.IsBlocked}), nil
}

type licenseTypeRepository struct {
	db *gorm.DB
}

func (r *licenseTypeRepository) FindByID(ctx context.Context, licenseTypeID uuid.UUID) (ports.Lookup[domain.LicenseType], error) {
	var row licenseTypeModel
	if err := r.db.WithContext(ctx).Where("license_type_id = ?", licenseTypeID).Take(&row).Error; err != nil {
		if isNotFound(err) {
			return ports.NotFound[domain.LicenseType](), nil
		}
		return ports.NotFound[domain.LicenseType](), err
	}
	return ports.Found(domain.LicenseType{
		LicenseTypeID:       row.LicenseTypeID,
		Name:                row.Name,
		DefaultDurationDays: row.DefaultDurationDays,
		Description:         row.Description,
	}), nil
}

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) FindByID(ctx context.Context, userID uuid.UUID) (ports.Lookup[domain.User], error) {
	var row userModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error; err != nil {
		if isNotFound(err) {
			return ports.NotFound[domain.User](), nil
		}
		return ports.NotFound[domain.User](), err
	}
	return ports.Found(domain.User{UserID: row.UserID, Email: row.Email, Username: row.Username, Role: row.Role}), nil
}

type auditRepository struct {
	db *gorm.DB
}

func (r *auditRepository) Record(ctx context.Context, entry domain.AuditEntry) error {
	row := auditEntryModel{
		EntryID:     entry.EntryID,
		UserID:      entry.UserID,
		Email:       entry.Email,
		Username:    entry.Username,
		ActionType:  entry.ActionType,
		Description: entry.Description,
		OccurredAt:  entry.OccurredAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}
