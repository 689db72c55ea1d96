package postgres

import (
	"errors"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
)

func toDomainLicense(row licenseModel) domain.License {
	return domain.License{
		LicenseID:         row.LicenseID,
		Code:              row.Code,
		OwnerID:           row.OwnerID,
		ProductID:         row.ProductID,
		LicenseTypeID:     row.LicenseTypeID,
		UserID:            row.UserID,
		RemainingSlots:    row.RemainingSlots,
		Blocked:           row.IsBlocked,
		FirstActivationAt: utcPtr(row.FirstActivationAt),
		ExpiresAt:         utcPtr(row.ExpiresAt),
		DurationDays:      row.DurationDays,
		Description:       row.Description,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
	}
}

func fromDomainLicense(l domain.License) licenseModel {
	return licenseModel{
		LicenseID:         l.LicenseID,
		Code:              l.Code,
		OwnerID:           l.OwnerID,
		ProductID:         l.ProductID,
		LicenseTypeID:     l.LicenseTypeID,
		UserID:            l.UserID,
		RemainingSlots:    l.RemainingSlots,
		IsBlocked:         l.Blocked,
		FirstActivationAt: l.FirstActivationAt,
		ExpiresAt:         l.ExpiresAt,
		DurationDays:      l.DurationDays,
		Description:       l.Description,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}

func toDomainDevice(row deviceModel) domain.Device {
	return domain.Device{
		DeviceID:   row.DeviceID,
		MACAddress: row.MACAddress,
		Name:       row.Name,
		UserID:     row.UserID,
		CreatedAt:  row.CreatedAt.UTC(),
	}
}

func fromDomainDevice(d domain.Device) deviceModel {
	return deviceModel{
		DeviceID:   d.DeviceID,
		MACAddress: d.MACAddress,
		Name:       d.Name,
		UserID:     d.UserID,
		CreatedAt:  d.CreatedAt,
	}
}

func toDomainBinding(row deviceLicenseModel) domain.DeviceLicense {
	return domain.DeviceLicense{
		DeviceLicenseID: row.DeviceLicenseID,
		DeviceID:        row.DeviceID,
		LicenseID:       row.LicenseID,
		ActivatedAt:     row.ActivatedAt.UTC(),
	}
}

func fromDomainHistory(h domain.LicenseHistory) licenseHistoryModel {
	return licenseHistoryModel{
		HistoryID:   h.HistoryID,
		LicenseID:   h.LicenseID,
		UserID:      h.UserID,
		Status:      h.Status,
		ChangedAt:   h.ChangedAt,
		Description: h.Description,
	}
}

func fromOutboxEvent(event ports.OutboxEvent) licenseOutboxModel {
	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	return licenseOutboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      string(payload),
		CreatedAt:    event.OccurredAt,
	}
}

func toOutboxRecord(row licenseOutboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       row.OutboxID,
		EventType:      row.EventType,
		PartitionKey:   row.PartitionKey,
		Payload:        []byte(row.Payload),
		RetryCount:     row.RetryCount,
		LastError:      row.LastError,
		CreatedAt:      row.CreatedAt,
		PublishedAt:    row.PublishedAt,
		LastErrorAt:    row.LastErrorAt,
		ClaimToken:     row.ClaimToken,
		ClaimUntil:     row.ClaimUntil,
		DeadLetteredAt: row.DeadLetteredAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
