package postgres

import (
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Licenses     ports.LicenseRepository
	Devices      ports.DeviceRepository
	Bindings     ports.BindingRepository
	Products     ports.ProductRepository
	LicenseTypes ports.LicenseTypeRepository
	Users        ports.UserRepository
	Outbox       ports.OutboxRepository
	Audit        ports.AuditSink
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Licenses:     &licenseRepository{db: db},
		Devices:      &deviceRepository{db: db},
		Bindings:     &bindingRepository{db: db},
		Products:     &productRepository{db: db},
		LicenseTypes: &licenseTypeRepository{db: db},
		Users:        &userRepository{db: db},
		Outbox:       &outboxRepository{db: db},
		Audit:        &auditRepository{db: db},
	}
}
