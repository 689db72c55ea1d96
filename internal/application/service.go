package application

import (
	"context"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// Service is the licensing orchestrator. It composes the registries, the
// activation lock and the ticket signer; it never reads the audit sink.
type Service struct {
	cfg          Config
	licenses     ports.LicenseRepository
	devices      ports.DeviceRepository
	bindings     ports.BindingRepository
	products     ports.ProductRepository
	licenseTypes ports.LicenseTypeRepository
	users        ports.UserRepository
	audit        ports.AuditSink
	locker       ports.Locker
	signer       ports.TicketSigner
	tokens       ports.TokenVerifier
	nowFn        func() time.Time
	codeFn       func() (string, error)
}

type Dependencies struct {
	Config       Config
	Licenses     ports.LicenseRepository
	Devices      ports.DeviceRepository
	Bindings     ports.BindingRepository
	Products     ports.ProductRepository
	LicenseTypes ports.LicenseTypeRepository
	Users        ports.UserRepository
	Audit        ports.AuditSink
	Locker       ports.Locker
	Signer       ports.TicketSigner
	Tokens       ports.TokenVerifier
	// Now overrides the clock; nil means UTC wall time.
	Now func() time.Time
}

func NewService(deps Dependencies) *Service {
	s := &Service{
		cfg:          deps.Config,
		licenses:     deps.Licenses,
		devices:      deps.Devices,
		bindings:     deps.Bindings,
		products:     deps.Products,
		licenseTypes: deps.LicenseTypes,
		users:        deps.Users,
		audit:        deps.Audit,
		locker:       deps.Locker,
		signer:       deps.Signer,
		tokens:       deps.Tokens,
		nowFn:        deps.Now,
		codeFn:       domain.NewActivationCode,
	}
	if s.nowFn == nil {
		s.nowFn = func() time.Time { return time.Now().UTC() }
	}
	if s.cfg.ServiceName == "" {
		s.cfg.ServiceName = "M91-License-Service"
	}
	if s.cfg.TicketLifetimeDays <= 0 {
		s.cfg.TicketLifetimeDays = domain.DefaultTicketLifetimeDays
	}
	if s.cfg.AuditTimeout <= 0 {
		s.cfg.AuditTimeout = 2 * time.Second
	}
	return s
}

// Authenticate resolves a bearer token into a Caller.
func (s *Service) Authenticate(_ context.Context, token string) (Caller, error) {
	if s.tokens == nil {
		return Caller{}, domain.ErrUnauthorized
	}
	claims, err := s.tokens.ParseAndValidate(token)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return Caller{
		UserID:   claims.UserID,
		Email:    claims.Email,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

func (s *Service) TicketPublicKeyPEM() string {
	return s.signer.PublicKeyPEM()
}

func (s *Service) now() time.Time {
	return domain.TicketTime(s.nowFn())
}
