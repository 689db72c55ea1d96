package application_test

import (
	"context"
	"crypto/rsa"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/cache"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, domain.AuditEntry) error {
	return errors.New("audit store unavailable")
}

type failingSigner struct{}

func (failingSigner) Sign(domain.Ticket) (domain.Ticket, error) {
	return domain.Ticket{}, errors.New("hsm offline")
}

func (failingSigner) PublicKeyPEM() string { return "" }

// switchSigner delegates to a real signer until broken is set.
type switchSigner struct {
	ports.TicketSigner
	broken atomic.Bool
}

func (s *switchSigner) Sign(ticket domain.Ticket) (domain.Ticket, error) {
	if s.broken.Load() {
		return domain.Ticket{}, errors.New("hsm offline")
	}
	return s.TicketSigner.Sign(ticket)
}

type fixture struct {
	service   *application.Service
	repos     *memory.Repositories
	clock     *clock
	ticketKey *rsa.PublicKey
	tokens    *security.JWTVerifier
	product   domain.Product
	monthly   domain.LicenseType
	admin     application.Caller
	owner     application.Caller
	stranger  application.Caller
}

type fixtureOption func(*application.Dependencies)

func withAudit(sink ports.AuditSink) fixtureOption {
	return func(d *application.Dependencies) { d.Audit = sink }
}

func withSigner(signer ports.TicketSigner) fixtureOption {
	return func(d *application.Dependencies) { d.Signer = signer }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	repos := memory.NewRepositories()
	clk := &clock{now: time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)}

	signer, err := security.NewEphemeralTicketSigner()
	if err != nil {
		t.Fatalf("ticket signer: %v", err)
	}
	ticketKey, err := security.ParseTicketPublicKey(signer.PublicKeyPEM())
	if err != nil {
		t.Fatalf("parse ticket key: %v", err)
	}
	tokens, err := security.NewEphemeralJWTSigner("test-key")
	if err != nil {
		t.Fatalf("jwt signer: %v", err)
	}

	f := &fixture{
		repos:     repos,
		clock:     clk,
		ticketKey: ticketKey,
		tokens:    tokens,
		product:   domain.Product{ProductID: uuid.New(), Name: "Studio"},
		monthly: domain.LicenseType{
			LicenseTypeID:       uuid.New(),
			Name:                "Monthly",
			DefaultDurationDays: 30,
		},
		admin:    application.Caller{UserID: uuid.New(), Username: "admin", Email: "admin@example.com", Role: domain.RoleAdmin},
		owner:    application.Caller{UserID: uuid.New(), Username: "owner", Email: "owner@example.com", Role: domain.RoleUser},
		stranger: application.Caller{UserID: uuid.New(), Username: "stranger", Email: "stranger@example.com", Role: domain.RoleUser},
	}
	repos.Store.AddProduct(f.product)
	repos.Store.AddLicenseType(f.monthly)
	for _, c := range []application.Caller{f.admin, f.owner, f.stranger} {
		repos.Store.AddUser(domain.User{UserID: c.UserID, Email: c.Email, Username: c.Username, Role: c.Role})
	}

	deps := application.Dependencies{
		Licenses:     repos.Licenses,
		Devices:      repos.Devices,
		Bindings:     repos.Bindings,
		Products:     repos.Products,
		LicenseTypes: repos.LicenseTypes,
		Users:        repos.Users,
		Audit:        repos.Audit,
		Locker:       cache.NewLocalLocker(),
		Signer:       signer,
		Tokens:       tokens,
		Now:          clk.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.service = application.NewService(deps)
	return f
}

func (f *fixture) createLicense(t *testing.T, deviceCount int) domain.License {
	t.Helper()
	license, err := f.service.CreateLicense(context.Background(), f.admin, application.CreateLicenseInput{
		ProductID:     f.product.ProductID,
		OwnerID:       f.owner.UserID,
		LicenseTypeID: f.monthly.LicenseTypeID,
		DeviceCount:   deviceCount,
	})
	if err != nil {
		t.Fatalf("create license failed: %v", err)
	}
	return license
}

func (f *fixture) activate(caller application.Caller, code, mac, name string) (domain.Ticket, error) {
	return f.service.ActivateLicense(context.Background(), caller, application.ActivateLicenseInput{
		Code:       code,
		MACAddress: mac,
		DeviceName: name,
	})
}

func (f *fixture) verify(t *testing.T, ticket domain.Ticket) {
	t.Helper()
	if ticket.Signature == "" {
		t.Fatalf("ticket is unsigned")
	}
	if err := security.VerifyTicket(f.ticketKey, ticket); err != nil {
		t.Fatalf("ticket signature does not verify: %v", err)
	}
}

func (f *fixture) license(t *testing.T, code string) application.LicenseView {
	t.Helper()
	view, err := f.service.GetLicense(context.Background(), f.admin, code)
	if err != nil {
		t.Fatalf("get license failed: %v", err)
	}
	return view
}

func mustEphemeralSigner(t *testing.T) ports.TicketSigner {
	t.Helper()
	signer, err := security.NewEphemeralTicketSigner()
	if err != nil {
		t.Fatalf("ticket signer: %v", err)
	}
	return signer
}

func countEvents(f *fixture, eventType string) int {
	n := 0
	for _, rec := range f.repos.Store.OutboxRecords() {
		if rec.EventType == eventType {
			n++
		}
	}
	return n
}
