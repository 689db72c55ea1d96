package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// Store keeps every registry behind one mutex so that a bind or unbind moves
// the binding, the slot counter, the history row and the outbox row together.
type Store struct {
	mu sync.Mutex

	licenses     map[uuid.UUID]domain.License
	codes        map[string]uuid.UUID
	devices      map[uuid.UUID]domain.Device
	macs         map[string]uuid.UUID
	bindings     map[uuid.UUID]domain.DeviceLicense
	products     map[uuid.UUID]domain.Product
	licenseTypes map[uuid.UUID]domain.LicenseType
	users        map[uuid.UUID]domain.User
	history      []domain.LicenseHistory
	audit        []domain.AuditEntry
	outbox       []ports.OutboxRecord
}

func NewStore() *Store {
	return &Store{
		licenses:     map[uuid.UUID]domain.License{},
		codes:        map[string]uuid.UUID{},
		devices:      map[uuid.UUID]domain.Device{},
		macs:         map[string]uuid.UUID{},
		bindings:     map[uuid.UUID]domain.DeviceLicense{},
		products:     map[uuid.UUID]domain.Product{},
		licenseTypes: map[uuid.UUID]domain.LicenseType{},
		users:        map[uuid.UUID]domain.User{},
	}
}

type Repositories struct {
	Store        *Store
	Licenses     *LicenseRepository
	Devices      *DeviceRepository
	Bindings     *BindingRepository
	Products     *ProductRepository
	LicenseTypes *LicenseTypeRepository
	Users        *UserRepository
	Outbox       *OutboxRepository
	Audit        *AuditRepository
}

func NewRepositories() *Repositories {
	store := NewStore()
	return &Repositories{
		Store:        store,
		Licenses:     &LicenseRepository{store: store},
		Devices:      &DeviceRepository{store: store},
		Bindings:     &BindingRepository{store: store},
		Products:     &ProductRepository{store: store},
		LicenseTypes: &LicenseTypeRepository{store: store},
		Users:        &UserRepository{store: store},
		Outbox:       &OutboxRepository{store: store},
		Audit:        &AuditRepository{store: store},
	}
}

func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ProductID] = p
}

func (s *Store) AddLicenseType(t domain.LicenseType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenseTypes[t.LicenseTypeID] = t
}

func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = u
}

// AddDevice registers an unbound device. It reports false when the MAC is
// already taken.
func (s *Store) AddDevice(d domain.Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.macs[d.MACAddress]; exists {
		return false
	}
	s.devices[d.DeviceID] = d
	s.macs[d.MACAddress] = d.DeviceID
	return true
}

// SetProductBlocked flips the blocked flag of a product.
func (s *Store) SetProductBlocked(productID uuid.UUID, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		p.Blocked = blocked
		s.products[productID] = p
	}
}

func (s *Store) SetLicenseBlocked(licenseID uuid.UUID, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.licenses[licenseID]; ok {
		l.Blocked = blocked
		s.licenses[licenseID] = l
	}
}

// SetLicenseExpiry overwrites the expiry of a license.
func (s *Store) SetLicenseExpiry(licenseID uuid.UUID, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.licenses[licenseID]; ok {
		l.ExpiresAt = &expiresAt
		s.licenses[licenseID] = l
	}
}

// RemoveLicense drops a license row and its code, leaving bindings in place.
func (s *Store) RemoveLicense(licenseID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.licenses[licenseID]; ok {
		delete(s.codes, l.Code)
		delete(s.licenses, licenseID)
	}
}

func (s *Store) History(licenseID uuid.UUID) []domain.LicenseHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LicenseHistory, 0)
	for _, h := range s.history {
		if h.LicenseID == licenseID {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) AuditEntries() []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) OutboxRecords() []ports.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.OutboxRecord, len(s.outbox))
	copy(out, s.outbox)
	return out
}

// enqueueLocked appends an outbox row; callers hold s.mu.
func (s *Store) enqueueLocked(event ports.OutboxEvent) {
	createdAt := event.OccurredAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.outbox = append(s.outbox, ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      append([]byte(nil), event.Payload...),
		CreatedAt:    createdAt,
	})
}

func (s *Store) bindingsForLicenseLocked(licenseID uuid.UUID) []domain.DeviceLicense {
	out := make([]domain.DeviceLicense, 0)
	for _, b := range s.bindings {
		if b.LicenseID == licenseID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ActivatedAt.Before(out[j].ActivatedAt)
	})
	return out
}
