package postgres

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
)

func TestLicenseModelRoundTrip(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+2", 2*3600)
	activated := time.Date(2024, 5, 10, 10, 0, 0, 0, loc)
	expires := activated.AddDate(0, 0, 30)
	userID := uuid.New()
	license := domain.License{
		LicenseID:         uuid.New(),
		Code:              "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
		OwnerID:           uuid.New(),
		ProductID:         uuid.New(),
		LicenseTypeID:     uuid.New(),
		UserID:            &userID,
		RemainingSlots:    2,
		Blocked:           true,
		FirstActivationAt: &activated,
		ExpiresAt:         &expires,
		DurationDays:      30,
		Description:       "desc",
		CreatedAt:         activated,
		UpdatedAt:         activated,
	}

	got := toDomainLicense(fromDomainLicense(license))
	if got.LicenseID != license.LicenseID || got.Code != license.Code || !got.Blocked || got.RemainingSlots != 2 {
		t.Fatalf("license fields lost: %+v", got)
	}
	if got.FirstActivationAt.Location() != time.UTC || !got.FirstActivationAt.Equal(activated) {
		t.Fatalf("first activation should come back in UTC, got %s", got.FirstActivationAt)
	}
	if got.UserID == nil || *got.UserID != userID {
		t.Fatalf("bound user lost")
	}

	unactivated := toDomainLicense(licenseModel{LicenseID: uuid.New()})
	if unactivated.FirstActivationAt != nil || unactivated.ExpiresAt != nil || unactivated.Activated() {
		t.Fatalf("nil dates must stay nil")
	}
}

func TestOutboxModelMapping(t *testing.T) {
	t.Parallel()

	event := ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    "license.renewed",
		PartitionKey: "license-1",
		OccurredAt:   time.Now().UTC(),
	}
	row := fromOutboxEvent(event)
	if row.Payload != "{}" {
		t.Fatalf("empty payload should default to {}, got %q", row.Payload)
	}
	rec := toOutboxRecord(row)
	if rec.OutboxID != event.EventID || rec.EventType != event.EventType || string(rec.Payload) != "{}" {
		t.Fatalf("unexpected outbox record %+v", rec)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	if !isUniqueViolation(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)) {
		t.Fatalf("wrapped duplicate key should classify")
	}
	if !isNotFound(gorm.ErrRecordNotFound) || isNotFound(gorm.ErrInvalidData) {
		t.Fatalf("unexpected not found classification")
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	raw, err := migrationFS.ReadFile("migrations/0001_license_service.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(raw)
	for _, table := range []string{"licenses", "devices", "device_licenses", "license_history", "audit_entries", "license_outbox"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("migration does not create %s", table)
		}
	}
}
