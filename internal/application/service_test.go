package application_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

func TestCreateActivateAndRebind(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	license := f.createLicense(t, 1)
	if !domain.ValidActivationCode(license.Code) {
		t.Fatalf("unexpected activation code %q", license.Code)
	}
	if license.RemainingSlots != 1 || license.Activated() || license.UserID != nil {
		t.Fatalf("new license should be unactivated with one slot: %+v", license)
	}

	ticket, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:01", "laptop")
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	f.verify(t, ticket)
	wantExpiry := f.clock.Now().AddDate(0, 0, 30)
	if ticket.ExpirationDate == nil || !ticket.ExpirationDate.Equal(wantExpiry) {
		t.Fatalf("expected expiry %s, got %v", wantExpiry, ticket.ExpirationDate)
	}
	if ticket.DeviceID == nil || ticket.UserID == nil || *ticket.UserID != f.owner.UserID {
		t.Fatalf("ticket should carry device and user: %+v", ticket)
	}
	if ticket.Blocked || !strings.HasPrefix(ticket.Detail, "license activated on device [laptop:AA:BB:CC:DD:EE:01]") {
		t.Fatalf("unexpected ticket detail %q", ticket.Detail)
	}

	_, err = f.activate(f.owner, license.Code, "aa-bb-cc-dd-ee-01", "laptop")
	if !errors.Is(err, domain.ErrAlreadyBound) {
		t.Fatalf("expected already bound, got %v", err)
	}

	view := f.license(t, license.Code)
	if view.State != domain.LicenseStateActive || view.License.RemainingSlots != 0 || len(view.Bindings) != 1 {
		t.Fatalf("unexpected license view: %+v", view)
	}
	if view.License.FirstActivationAt == nil || !view.License.FirstActivationAt.Equal(f.clock.Now()) {
		t.Fatalf("first activation date not recorded")
	}

	history := f.repos.Store.History(license.LicenseID)
	if len(history) != 2 || history[0].Status != domain.LicenseHistoryCreated || history[1].Status != domain.LicenseHistoryActivated {
		t.Fatalf("unexpected history %+v", history)
	}
	events := f.repos.Store.OutboxRecords()
	if len(events) != 2 || events[0].EventType != "license.created" || events[1].EventType != "license.activated" {
		t.Fatalf("unexpected outbox %+v", events)
	}
}

func TestConcurrentActivationHonoursSlots(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	license := f.createLicense(t, 1)

	const callers = 10
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			mac := []string{"02:00:00:00:00:00", "02:00:00:00:00:01", "02:00:00:00:00:02", "02:00:00:00:00:03",
				"02:00:00:00:00:04", "02:00:00:00:00:05", "02:00:00:00:00:06", "02:00:00:00:00:07",
				"02:00:00:00:00:08", "02:00:00:00:00:09"}[i]
			_, errs[i] = f.activate(f.owner, license.Code, mac, "host")
		}(i)
	}
	close(start)
	wg.Wait()

	success, exhausted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, domain.ErrSlotsExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected activation error: %v", err)
		}
	}
	if success != 1 || exhausted != callers-1 {
		t.Fatalf("expected 1 success and %d exhausted, got %d and %d", callers-1, success, exhausted)
	}
	if view := f.license(t, license.Code); view.License.RemainingSlots != 0 || len(view.Bindings) != 1 {
		t.Fatalf("slot counter drifted: %+v", view)
	}
}

func TestActivateUnknownCodeReturnsSignedFailureTicket(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.activate(f.owner, "NOPE", "AA:BB:CC:DD:EE:02", "desk")
	if !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
	ticket, ok := domain.FailureTicket(err)
	if !ok {
		t.Fatalf("expected a failure ticket on unknown code")
	}
	f.verify(t, ticket)
	if !ticket.Blocked || ticket.UserID == nil || *ticket.UserID != f.owner.UserID {
		t.Fatalf("unexpected failure ticket %+v", ticket)
	}
}

func TestFailedActivationLeavesLicenseUnactivated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	other := f.createLicense(t, 1)
	if _, err := f.activate(f.owner, other.Code, "AA:BB:CC:DD:EE:03", "tower"); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	license := f.createLicense(t, 1)
	_, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:03", "tower")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for device bound elsewhere, got %v", err)
	}
	_, err = f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:03", "renamed")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for mac under another name, got %v", err)
	}

	view := f.license(t, license.Code)
	if view.State != domain.LicenseStateUnactivated || view.License.ExpiresAt != nil || view.License.UserID != nil {
		t.Fatalf("failed activation changed the license: %+v", view.License)
	}
	if view.License.RemainingSlots != 1 {
		t.Fatalf("failed activation consumed a slot")
	}
}

func TestActivateLicenseBoundToAnotherUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	license := f.createLicense(t, 2)
	if _, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:04", "one"); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	_, err := f.activate(f.stranger, license.Code, "AA:BB:CC:DD:EE:05", "two")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSecondDeviceKeepsExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	license := f.createLicense(t, 2)
	first, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:06", "one")
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	f.clock.Advance(48 * time.Hour)
	second, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:07", "two")
	if err != nil {
		t.Fatalf("second activate failed: %v", err)
	}
	if !second.ExpirationDate.Equal(*first.ExpirationDate) {
		t.Fatalf("second activation moved expiry from %s to %s", first.ExpirationDate, second.ExpirationDate)
	}
	if !second.ActivationDate.Equal(f.clock.Now()) {
		t.Fatalf("second binding should be stamped now")
	}
}

func TestRenewUnactivatedLicense(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	license := f.createLicense(t, 1)
	_, err := f.service.UpdateLicense(context.Background(), f.owner, application.UpdateLicenseInput{
		Code:              license.Code,
		NewExpirationDate: "2030-01-01T00:00:00",
	})
	if !errors.Is(err, domain.ErrInvalidState) || !strings.Contains(err.Error(), "not yet activated") {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, ok := domain.FailureTicket(err); ok {
		t.Fatalf("unactivated renewal must not carry a ticket")
	}
}

func TestRenewLicense(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	license := f.createLicense(t, 1)
	activation, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:08", "laptop")
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	expiry := *activation.ExpirationDate

	same, err := f.service.UpdateLicense(ctx, f.owner, application.UpdateLicenseInput{
		Code:              license.Code,
		NewExpirationDate: expiry.Format(domain.RenewalDateLayout),
	})
	if err != nil {
		t.Fatalf("equal renewal should decline with a ticket, got %v", err)
	}
	f.verify(t, same)
	if !strings.Contains(same.Detail, "cannot be less than or equal") {
		t.Fatalf("unexpected decline detail %q", same.Detail)
	}
	if got := f.license(t, license.Code).License.ExpiresAt; !got.Equal(expiry) {
		t.Fatalf("declined renewal changed expiry to %s", got)
	}

	_, err = f.service.UpdateLicense(ctx, f.stranger, application.UpdateLicenseInput{
		Code:              license.Code,
		NewExpirationDate: expiry.AddDate(0, 0, 10).Format(domain.RenewalDateLayout),
	})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}

	_, err = f.service.UpdateLicense(ctx, f.owner, application.UpdateLicenseInput{
		Code:              license.Code,
		NewExpirationDate: "2030-01-01",
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for malformed date, got %v", err)
	}

	newExpiry := expiry.AddDate(0, 0, 10)
	renewed, err := f.service.UpdateLicense(ctx, f.owner, application.UpdateLicenseInput{
		Code:              license.Code,
		NewExpirationDate: newExpiry.Format(domain.RenewalDateLayout),
	})
	if err != nil {
		t.Fatalf("renew failed: %v", err)
	}
	f.verify(t, renewed)
	if !renewed.ExpirationDate.Equal(newExpiry) || renewed.Blocked {
		t.Fatalf("unexpected renewal ticket %+v", renewed)
	}
	if renewed.TicketLifetimeDays != 40 {
		t.Fatalf("expected lifetime of 40 days, got %d", renewed.TicketLifetimeDays)
	}
	if renewed.DeviceID == nil || *renewed.DeviceID != *activation.DeviceID {
		t.Fatalf("renewal ticket should name the bound device")
	}
	view := f.license(t, license.Code)
	if !view.License.ExpiresAt.Equal(newExpiry) || view.License.DurationDays != 40 {
		t.Fatalf("renewal not persisted: %+v", view.License)
	}
}

func TestRenewBlockedAndExpiredLicenses(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	license := f.createLicense(t, 1)
	if _, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:09", "laptop"); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	request := application.UpdateLicenseInput{Code: license.Code, NewExpirationDate: "2031-01-01T00:00:00"}

	f.repos.Store.SetLicenseExpiry(license.LicenseID, f.clock.Now().Add(-time.Hour))
	expired, err := f.service.UpdateLicense(ctx, f.owner, request)
	if err != nil {
		t.Fatalf("expired renewal should decline with a ticket, got %v", err)
	}
	f.verify(t, expired)
	if expired.Blocked || !strings.Contains(expired.Detail, "expired") {
		t.Fatalf("unexpected expired ticket %+v", expired)
	}

	f.repos.Store.SetLicenseBlocked(license.LicenseID, true)
	blocked, err := f.service.UpdateLicense(ctx, f.owner, request)
	if err != nil {
		t.Fatalf("blocked renewal should decline with a ticket, got %v", err)
	}
	f.verify(t, blocked)
	if !blocked.Blocked || blocked.Detail != "license is blocked" {
		t.Fatalf("unexpected blocked ticket %+v", blocked)
	}
}

func TestCheckLicense(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CheckLicense(ctx, f.owner, application.CheckLicenseInput{MACAddress: "AA:BB:CC:DD:EE:10", DeviceName: "ghost"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown device, got %v", err)
	}
	if _, ok := domain.FailureTicket(err); ok {
		t.Fatalf("unknown device must not carry a ticket")
	}

	license := f.createLicense(t, 1)
	activation, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:10", "ghost")
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	f.clock.Advance(time.Hour)

	check, err := f.service.CheckLicense(ctx, f.owner, application.CheckLicenseInput{MACAddress: "aa:bb:cc:dd:ee:10", DeviceName: "ghost"})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	f.verify(t, check)
	if check.Blocked || *check.DeviceID != *activation.DeviceID || !check.ActivationDate.Equal(*activation.ActivationDate) {
		t.Fatalf("unexpected check ticket %+v", check)
	}
	if !check.ServerDate.Equal(f.clock.Now()) {
		t.Fatalf("server date should be the check time")
	}

	f.repos.Store.SetLicenseBlocked(license.LicenseID, true)
	check, err = f.service.CheckLicense(ctx, f.owner, application.CheckLicenseInput{MACAddress: "AA:BB:CC:DD:EE:10", DeviceName: "ghost"})
	if err != nil || !check.Blocked {
		t.Fatalf("expected blocked check ticket, got %+v, %v", check, err)
	}

	f.repos.Store.RemoveLicense(license.LicenseID)
	check, err = f.service.CheckLicense(ctx, f.owner, application.CheckLicenseInput{MACAddress: "AA:BB:CC:DD:EE:10", DeviceName: "ghost"})
	if err != nil {
		t.Fatalf("missing license should yield a ticket, got %v", err)
	}
	f.verify(t, check)
	if !check.Blocked || check.Detail != "license not found" {
		t.Fatalf("unexpected missing license ticket %+v", check)
	}
}

func TestCreateLicenseValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	valid := application.CreateLicenseInput{
		ProductID:     f.product.ProductID,
		OwnerID:       f.owner.UserID,
		LicenseTypeID: f.monthly.LicenseTypeID,
		DeviceCount:   3,
	}

	if _, err := f.service.CreateLicense(ctx, f.owner, valid); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin, got %v", err)
	}
	bad := valid
	bad.DeviceCount = 0
	if _, err := f.service.CreateLicense(ctx, f.admin, bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	bad = valid
	bad.OwnerID = uuid.New()
	if _, err := f.service.CreateLicense(ctx, f.admin, bad); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found owner, got %v", err)
	}
	bad = valid
	bad.LicenseTypeID = uuid.New()
	if _, err := f.service.CreateLicense(ctx, f.admin, bad); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found license type, got %v", err)
	}

	f.repos.Store.SetProductBlocked(f.product.ProductID, true)
	if _, err := f.service.CreateLicense(ctx, f.admin, valid); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for blocked product, got %v", err)
	}
	f.repos.Store.SetProductBlocked(f.product.ProductID, false)

	license, err := f.service.CreateLicense(ctx, f.admin, valid)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if license.RemainingSlots != 3 || license.DurationDays != 30 || license.Description != "license created by admin" {
		t.Fatalf("unexpected license %+v", license)
	}
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withAudit(failingAudit{}))
	license := f.createLicense(t, 1)
	if _, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:11", "laptop"); err != nil {
		t.Fatalf("activate should survive audit failure: %v", err)
	}
}

func TestSigningFailureIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withSigner(failingSigner{}))
	license := f.createLicense(t, 1)
	_, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:12", "laptop")
	if !errors.Is(err, domain.ErrSigningFailure) {
		t.Fatalf("expected signing failure, got %v", err)
	}
	if _, ok := domain.FailureTicket(err); ok {
		t.Fatalf("no ticket may leave without a signature")
	}

	view := f.license(t, license.Code)
	if view.State != domain.LicenseStateUnactivated || view.License.FirstActivationAt != nil || view.License.UserID != nil {
		t.Fatalf("unsigned activation changed the license: %+v", view.License)
	}
	if view.License.RemainingSlots != 1 || len(view.Bindings) != 0 {
		t.Fatalf("unsigned activation spent a slot: %+v", view)
	}
	if res, _ := f.repos.Devices.FindByMAC(context.Background(), "AA:BB:CC:DD:EE:12"); res.OK() {
		t.Fatalf("unsigned activation registered a device")
	}
	if history := f.repos.Store.History(license.LicenseID); len(history) != 1 {
		t.Fatalf("unsigned activation wrote history: %+v", history)
	}

	_, err = f.activate(f.owner, "UNKNOWN", "AA:BB:CC:DD:EE:13", "laptop")
	if !errors.Is(err, domain.ErrSigningFailure) {
		t.Fatalf("failure ticket signing error should surface, got %v", err)
	}
}

func TestActivationRetrySucceedsAfterSignerRecovers(t *testing.T) {
	t.Parallel()

	signer := &switchSigner{TicketSigner: mustEphemeralSigner(t)}
	f := newFixture(t, withSigner(signer))
	license := f.createLicense(t, 1)

	signer.broken.Store(true)
	if _, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:30", "laptop"); !errors.Is(err, domain.ErrSigningFailure) {
		t.Fatalf("expected signing failure, got %v", err)
	}
	signer.broken.Store(false)
	ticket, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:30", "laptop")
	if err != nil {
		t.Fatalf("retry after signer recovery failed: %v", err)
	}
	if ticket.Signature == "" || ticket.DeviceID == nil {
		t.Fatalf("retry returned an incomplete ticket: %+v", ticket)
	}
	if view := f.license(t, license.Code); view.License.RemainingSlots != 0 || len(view.Bindings) != 1 {
		t.Fatalf("unexpected license after retry: %+v", view)
	}
}

func TestRenewSigningFailureKeepsExpiry(t *testing.T) {
	t.Parallel()

	signer := &switchSigner{TicketSigner: mustEphemeralSigner(t)}
	f := newFixture(t, withSigner(signer))
	license := f.createLicense(t, 1)
	activated, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:31", "laptop")
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	signer.broken.Store(true)
	_, err = f.service.UpdateLicense(context.Background(), f.owner, application.UpdateLicenseInput{
		Code:              license.Code,
		NewExpirationDate: "2030-01-01T00:00:00",
	})
	if !errors.Is(err, domain.ErrSigningFailure) {
		t.Fatalf("expected signing failure, got %v", err)
	}
	view := f.license(t, license.Code)
	if !view.License.ExpiresAt.Equal(*activated.ExpirationDate) {
		t.Fatalf("unsigned renewal moved expiry to %s", view.License.ExpiresAt)
	}
	for _, h := range f.repos.Store.History(license.LicenseID) {
		if h.Status == domain.LicenseHistoryRenewed {
			t.Fatalf("unsigned renewal wrote history")
		}
	}
}

func TestRejectedActivationRegistersNoDevice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	license := f.createLicense(t, 1)
	if _, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:32", "one"); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	_, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:33", "two")
	if !errors.Is(err, domain.ErrSlotsExhausted) {
		t.Fatalf("expected slots exhausted, got %v", err)
	}
	if res, err := f.repos.Devices.FindByMAC(ctx, "AA:BB:CC:DD:EE:33"); err != nil || res.OK() {
		t.Fatalf("exhausted activation left a device behind: %v", err)
	}

	other := f.createLicense(t, 1)
	if _, err := f.activate(f.stranger, other.Code, "AA:BB:CC:DD:EE:33", "two"); err != nil {
		t.Fatalf("mac should be free for another user: %v", err)
	}
}

func TestUnboundDeviceOfAnotherUserIsNotReused(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.repos.Store.AddDevice(domain.Device{
		DeviceID:   uuid.New(),
		MACAddress: "AA:BB:CC:DD:EE:34",
		Name:       "shared",
		UserID:     f.stranger.UserID,
		CreatedAt:  f.clock.Now(),
	})
	license := f.createLicense(t, 1)
	_, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:34", "shared")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for another user's device, got %v", err)
	}
	if view := f.license(t, license.Code); view.License.Activated() {
		t.Fatalf("rejected activation activated the license")
	}

	f.repos.Store.AddDevice(domain.Device{
		DeviceID:   uuid.New(),
		MACAddress: "AA:BB:CC:DD:EE:35",
		Name:       "mine",
		UserID:     f.owner.UserID,
		CreatedAt:  f.clock.Now(),
	})
	ticket, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:35", "mine")
	if err != nil {
		t.Fatalf("owner's unbound device should be reused: %v", err)
	}
	device, err := f.service.GetDevice(ctx, f.owner, *ticket.DeviceID)
	if err != nil || device.MACAddress != "AA:BB:CC:DD:EE:35" {
		t.Fatalf("unexpected device %+v, %v", device, err)
	}
}

func TestAuditTrail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	license := f.createLicense(t, 1)
	if _, err := f.activate(f.stranger, "BOGUS", "AA:BB:CC:DD:EE:14", "x"); err == nil {
		t.Fatalf("expected failure for bogus code")
	}
	if _, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:14", "x"); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	entries := f.repos.Store.AuditEntries()
	var sawFailure, sawActivation bool
	for _, e := range entries {
		if e.ActionType != domain.AuditActionLicense {
			t.Fatalf("unexpected action type %q", e.ActionType)
		}
		if strings.HasPrefix(e.Description, "activate_license failed") && e.Username == "stranger" {
			sawFailure = true
		}
		if strings.Contains(e.Description, "activated on device") && e.UserID != nil && *e.UserID == f.owner.UserID {
			sawActivation = true
		}
	}
	if !sawFailure || !sawActivation {
		t.Fatalf("audit trail incomplete: %+v", entries)
	}
}

func TestDeleteDeviceCreditsSlot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	license := f.createLicense(t, 1)
	first, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:15", "old")
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	if err := f.service.DeleteDevice(ctx, f.owner, *first.DeviceID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin delete, got %v", err)
	}
	if err := f.service.DeleteDevice(ctx, f.admin, *first.DeviceID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := f.service.GetDevice(ctx, f.admin, *first.DeviceID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted device still visible: %v", err)
	}

	view := f.license(t, license.Code)
	if view.License.RemainingSlots != 1 || len(view.Bindings) != 0 {
		t.Fatalf("slot not credited back: %+v", view)
	}
	if !view.License.Activated() {
		t.Fatalf("first activation must survive unbinding")
	}
	history := f.repos.Store.History(license.LicenseID)
	if history[len(history)-1].Status != domain.LicenseHistoryUnbound {
		t.Fatalf("expected unbound history, got %+v", history)
	}
	if res, _ := f.repos.Devices.FindByMAC(ctx, "AA:BB:CC:DD:EE:15"); res.OK() {
		t.Fatalf("released device row survived")
	}
	if n := countEvents(f, "device.deleted"); n != 1 {
		t.Fatalf("expected one device.deleted event, got %d", n)
	}

	second, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:16", "new")
	if err != nil {
		t.Fatalf("activate on freed slot failed: %v", err)
	}
	if !second.ExpirationDate.Equal(*first.ExpirationDate) {
		t.Fatalf("rebinding must not extend the license")
	}

	if err := f.service.DeleteDevice(ctx, f.admin, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeviceAndLicenseVisibility(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	license := f.createLicense(t, 2)
	ticket, err := f.activate(f.owner, license.Code, "AA:BB:CC:DD:EE:17", "laptop")
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	if _, err := f.service.GetDevice(ctx, f.owner, *ticket.DeviceID); err != nil {
		t.Fatalf("owner should see device: %v", err)
	}
	if _, err := f.service.GetDevice(ctx, f.stranger, *ticket.DeviceID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.service.GetLicense(ctx, f.stranger, license.Code); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden license view, got %v", err)
	}
	if _, err := f.service.GetLicense(ctx, f.owner, license.Code); err != nil {
		t.Fatalf("owner should see license: %v", err)
	}

	devices, err := f.service.ListDevices(ctx, f.owner, uuid.Nil, 0, 0)
	if err != nil || len(devices) != 1 || devices[0].MACAddress != "AA:BB:CC:DD:EE:17" {
		t.Fatalf("unexpected devices %+v, %v", devices, err)
	}
	if _, err := f.service.ListDevices(ctx, f.stranger, f.owner.UserID, 10, 0); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden list, got %v", err)
	}
	devices, err = f.service.ListDevices(ctx, f.admin, f.owner.UserID, 10, 0)
	if err != nil || len(devices) != 1 {
		t.Fatalf("admin list failed: %+v, %v", devices, err)
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Now().UTC()
	token, err := f.tokens.Sign(ports.CallerClaims{
		UserID:    f.owner.UserID,
		Email:     f.owner.Email,
		Username:  f.owner.Username,
		Role:      f.owner.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	caller, err := f.service.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if caller.UserID != f.owner.UserID || caller.Role != domain.RoleUser || caller.IsAdmin() {
		t.Fatalf("unexpected caller %+v", caller)
	}

	if _, err := f.service.Authenticate(context.Background(), token+"x"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAnonymousCallerRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service.CheckLicense(context.Background(), application.Caller{}, application.CheckLicenseInput{
		MACAddress: "AA:BB:CC:DD:EE:18",
		DeviceName: "laptop",
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
