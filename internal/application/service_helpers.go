package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

func (s *Service) logger() *slog.Logger {
	return slog.Default().With(
		"service", s.cfg.ServiceName,
		"module", "application",
		"layer", "application",
	)
}

// fail is the orchestrator boundary for every failed operation. It writes the
// audit entry, signs a failure ticket when the error warrants one and hides
// unclassified errors behind domain.ErrInternal.
func (s *Service) fail(ctx context.Context, caller Caller, operation string, err error) error {
	lerr, ok := domain.AsLicenseError(err)
	if !ok {
		s.recordAudit(ctx, caller, fmt.Sprintf("%s failed: %v", operation, err))
		s.logger().ErrorContext(ctx, "licensing operation failed",
			"operation", operation,
			"outcome", "failure",
			"user_id", caller.UserID,
			"error", err,
		)
		return fmt.Errorf("%w: %s failed", domain.ErrInternal, operation)
	}

	s.recordAudit(ctx, caller, fmt.Sprintf("%s failed: %s", operation, lerr.Error()))
	s.logger().WarnContext(ctx, "licensing operation rejected",
		"operation", operation,
		"outcome", "failure",
		"user_id", caller.UserID,
		"reason", lerr.Error(),
		"ticketed", lerr.Ticketed,
	)
	if lerr.Ticketed && lerr.Ticket == nil {
		message := lerr.Message
		if message == "" {
			message = lerr.Kind.Error()
		}
		ticket, signErr := s.signTicket(s.failureTicket(caller, message))
		if signErr != nil {
			return signErr
		}
		lerr.Ticket = &ticket
	}
	return lerr
}

func (s *Service) recordAudit(ctx context.Context, caller Caller, description string) {
	if s.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		EntryID:     uuid.New(),
		Email:       caller.Email,
		Username:    caller.Username,
		ActionType:  domain.AuditActionLicense,
		Description: description,
		OccurredAt:  s.nowFn(),
	}
	if caller.Identified() {
		userID := caller.UserID
		entry.UserID = &userID
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AuditTimeout)
	defer cancel()
	if err := s.audit.Record(auditCtx, entry); err != nil {
		s.logger().WarnContext(ctx, "failed to record audit entry",
			"operation", "record_audit",
			"outcome", "failure",
			"description", description,
			"error", err,
		)
	}
}

func requireCaller(caller Caller) error {
	if !caller.Identified() {
		return domain.PlainError(domain.ErrInvalidInput, "missing caller identity")
	}
	return nil
}

func notFound(ticketed bool, message string) error {
	if ticketed {
		return domain.TicketedError(domain.ErrNotFound, message)
	}
	return domain.PlainError(domain.ErrNotFound, message)
}

func (s *Service) productCheck(ctx context.Context, productID uuid.UUID, ticketed bool) (domain.Product, error) {
	res, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("find product: %w", err)
	}
	product, ok := res.Get()
	if !ok {
		return domain.Product{}, notFound(ticketed, "product not found")
	}
	if product.Blocked {
		return domain.Product{}, domain.PlainError(domain.ErrConflict, "product is blocked")
	}
	return product, nil
}

func (s *Service) ownerCheck(ctx context.Context, ownerID uuid.UUID, ticketed bool) (domain.User, error) {
	res, err := s.users.FindByID(ctx, ownerID)
	if err != nil {
		return domain.User{}, fmt.Errorf("find owner: %w", err)
	}
	owner, ok := res.Get()
	if !ok {
		return domain.User{}, notFound(ticketed, "owner not found")
	}
	return owner, nil
}

func (s *Service) licenseTypeCheck(ctx context.Context, licenseTypeID uuid.UUID, ticketed bool) (domain.LicenseType, error) {
	res, err := s.licenseTypes.FindByID(ctx, licenseTypeID)
	if err != nil {
		return domain.LicenseType{}, fmt.Errorf("find license type: %w", err)
	}
	licenseType, ok := res.Get()
	if !ok {
		return domain.LicenseType{}, notFound(ticketed, "license type not found")
	}
	return licenseType, nil
}

// licenseCheck resolves a license by activation code. An unknown code always
// warrants a ticket: the client has no other way to learn the code is wrong.
func (s *Service) licenseCheck(ctx context.Context, code string) (domain.License, error) {
	res, err := s.licenses.FindByCode(ctx, code)
	if err != nil {
		return domain.License{}, fmt.Errorf("find license: %w", err)
	}
	license, ok := res.Get()
	if !ok {
		return domain.License{}, domain.TicketedError(domain.ErrInvalidCredential, "invalid license code")
	}
	return license, nil
}

func (s *Service) deviceCheck(ctx context.Context, macAddress, name string) (domain.Device, error) {
	res, err := s.devices.FindByMACAndName(ctx, macAddress, name)
	if err != nil {
		return domain.Device{}, fmt.Errorf("find device: %w", err)
	}
	device, ok := res.Get()
	if !ok {
		return domain.Device{}, notFound(false, "device not found")
	}
	return device, nil
}

func (s *Service) bindingCheck(ctx context.Context, deviceID uuid.UUID) (domain.DeviceLicense, error) {
	res, err := s.bindings.FindByDevice(ctx, deviceID)
	if err != nil {
		return domain.DeviceLicense{}, fmt.Errorf("find binding: %w", err)
	}
	binding, ok := res.Get()
	if !ok {
		return domain.DeviceLicense{}, notFound(false, "no license bound to device")
	}
	return binding, nil
}

// newTicket starts a ticket stamped at now. ActivationDate defaults to now
// until a binding says otherwise.
func (s *Service) newTicket(now time.Time) domain.Ticket {
	activation := now
	return domain.Ticket{
		ServerDate:         now,
		TicketLifetimeDays: s.cfg.TicketLifetimeDays,
		ActivationDate:     &activation,
	}
}

func (s *Service) failureTicket(caller Caller, detail string) domain.Ticket {
	ticket := s.newTicket(s.now())
	if caller.Identified() {
		userID := caller.UserID
		ticket.UserID = &userID
	}
	ticket.Blocked = true
	ticket.Detail = detail
	return ticket
}

func (s *Service) signTicket(ticket domain.Ticket) (domain.Ticket, error) {
	signed, err := s.signer.Sign(ticket)
	if err != nil {
		if errors.Is(err, domain.ErrSigningFailure) {
			return domain.Ticket{}, err
		}
		return domain.Ticket{}, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	return signed, nil
}

func newEvent(eventType, partitionKey string, occurredAt time.Time, payload map[string]any) ports.OutboxEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{}`)
	}
	return ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      raw,
		OccurredAt:   occurredAt,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }
