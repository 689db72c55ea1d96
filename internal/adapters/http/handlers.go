package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/contracts"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) publicKey(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, contracts.PublicKeyResponse{
		Algorithm:    "SHA256withRSA",
		PublicKeyPEM: h.service.TicketPublicKeyPEM(),
	})
}

func (h *Handler) createLicense(w http.ResponseWriter, r *http.Request) {
	const operation = "create_license"
	var req contracts.CreateLicenseRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.metrics.observe(operation, "invalid")
		writeValidationError(r.Context(), w, operation, err)
		return
	}
	license, err := h.service.CreateLicense(r.Context(), callerFromContext(r.Context()), application.CreateLicenseInput{
		ProductID:     uuid.MustParse(req.ProductID),
		OwnerID:       uuid.MustParse(req.OwnerID),
		LicenseTypeID: uuid.MustParse(req.LicenseTypeID),
		DeviceCount:   req.DeviceCount,
		Description:   req.Description,
	})
	if err != nil {
		h.failed(w, r, operation, err)
		return
	}
	h.metrics.observe(operation, "success")
	writeSuccess(w, http.StatusCreated, toLicenseResponse(license, ""))
}

func (h *Handler) getLicense(w http.ResponseWriter, r *http.Request) {
	const operation = "get_license"
	view, err := h.service.GetLicense(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "code"))
	if err != nil {
		h.failed(w, r, operation, err)
		return
	}
	bindings := make([]contracts.BindingResponse, 0, len(view.Bindings))
	for _, b := range view.Bindings {
		bindings = append(bindings, contracts.BindingResponse{
			DeviceID:    b.DeviceID.String(),
			ActivatedAt: formatTime(b.ActivatedAt),
		})
	}
	writeSuccess(w, http.StatusOK, contracts.LicenseViewResponse{
		License:  toLicenseResponse(view.License, string(view.State)),
		Bindings: bindings,
	})
}

func (h *Handler) activateLicense(w http.ResponseWriter, r *http.Request) {
	const operation = "activate_license"
	var req contracts.ActivateLicenseRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.metrics.observe(operation, "invalid")
		writeValidationError(r.Context(), w, operation, err)
		return
	}
	ticket, err := h.service.ActivateLicense(r.Context(), callerFromContext(r.Context()), application.ActivateLicenseInput{
		Code:       req.Code,
		MACAddress: req.MACAddress,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		h.failed(w, r, operation, err)
		return
	}
	h.ticketIssued(w, operation, ticket)
}

func (h *Handler) updateLicense(w http.ResponseWriter, r *http.Request) {
	const operation = "update_license"
	var req contracts.UpdateLicenseRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.metrics.observe(operation, "invalid")
		writeValidationError(r.Context(), w, operation, err)
		return
	}
	ticket, err := h.service.UpdateLicense(r.Context(), callerFromContext(r.Context()), application.UpdateLicenseInput{
		Code:              req.Code,
		NewExpirationDate: req.NewExpirationDate,
	})
	if err != nil {
		h.failed(w, r, operation, err)
		return
	}
	h.ticketIssued(w, operation, ticket)
}

func (h *Handler) checkLicense(w http.ResponseWriter, r *http.Request) {
	const operation = "check_license"
	var req contracts.CheckLicenseRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.metrics.observe(operation, "invalid")
		writeValidationError(r.Context(), w, operation, err)
		return
	}
	ticket, err := h.service.CheckLicense(r.Context(), callerFromContext(r.Context()), application.CheckLicenseInput{
		MACAddress: req.MACAddress,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		h.failed(w, r, operation, err)
		return
	}
	h.ticketIssued(w, operation, ticket)
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	const operation = "get_device"
	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeValidationError(r.Context(), w, operation, err)
		return
	}
	device, err := h.service.GetDevice(r.Context(), callerFromContext(r.Context()), deviceID)
	if err != nil {
		h.failed(w, r, operation, err)
		return
	}
	writeSuccess(w, http.StatusOK, toDeviceResponse(device))
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	const operation = "list_devices"
	var userID uuid.UUID
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeValidationError(r.Context(), w, operation, err)
			return
		}
		userID = parsed
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	devices, err := h.service.ListDevices(r.Context(), callerFromContext(r.Context()), userID, limit, offset)
	if err != nil {
		h.failed(w, r, operation, err)
		return
	}
	out := make([]contracts.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	const operation = "delete_device"
	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeValidationError(r.Context(), w, operation, err)
		return
	}
	if err := h.service.DeleteDevice(r.Context(), callerFromContext(r.Context()), deviceID); err != nil {
		h.failed(w, r, operation, err)
		return
	}
	h.metrics.observe(operation, "success")
	writeMessage(w, http.StatusOK, "device deleted")
}

func (h *Handler) ticketIssued(w http.ResponseWriter, operation string, ticket domain.Ticket) {
	outcome := "success"
	if ticket.Blocked {
		outcome = "ticket_blocked"
	}
	h.metrics.observe(operation, outcome)
	writeTicket(w, ticket)
}

func (h *Handler) failed(w http.ResponseWriter, r *http.Request, operation string, err error) {
	outcome := "error"
	if _, ok := domain.FailureTicket(err); ok {
		outcome = "ticket_failure"
	}
	h.metrics.observe(operation, outcome)
	writeMappedError(r.Context(), w, operation, err)
}

func toLicenseResponse(l domain.License, state string) contracts.LicenseResponse {
	out := contracts.LicenseResponse{
		LicenseID:      l.LicenseID.String(),
		Code:           l.Code,
		OwnerID:        l.OwnerID.String(),
		ProductID:      l.ProductID.String(),
		LicenseTypeID:  l.LicenseTypeID.String(),
		RemainingSlots: l.RemainingSlots,
		Blocked:        l.Blocked,
		State:          state,
		DurationDays:   l.DurationDays,
		Description:    l.Description,
		CreatedAt:      formatTime(l.CreatedAt),
	}
	if l.UserID != nil {
		out.UserID = l.UserID.String()
	}
	if l.FirstActivationAt != nil {
		out.FirstActivationAt = formatTime(*l.FirstActivationAt)
	}
	if l.ExpiresAt != nil {
		out.ExpiresAt = formatTime(*l.ExpiresAt)
	}
	return out
}

func toDeviceResponse(d domain.Device) contracts.DeviceResponse {
	return contracts.DeviceResponse{
		DeviceID:   d.DeviceID.String(),
		MACAddress: d.MACAddress,
		Name:       d.Name,
		UserID:     d.UserID.String(),
		CreatedAt:  formatTime(d.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
