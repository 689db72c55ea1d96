package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/contracts"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, contracts.SuccessResponse{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, contracts.SuccessResponse{Status: "success", Message: message})
}

func writeTicket(w http.ResponseWriter, ticket domain.Ticket) {
	writeSuccess(w, http.StatusOK, contracts.TicketFromDomain(ticket))
}

func writeError(ctx context.Context, w http.ResponseWriter, statusCode int, code, message string, ticket *domain.Ticket) {
	resp := contracts.ErrorResponse{
		Status:    "error",
		Code:      code,
		Message:   message,
		RequestID: requestIDFromContext(ctx),
	}
	if ticket != nil {
		wire := contracts.TicketFromDomain(*ticket)
		resp.Ticket = &wire
	}
	writeJSON(w, statusCode, resp)
}
