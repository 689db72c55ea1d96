package http

import (
	"context"
	"log/slog"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

const serviceName = "M91-License-Service"

func httpLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "http",
		"layer", "adapter",
	)
}

// logHTTPOperationError records a failed licensing request. Failures that
// carry a signed ticket are tagged so they can be told apart from plain
// rejections; the ticket subject is logged, never its signature.
func logHTTPOperationError(ctx context.Context, operation string, statusCode int, code, message string, err error) {
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", code,
		"message", message,
		"request_id", requestIDFromContext(ctx),
	}
	if ticket, ok := domain.FailureTicket(err); ok {
		fields = append(fields,
			"ticket_issued", true,
			"ticket_user_id", ticket.UserID,
			"ticket_device_id", ticket.DeviceID,
		)
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	if statusCode >= 500 {
		httpLogger().ErrorContext(ctx, "licensing request failed", fields...)
		return
	}
	httpLogger().WarnContext(ctx, "licensing request failed", fields...)
}
