package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

// TicketSigner signs the canonical form of a ticket with one long-lived key.
type TicketSigner interface {
	Sign(ticket domain.Ticket) (domain.Ticket, error)
	PublicKeyPEM() string
}

type CallerClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	KeyID     string    `json:"kid"`
}

type TokenVerifier interface {
	ParseAndValidate(token string) (CallerClaims, error)
}

// Locker runs fn while holding a mutual-exclusion lock scoped to key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}
