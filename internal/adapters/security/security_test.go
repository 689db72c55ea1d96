package security

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/contracts"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

func sampleTicket() domain.Ticket {
	now := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	expiry := now.AddDate(0, 0, 30)
	userID := uuid.New()
	deviceID := uuid.New()
	return domain.Ticket{
		ServerDate:         now,
		TicketLifetimeDays: 2,
		ActivationDate:     &now,
		ExpirationDate:     &expiry,
		UserID:             &userID,
		DeviceID:           &deviceID,
		Detail:             "license activated on device",
	}
}

func TestTicketSignAndVerify(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralTicketSigner()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	pub, err := ParseTicketPublicKey(signer.PublicKeyPEM())
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}

	signed, err := signer.Sign(sampleTicket())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := VerifyTicket(pub, signed); err != nil {
		t.Fatalf("verify: %v", err)
	}

	tampered := signed
	tampered.Blocked = true
	if err := VerifyTicket(pub, tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for tampered ticket, got %v", err)
	}
	later := signed.ExpirationDate.AddDate(1, 0, 0)
	tampered = signed
	tampered.ExpirationDate = &later
	if err := VerifyTicket(pub, tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for extended expiry, got %v", err)
	}

	unsigned := signed
	unsigned.Signature = ""
	if err := VerifyTicket(pub, unsigned); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for unsigned ticket, got %v", err)
	}
}

func TestTicketSurvivesWireRoundTrip(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralTicketSigner()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	pub, err := ParseTicketPublicKey(signer.PublicKeyPEM())
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	signed, err := signer.Sign(sampleTicket())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	decoded, err := contracts.TicketFromDomain(signed).ToDomain()
	if err != nil {
		t.Fatalf("decode wire ticket: %v", err)
	}
	if err := VerifyTicket(pub, decoded); err != nil {
		t.Fatalf("wire ticket should verify: %v", err)
	}
}

func TestTicketSignerFromPEM(t *testing.T) {
	t.Parallel()

	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM, err := EncodePrivateKeyPEM(key)
	if err != nil {
		t.Fatalf("encode private key: %v", err)
	}
	signer, err := NewTicketSigner(privPEM)
	if err != nil {
		t.Fatalf("signer from pem: %v", err)
	}
	pubPEM, err := EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		t.Fatalf("encode public key: %v", err)
	}
	if signer.PublicKeyPEM() != pubPEM {
		t.Fatalf("signer should expose the matching public key")
	}
	roundTrip, err := signer.PrivateKeyPEM()
	if err != nil || roundTrip != privPEM {
		t.Fatalf("private key round trip mismatch: %v", err)
	}

	if _, err := NewTicketSigner(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := NewTicketSigner("not a pem"); err == nil {
		t.Fatalf("expected error for garbage key")
	}
}

func TestJWTSignAndValidate(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralJWTSigner("kid-1")
	if err != nil {
		t.Fatalf("new jwt signer: %v", err)
	}
	now := time.Now().UTC()
	userID := uuid.New()
	token, err := signer.Sign(ports.CallerClaims{
		UserID:    userID,
		Email:     "user@example.com",
		Username:  "user",
		Role:      domain.RoleAdmin,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	pubPEM, err := signer.PublicKeyPEM()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	verifier, err := NewJWTVerifier(pubPEM)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	claims, err := verifier.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != userID || claims.Role != domain.RoleAdmin || claims.KeyID != "kid-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := verifier.Sign(ports.CallerClaims{UserID: userID}); err == nil {
		t.Fatalf("verifier without private key must not sign")
	}
}

func TestJWTRejectsExpiredAndForeignTokens(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralJWTSigner("kid-1")
	if err != nil {
		t.Fatalf("new jwt signer: %v", err)
	}
	other, err := NewEphemeralJWTSigner("kid-2")
	if err != nil {
		t.Fatalf("new jwt signer: %v", err)
	}

	past := time.Now().UTC().Add(-2 * time.Hour)
	expired, err := signer.Sign(ports.CallerClaims{UserID: uuid.New(), IssuedAt: past, ExpiresAt: past.Add(time.Hour)})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := signer.ParseAndValidate(expired); err == nil {
		t.Fatalf("expected expired token to fail")
	}

	now := time.Now().UTC()
	foreign, err := other.Sign(ports.CallerClaims{UserID: uuid.New(), IssuedAt: now, ExpiresAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := signer.ParseAndValidate(foreign); err == nil {
		t.Fatalf("expected token from another key to fail")
	}
}
