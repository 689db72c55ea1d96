package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

var ErrInvalidSignature = errors.New("invalid ticket signature")

// TicketSigner signs tickets with SHA256withRSA over their canonical bytes.
// One key serves the whole process lifetime so clients can pin its public half.
type TicketSigner struct {
	privateKey   *rsa.PrivateKey
	publicKeyPEM string
}

func NewTicketSigner(privateKeyPEM string) (*TicketSigner, error) {
	if privateKeyPEM == "" {
		return nil, errors.New("ticket private key is required")
	}
	key, err := parseRSAPrivate(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse ticket private key: %w", err)
	}
	return newTicketSigner(key)
}

// NewEphemeralTicketSigner generates a key pair in memory. Tickets it signs
// stop verifying once the process exits.
func NewEphemeralTicketSigner() (*TicketSigner, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	return newTicketSigner(key)
}

func newTicketSigner(key *rsa.PrivateKey) (*TicketSigner, error) {
	pub, err := EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &TicketSigner{privateKey: key, publicKeyPEM: pub}, nil
}

func (s *TicketSigner) Sign(ticket domain.Ticket) (domain.Ticket, error) {
	payload, err := ticket.CanonicalBytes()
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	ticket.Signature = base64.StdEncoding.EncodeToString(sig)
	return ticket, nil
}

func (s *TicketSigner) PublicKeyPEM() string {
	return s.publicKeyPEM
}

func (s *TicketSigner) PrivateKeyPEM() (string, error) {
	return EncodePrivateKeyPEM(s.privateKey)
}

// ParseTicketPublicKey decodes a PEM public key (PKIX or PKCS1).
func ParseTicketPublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	return parseRSAPublic(publicKeyPEM)
}

// VerifyTicket checks ticket.Signature against the canonical bytes of every
// other field.
func VerifyTicket(pub *rsa.PublicKey, ticket domain.Ticket) error {
	if ticket.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	sig, err := base64.StdEncoding.DecodeString(ticket.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	payload, err := ticket.CanonicalBytes()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
