package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// JWTVerifier validates RS256 caller tokens minted by the identity service.
// A verifier built from a private key can also mint tokens, which local runs
// and licensectl rely on.
type JWTVerifier struct {
	kid        string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	leeway     time.Duration
}

func NewJWTVerifier(publicKeyPEM string) (*JWTVerifier, error) {
	if publicKeyPEM == "" {
		return nil, errors.New("jwt public key is required")
	}
	pub, err := parseRSAPublic(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTVerifier{publicKey: pub, leeway: 30 * time.Second}, nil
}

func NewJWTSigner(kid, privateKeyPEM string) (*JWTVerifier, error) {
	if kid == "" {
		return nil, errors.New("jwt key id (kid) is required")
	}
	priv, err := parseRSAPrivate(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &JWTVerifier{kid: kid, privateKey: priv, publicKey: &priv.PublicKey, leeway: 30 * time.Second}, nil
}

// NewEphemeralJWTSigner creates an in-memory key pair for local use.
func NewEphemeralJWTSigner(kid string) (*JWTVerifier, error) {
	if kid == "" {
		kid = "ephemeral-key-1"
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	return &JWTVerifier{kid: kid, privateKey: key, publicKey: &key.PublicKey, leeway: 30 * time.Second}, nil
}

type callerJWTClaims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (v *JWTVerifier) Sign(claims ports.CallerClaims) (string, error) {
	if v.privateKey == nil {
		return "", errors.New("jwt verifier has no signing key")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, callerJWTClaims{
		UserID:   claims.UserID.String(),
		Email:    claims.Email,
		Username: claims.Username,
		Role:     claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	token.Header["kid"] = v.kid
	return token.SignedString(v.privateKey)
}

func (v *JWTVerifier) ParseAndValidate(raw string) (ports.CallerClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &callerJWTClaims{}, func(token *jwt.Token) (any, error) {
		return v.publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithLeeway(v.leeway), jwt.WithExpirationRequired())
	if err != nil {
		return ports.CallerClaims{}, err
	}
	claims, ok := parsed.Claims.(*callerJWTClaims)
	if !ok || !parsed.Valid {
		return ports.CallerClaims{}, errors.New("invalid token claims")
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return ports.CallerClaims{}, fmt.Errorf("parse user_id: %w", err)
	}
	kid, _ := parsed.Header["kid"].(string)

	out := ports.CallerClaims{
		UserID:   userID,
		Email:    claims.Email,
		Username: claims.Username,
		Role:     claims.Role,
		KeyID:    kid,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

// PublicKeyPEM returns the verification key in PKIX PEM form.
func (v *JWTVerifier) PublicKeyPEM() (string, error) {
	return EncodePublicKeyPEM(v.publicKey)
}
