package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/contracts"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

var flagPrivkey = &cli.StringFlag{
	Name:  "privkey-file",
	Value: "ticket-private.pem",
	Usage: "Path to the RSA private key",
}
var flagPubkey = &cli.StringFlag{
	Name:  "pubkey-file",
	Value: "ticket-public.pem",
	Usage: "Path to the RSA public key",
}
var flagTicket = &cli.StringFlag{
	Name:     "ticket-file",
	Usage:    "Path to a ticket, or a service response carrying one",
	Required: true,
}

func main() {
	app := &cli.App{
		Name:  "licensectl",
		Usage: "operator tooling for the license service",
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "generate an RSA key pair for ticket or token signing",
				Flags: []cli.Flag{flagPrivkey, flagPubkey},
				Action: func(cCtx *cli.Context) error {
					key, err := security.GenerateKey()
					if err != nil {
						return fmt.Errorf("generate key: %w", err)
					}
					privPEM, err := security.EncodePrivateKeyPEM(key)
					if err != nil {
						return err
					}
					pubPEM, err := security.EncodePublicKeyPEM(&key.PublicKey)
					if err != nil {
						return err
					}
					if err := os.WriteFile(cCtx.String(flagPrivkey.Name), []byte(privPEM), 0600); err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flagPubkey.Name), []byte(pubPEM), 0644)
				},
			},
			{
				Name:  "verify",
				Usage: "check the signature of an issued ticket",
				Flags: []cli.Flag{flagPubkey, flagTicket},
				Action: func(cCtx *cli.Context) error {
					pubPEM, err := os.ReadFile(cCtx.String(flagPubkey.Name))
					if err != nil {
						return err
					}
					pub, err := security.ParseTicketPublicKey(string(pubPEM))
					if err != nil {
						return err
					}
					raw, err := os.ReadFile(cCtx.String(flagTicket.Name))
					if err != nil {
						return err
					}
					ticket, err := readTicket(raw)
					if err != nil {
						return err
					}
					if err := security.VerifyTicket(pub, ticket); err != nil {
						return err
					}
					fmt.Printf("signature ok (blocked=%t): %s\n", ticket.Blocked, ticket.Detail)
					return nil
				},
			},
			{
				Name:  "sign-token",
				Usage: "mint a caller token for local runs",
				Flags: []cli.Flag{
					flagPrivkey,
					&cli.StringFlag{Name: "kid", Value: "m91-license-key-1"},
					&cli.StringFlag{Name: "user-id", Required: true},
					&cli.StringFlag{Name: "role", Value: domain.RoleUser},
					&cli.StringFlag{Name: "email"},
					&cli.StringFlag{Name: "username"},
					&cli.DurationFlag{Name: "ttl", Value: time.Hour},
				},
				Action: func(cCtx *cli.Context) error {
					userID, err := uuid.Parse(cCtx.String("user-id"))
					if err != nil {
						return fmt.Errorf("parse user-id: %w", err)
					}
					privPEM, err := os.ReadFile(cCtx.String(flagPrivkey.Name))
					if err != nil {
						return err
					}
					signer, err := security.NewJWTSigner(cCtx.String("kid"), string(privPEM))
					if err != nil {
						return err
					}
					now := time.Now().UTC()
					token, err := signer.Sign(ports.CallerClaims{
						UserID:    userID,
						Email:     cCtx.String("email"),
						Username:  cCtx.String("username"),
						Role:      cCtx.String("role"),
						IssuedAt:  now,
						ExpiresAt: now.Add(cCtx.Duration("ttl")),
					})
					if err != nil {
						return err
					}
					fmt.Println(token)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// readTicket accepts a bare ticket, a success envelope or an error envelope.
func readTicket(raw []byte) (domain.Ticket, error) {
	var envelope struct {
		Data   json.RawMessage   `json:"data"`
		Ticket *contracts.Ticket `json:"ticket"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.Ticket{}, fmt.Errorf("decode ticket: %w", err)
	}
	var wire contracts.Ticket
	switch {
	case envelope.Ticket != nil:
		wire = *envelope.Ticket
	case len(envelope.Data) > 0:
		if err := json.Unmarshal(envelope.Data, &wire); err != nil {
			return domain.Ticket{}, fmt.Errorf("decode ticket: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &wire); err != nil {
			return domain.Ticket{}, fmt.Errorf("decode ticket: %w", err)
		}
	}
	if wire.Signature == "" {
		return domain.Ticket{}, errors.New("ticket has no signature")
	}
	return wire.ToDomain()
}
