// Package qrtoken mints the opaque gate credential bound to a coordinator
// approval. The token is the lookup key for the access ledger, so it must be
// unique per minting event and unguessable by holders of other tokens.
package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"exeat/pkg/secrets"
)

// Issuer mints gate tokens keyed by a per-install secret.
type Issuer struct {
	secret []byte
}

// New constructs an Issuer. The secret must be non-empty; permit id and
// timestamp alone are guessable, the secret is what makes forgery infeasible.
func New(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("qr token secret is required")
	}
	return &Issuer{secret: []byte(secret)}, nil
}

// Mint produces a token for one (permit, approval) pair: a random nonce
// joined with an HMAC over permit id, approval id, and nonce. The nonce
// guarantees uniqueness per minting event; the HMAC binds the token to this
// install's secret. Callers must invoke Mint inside the same transaction
// that records the coordinator approval, and exactly once per approval.
func (i *Issuer) Mint(permitID, approvalID uuid.UUID) (string, error) {
	nonce, err := secrets.Generate()
	if err != nil {
		return "", fmt.Errorf("mint qr token: %w", err)
	}

	mac := hmac.New(sha256.New, i.secret)
	mac.Write(permitID[:])
	mac.Write(approvalID[:])
	mac.Write([]byte(nonce))
	sig := mac.Sum(nil)

	return nonce + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
