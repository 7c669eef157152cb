// Package publiclink issues and validates the signed tokens behind
// customer-facing payment pages. Tokens are stateless: invalidation is
// by expiry only, there is no revocation store.
package publiclink

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	"github.com/facturante/facturante/internal/config"
	"github.com/facturante/facturante/pkg/crypto/signing"
	"go.uber.org/fx"
)

var (
	ErrLinkInvalid = errors.New("public_link_invalid")
	ErrLinkExpired = errors.New("public_link_expired")
)

// Claims is the payload carried inside a signed payment link.
type Claims struct {
	InvoiceID snowflake.ID `json:"invoice_id"`
	OrgID     snowflake.ID `json:"org_id"`
	ExpiresAt int64        `json:"exp"`
}

// Codec signs and verifies public payment links. The token shape is
// base64url(claims) "." hex(hmac-sha256(claims)).
type Codec struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewCodec(cfg config.Config, clk clock.Clock) *Codec {
	return &Codec{
		secret: []byte(cfg.PublicLinkSecret),
		ttl:    cfg.PublicLinkTTL,
		clock:  clk,
	}
}

// Generate issues a token for the invoice, valid for the configured TTL.
func (c *Codec) Generate(orgID, invoiceID snowflake.ID) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrLinkInvalid
	}
	claims := Claims{
		InvoiceID: invoiceID,
		OrgID:     orgID,
		ExpiresAt: c.clock.Now().Add(c.ttl).Unix(),
	}
	encoded, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(encoded)
	return body + "." + signing.HexHMACSHA256([]byte(body), c.secret), nil
}

// Parse verifies the signature before looking at the claims, then checks
// expiry. A tampered token and a malformed token are indistinguishable
// to the caller.
func (c *Codec) Parse(token string) (Claims, error) {
	if len(c.secret) == 0 {
		return Claims{}, ErrLinkInvalid
	}
	body, signature, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || body == "" || signature == "" {
		return Claims{}, ErrLinkInvalid
	}
	if !signing.Equal(signature, signing.HexHMACSHA256([]byte(body), c.secret)) {
		return Claims{}, ErrLinkInvalid
	}

	decoded, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Claims{}, ErrLinkInvalid
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrLinkInvalid
	}
	if claims.InvoiceID == 0 || claims.OrgID == 0 {
		return Claims{}, ErrLinkInvalid
	}
	if c.clock.Now().Unix() > claims.ExpiresAt {
		return Claims{}, ErrLinkExpired
	}
	return claims, nil
}

var Module = fx.Module("publiclink",
	fx.Provide(NewCodec),
)
