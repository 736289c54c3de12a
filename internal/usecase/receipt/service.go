package receipt

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/quotagate/internal/domain/receipt"
	"github.com/kailas-cloud/quotagate/internal/domain/request"
)

// Version tags the attestation encoding.
const Version = "qg1"

// ErrMalformedAttestation is returned by Decode for undecodable tokens.
var ErrMalformedAttestation = errors.New("malformed attestation")

// Claims are the fields bound by an attestation.
type Claims struct {
	CorrelationID  string
	SubscriberID   string
	PayloadDigest  string
	ResponseDigest string
	Cost           int64
	IssuedAt       time.Time
}

// Generator issues and verifies receipts. Attestations are an unkeyed,
// deterministic encoding: anyone holding the inputs can recompute them.
type Generator struct {
	now func() time.Time
}

// New creates a Generator.
func New() *Generator {
	return &Generator{now: time.Now}
}

// WithClock replaces the time source. Test hook.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Issue binds the priced request to the response it produced.
func (g *Generator) Issue(p request.Priced, response string) receipt.Receipt {
	c := Claims{
		CorrelationID:  p.CorrelationID,
		SubscriberID:   p.SubscriberID,
		PayloadDigest:  Digest(p.Payload),
		ResponseDigest: Digest(response),
		Cost:           p.Cost,
		IssuedAt:       g.now().UTC(),
	}
	return receipt.Receipt{
		CorrelationID:  c.CorrelationID,
		SubscriberID:   c.SubscriberID,
		PayloadDigest:  c.PayloadDigest,
		ResponseDigest: c.ResponseDigest,
		Cost:           c.Cost,
		IssuedAt:       c.IssuedAt,
		Attestation:    Encode(c),
	}
}

// Verify reports whether claimedResponse is the response the receipt was
// issued for and the receipt fields are untampered.
func (g *Generator) Verify(r receipt.Receipt, claimedResponse string) bool {
	if !equal(Digest(claimedResponse), r.ResponseDigest) {
		return false
	}
	return equal(Encode(claimsOf(r)), r.Attestation)
}

// VerifyRequest reports whether payload is the request the receipt covers.
func (g *Generator) VerifyRequest(r receipt.Receipt, payload string) bool {
	if !equal(Digest(payload), r.PayloadDigest) {
		return false
	}
	return equal(Encode(claimsOf(r)), r.Attestation)
}

// Digest returns the hex SHA-256 of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Encode renders claims as "qg1." + base64url(canonical record).
func Encode(c Claims) string {
	record := strings.Join([]string{
		Version,
		c.CorrelationID,
		c.SubscriberID,
		c.PayloadDigest,
		c.ResponseDigest,
		strconv.FormatInt(c.Cost, 10),
		strconv.FormatInt(c.IssuedAt.UnixNano(), 10),
	}, "\n")
	return Version + "." + base64.RawURLEncoding.EncodeToString([]byte(record))
}

// Decode parses an attestation back into its claims.
func Decode(attestation string) (Claims, error) {
	body, ok := strings.CutPrefix(attestation, Version+".")
	if !ok {
		return Claims{}, ErrMalformedAttestation
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Claims{}, ErrMalformedAttestation
	}
	parts := strings.Split(string(raw), "\n")
	if len(parts) != 7 || parts[0] != Version {
		return Claims{}, ErrMalformedAttestation
	}
	cost, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return Claims{}, ErrMalformedAttestation
	}
	nanos, err := strconv.ParseInt(parts[6], 10, 64)
	if err != nil {
		return Claims{}, ErrMalformedAttestation
	}
	return Claims{
		CorrelationID:  parts[1],
		SubscriberID:   parts[2],
		PayloadDigest:  parts[3],
		ResponseDigest: parts[4],
		Cost:           cost,
		IssuedAt:       time.Unix(0, nanos).UTC(),
	}, nil
}

func claimsOf(r receipt.Receipt) Claims {
	return Claims{
		CorrelationID:  r.CorrelationID,
		SubscriberID:   r.SubscriberID,
		PayloadDigest:  r.PayloadDigest,
		ResponseDigest: r.ResponseDigest,
		Cost:           r.Cost,
		IssuedAt:       r.IssuedAt,
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
