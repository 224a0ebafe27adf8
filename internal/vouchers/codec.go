package vouchers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

// DefaultTTL is the validity horizon applied at mint time.
const DefaultTTL = 24 * time.Hour

// Config wires the codec. Secret is the key shared with redemption scanners.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
	NewID  func() string
}

// Codec mints and verifies signed vouchers.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
}

// Claims are the sale facts bound into a voucher.
type Claims struct {
	BuyerID  uuid.UUID
	EventID  uuid.UUID
	TierID   uuid.UUID
	Quantity int
	// Price is the amount charged for the whole booking.
	Price    decimal.Decimal
	IssuedAt time.Time
}

func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("voucher signing secret required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &Codec{secret: secret, ttl: cfg.TTL, now: cfg.Now, newID: cfg.NewID}, nil
}

// Mint signs claims into the opaque voucher string handed to the buyer.
func (c *Codec) Mint(claims Claims) (string, Payload, error) {
	if claims.Quantity < 1 {
		return "", Payload{}, pkgerrors.New(pkgerrors.CodeValidation, "voucher quantity must be positive")
	}
	if claims.Price.IsNegative() {
		return "", Payload{}, pkgerrors.New(pkgerrors.CodeValidation, "voucher price must not be negative")
	}
	if claims.Price.GreaterThanOrEqual(maxPrice) {
		return "", Payload{}, pkgerrors.New(pkgerrors.CodeValidation, "voucher price out of range")
	}

	issued := claims.IssuedAt
	if issued.IsZero() {
		issued = c.now()
	}
	issued = issued.UTC().Truncate(time.Millisecond)

	payload := Payload{
		VoucherID: c.newID(),
		BuyerID:   claims.BuyerID.String(),
		EventID:   claims.EventID.String(),
		TierID:    claims.TierID.String(),
		Quantity:  int64(claims.Quantity),
		Price:     claims.Price.InexactFloat64(),
		IssuedAt:  issued.Format(issuedAtLayout),
		ExpiresAt: issued.Add(c.ttl).UnixMilli(),
	}
	payload.Signature = c.sign(payload)

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", Payload{}, fmt.Errorf("encode voucher: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), payload, nil
}

// Verify recomputes the signature and compares it in constant time.
func (c *Codec) Verify(p Payload) bool {
	expected := c.sign(p)
	return hmac.Equal([]byte(expected), []byte(p.Signature))
}

// Decode parses and verifies a voucher. Expiry is left to the caller.
func (c *Codec) Decode(voucher string) (Payload, error) {
	payload, err := Parse(voucher)
	if err != nil {
		return Payload{}, err
	}
	if !c.Verify(payload) {
		return Payload{}, pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid signature")
	}
	return payload, nil
}

func (c *Codec) sign(p Payload) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(canonical(p)))
	return hex.EncodeToString(mac.Sum(nil))
}

var strictBase64 = base64.StdEncoding.Strict()

// Parse decodes a voucher string without checking its signature. Every field
// must be present with the right primitive type; anything else is malformed.
func Parse(voucher string) (Payload, error) {
	if voucher == "" {
		return Payload{}, malformed("empty voucher")
	}
	raw, err := strictBase64.DecodeString(voucher)
	if err != nil {
		return Payload{}, malformed("voucher is not base64")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return Payload{}, malformed("voucher is not a json object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Payload{}, malformed("trailing data after voucher object")
	}
	if len(fields) != len(knownFields) {
		return Payload{}, malformed("unexpected voucher fields")
	}

	var p Payload
	var perr error
	str := func(key string, dst *string) {
		if perr != nil {
			return
		}
		v, ok := fields[key].(string)
		if !ok {
			perr = malformed(fmt.Sprintf("field %s must be a string", key))
			return
		}
		*dst = v
	}
	num := func(key string) float64 {
		if perr != nil {
			return 0
		}
		n, ok := fields[key].(json.Number)
		if !ok {
			perr = malformed(fmt.Sprintf("field %s must be a number", key))
			return 0
		}
		f, err := n.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			perr = malformed(fmt.Sprintf("field %s is not a finite number", key))
			return 0
		}
		return f
	}
	integer := func(key string) int64 {
		f := num(key)
		if perr != nil {
			return 0
		}
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			perr = malformed(fmt.Sprintf("field %s must be an integer", key))
			return 0
		}
		return int64(f)
	}

	str(fieldVoucherID, &p.VoucherID)
	str(fieldBuyerID, &p.BuyerID)
	str(fieldEventID, &p.EventID)
	str(fieldTierID, &p.TierID)
	p.Quantity = integer(fieldQuantity)
	p.Price = num(fieldPrice)
	str(fieldIssuedAt, &p.IssuedAt)
	p.ExpiresAt = integer(fieldExpiresAt)
	str(fieldSignature, &p.Signature)
	if perr != nil {
		return Payload{}, perr
	}
	return p, nil
}

var knownFields = []string{
	fieldVoucherID, fieldBuyerID, fieldEventID, fieldTierID,
	fieldQuantity, fieldPrice, fieldIssuedAt, fieldExpiresAt, fieldSignature,
}

func malformed(detail string) error {
	return pkgerrors.New(pkgerrors.CodeMalformedVoucher, "malformed").WithDetails(detail)
}
