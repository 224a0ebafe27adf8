package vouchers

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field names as they appear on the wire.
const (
	fieldVoucherID = "tid"
	fieldBuyerID   = "uid"
	fieldEventID   = "eid"
	fieldTierID    = "tkid"
	fieldQuantity  = "qty"
	fieldPrice     = "price"
	fieldIssuedAt  = "ts"
	fieldExpiresAt = "exp"
	fieldSignature = "sig"
)

// maxPrice bounds voucher prices to the numeric(12,2) range of
// bookings.total_price, well inside the plain decimal form of JSON numbers.
var maxPrice = decimal.New(1, 10)

// issuedAtLayout renders millisecond precision ISO-8601 in UTC, e.g.
// 2024-05-01T18:30:00.000Z.
const issuedAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Payload is the decoded voucher. Field order matches the encoded JSON.
type Payload struct {
	VoucherID string  `json:"tid"`
	BuyerID   string  `json:"uid"`
	EventID   string  `json:"eid"`
	TierID    string  `json:"tkid"`
	Quantity  int64   `json:"qty"`
	Price     float64 `json:"price"`
	IssuedAt  string  `json:"ts"`
	ExpiresAt int64   `json:"exp"`
	Signature string  `json:"sig"`
}

// Expired reports whether the voucher horizon lies strictly before now.
func (p Payload) Expired(now time.Time) bool {
	return now.UnixMilli() > p.ExpiresAt
}

// ExpiresAtTime converts the epoch millis expiry into a time.Time.
func (p Payload) ExpiresAtTime() time.Time {
	return time.UnixMilli(p.ExpiresAt).UTC()
}

// canonical is the exact signing input: every field but sig, sorted by key,
// joined as key=value pairs with '&'.
func canonical(p Payload) string {
	values := map[string]string{
		fieldVoucherID: p.VoucherID,
		fieldBuyerID:   p.BuyerID,
		fieldEventID:   p.EventID,
		fieldTierID:    p.TierID,
		fieldQuantity:  strconv.FormatInt(p.Quantity, 10),
		fieldPrice:     formatNumber(p.Price),
		fieldIssuedAt:  p.IssuedAt,
		fieldExpiresAt: strconv.FormatInt(p.ExpiresAt, 10),
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
	}
	return b.String()
}

// formatNumber prints the shortest decimal that round-trips, which is how
// scanners written against JSON number semantics stringify prices. It matches
// the JSON text only below 1e21, where encoding/json switches to exponent
// form; Mint rejects prices at or above maxPrice.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
