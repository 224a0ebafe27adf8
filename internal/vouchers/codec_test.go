package vouchers

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

var fixedNow = time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(Config{
		Secret: []byte("scanner-shared-secret"),
		Now:    func() time.Time { return fixedNow },
		NewID:  func() string { return "11111111-2222-3333-4444-555555555555" },
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func testClaims() Claims {
	return Claims{
		BuyerID:  uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"),
		EventID:  uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002"),
		TierID:   uuid.MustParse("cccccccc-0000-0000-0000-000000000003"),
		Quantity: 2,
		Price:    decimal.RequireFromString("51.50"),
	}
}

func TestNewCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec(Config{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestMintWireFormat(t *testing.T) {
	codec := newTestCodec(t)

	voucher, payload, err := codec.Mint(testClaims())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(voucher)
	if err != nil {
		t.Fatalf("voucher must be standard base64: %v", err)
	}

	wantPrefix := `{"tid":"11111111-2222-3333-4444-555555555555","uid":"aaaaaaaa-0000-0000-0000-000000000001",` +
		`"eid":"bbbbbbbb-0000-0000-0000-000000000002","tkid":"cccccccc-0000-0000-0000-000000000003",` +
		`"qty":2,"price":51.5,"ts":"2024-05-01T18:30:00.000Z","exp":1714674600000,"sig":"`
	if !strings.HasPrefix(string(raw), wantPrefix) {
		t.Fatalf("unexpected wire json:\n got %s\nwant prefix %s", raw, wantPrefix)
	}

	if payload.ExpiresAt != fixedNow.Add(24*time.Hour).UnixMilli() {
		t.Fatalf("expected 24h horizon, got %d", payload.ExpiresAt)
	}
	if len(payload.Signature) != 64 {
		t.Fatalf("expected hex sha256 signature, got %q", payload.Signature)
	}
	if payload.VoucherID == testClaims().BuyerID.String() {
		t.Fatalf("voucher id must be freshly generated")
	}
}

func TestCanonicalEncodingIsSortedByKey(t *testing.T) {
	p := Payload{
		VoucherID: "v", BuyerID: "u", EventID: "e", TierID: "t",
		Quantity: 3, Price: 25, IssuedAt: "2024-01-01T00:00:00.000Z", ExpiresAt: 1704153600000,
	}
	want := "eid=e&exp=1704153600000&price=25&qty=3&tid=v&tkid=t&ts=2024-01-01T00:00:00.000Z&uid=u"
	if got := canonical(p); got != want {
		t.Fatalf("canonical mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	voucher, minted, err := codec.Mint(testClaims())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	decoded, err := codec.Decode(voucher)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != minted {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, minted)
	}
}

func TestDecodeRejectsOtherSecret(t *testing.T) {
	voucher, _, err := newTestCodec(t).Mint(testClaims())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	other, _ := NewCodec(Config{Secret: []byte("another-secret")})

	_, err = other.Decode(voucher)
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestDecodeDetectsFieldMutation(t *testing.T) {
	codec := newTestCodec(t)
	voucher, _, err := codec.Mint(testClaims())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	mutations := map[string]func(map[string]any){
		"qty":   func(m map[string]any) { m["qty"] = 9 },
		"price": func(m map[string]any) { m["price"] = 0.01 },
		"exp":   func(m map[string]any) { m["exp"] = 4102444800000 },
		"uid":   func(m map[string]any) { m["uid"] = uuid.NewString() },
		"tkid":  func(m map[string]any) { m["tkid"] = uuid.NewString() },
		"ts":    func(m map[string]any) { m["ts"] = "2030-01-01T00:00:00.000Z" },
		"sig":   func(m map[string]any) { m["sig"] = strings.Repeat("0", 64) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			raw, _ := base64.StdEncoding.DecodeString(voucher)
			var fields map[string]any
			if err := json.Unmarshal(raw, &fields); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			mutate(fields)
			tampered, _ := json.Marshal(fields)

			_, err := codec.Decode(base64.StdEncoding.EncodeToString(tampered))
			if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature) {
				t.Fatalf("expected invalid signature, got %v", err)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	encode := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	full := `"tid":"v","uid":"u","eid":"e","tkid":"t","ts":"2024-01-01T00:00:00.000Z","sig":"ab"`

	tests := map[string]string{
		"empty":          "",
		"not base64":     "not-valid-base64!!",
		"not json":       encode("hello"),
		"json array":     encode(`[1,2,3]`),
		"json null":      encode(`null`),
		"missing qty":    encode(`{` + full + `,"price":1,"exp":1}`),
		"string qty":     encode(`{` + full + `,"qty":"2","price":1,"exp":1}`),
		"fractional qty": encode(`{` + full + `,"qty":1.5,"price":1,"exp":1}`),
		"numeric tid":    encode(`{"tid":7,"uid":"u","eid":"e","tkid":"t","ts":"x","sig":"ab","qty":1,"price":1,"exp":1}`),
		"extra field":    encode(`{` + full + `,"qty":1,"price":1,"exp":1,"admin":true}`),
		"trailing data":  encode(`{` + full + `,"qty":1,"price":1,"exp":1} {}`),
		"null price":     encode(`{` + full + `,"qty":1,"price":null,"exp":1}`),
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(input)
			if !pkgerrors.IsCode(err, pkgerrors.CodeMalformedVoucher) {
				t.Fatalf("expected malformed voucher, got %v", err)
			}
		})
	}
}

func TestParseAcceptsCompleteObject(t *testing.T) {
	input := base64.StdEncoding.EncodeToString([]byte(
		`{"tid":"v","uid":"u","eid":"e","tkid":"t","qty":2,"price":12.5,"ts":"2024-01-01T00:00:00.000Z","exp":1704153600000,"sig":"ab"}`,
	))
	p, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Quantity != 2 || p.Price != 12.5 || p.ExpiresAt != 1704153600000 {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestMintRejectsInvalidClaims(t *testing.T) {
	codec := newTestCodec(t)
	claims := testClaims()
	claims.Quantity = 0
	if _, _, err := codec.Mint(claims); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMintBoundsPriceToPlainDecimal(t *testing.T) {
	codec := newTestCodec(t)
	claims := testClaims()
	claims.Price = decimal.New(1, 10)
	if _, _, err := codec.Mint(claims); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected out of range price to fail, got %v", err)
	}

	claims.Price = decimal.RequireFromString("9999999999.99")
	_, payload, err := codec.Mint(claims)
	if err != nil {
		t.Fatalf("mint at column maximum: %v", err)
	}
	if got := formatNumber(payload.Price); strings.ContainsAny(got, "eE") {
		t.Fatalf("price rendered in exponent form: %s", got)
	}
}

func TestExpired(t *testing.T) {
	codec := newTestCodec(t)
	claims := testClaims()
	claims.IssuedAt = fixedNow.Add(-25 * time.Hour)
	_, payload, err := codec.Mint(claims)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if !payload.Expired(fixedNow) {
		t.Fatalf("voucher issued 25h ago must be expired")
	}
	if payload.Expired(fixedNow.Add(-2 * time.Hour)) {
		t.Fatalf("voucher should be valid within the horizon")
	}
}
