package bank

import (
	"strings"
	"testing"
)

func TestMessage_EncodeDecodeRoundTrip(t *testing.T) {
	msg := NewMessage(mtiAuthRequest)
	msg.Set(fieldPAN, "deadbeefcafe0123")
	msg.Set(fieldProcessingCode, processingCodePurchase)
	msg.Set(fieldAmount, "000000010000")
	msg.Set(fieldTransmission, "0829143000")
	msg.Set(fieldTraceNumber, "000042")
	msg.Set(fieldRetrievalRef, "TX0000000001")
	msg.Set(fieldTerminalID, "TERM0001")
	msg.Set(fieldMerchantID, "MERCHANT0000001")
	msg.Set(fieldMerchantName, "SUNNY PAYMENTS SAO PAULO BR")
	msg.Set(fieldAdditionalData, "stepup-token-xyz")
	msg.Set(fieldCurrency, "840")

	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.MTI != mtiAuthRequest {
		t.Errorf("MTI = %q, want %q", decoded.MTI, mtiAuthRequest)
	}
	for field, want := range msg.Fields {
		if got := decoded.Get(field); got != want {
			t.Errorf("field %d = %q, want %q", field, got, want)
		}
	}
}

func TestMessage_FixedFieldPadding(t *testing.T) {
	msg := NewMessage(mtiNetworkRequest)
	msg.Set(fieldTraceNumber, "42")       // numeric: zero-pad left
	msg.Set(fieldMerchantName, "ACME CO") // text: space-pad right

	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := string(raw)

	if !strings.Contains(s, "000042") {
		t.Error("expected trace number zero-padded to 000042")
	}
	if !strings.Contains(s, "ACME CO"+strings.Repeat(" ", 33)) {
		t.Error("expected merchant name space-padded to width 40")
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Padding must not leak back out of a decode.
	if got := decoded.Get(fieldMerchantName); got != "ACME CO" {
		t.Errorf("merchant name = %q, want %q", got, "ACME CO")
	}
}

func TestDecode_Truncated(t *testing.T) {
	msg := NewMessage(mtiAuthResponse)
	msg.Set(fieldResponseCode, "00")
	msg.Set(fieldRetrievalRef, "TX0000000123")
	raw, _ := msg.Encode()

	cases := [][]byte{
		raw[:3],             // shorter than MTI+bitmap
		raw[:21],            // cut inside first field
		raw[:len(raw)-1],    // cut inside last field
		append(raw, 'X'),    // trailing garbage
		[]byte("0110ZZZZZZZZZZZZZZZZ"), // unparsable bitmap
	}
	for i, c := range cases {
		if _, err := Decode(c); err == nil {
			t.Errorf("case %d: expected decode error", i)
		}
	}
}

func TestMessage_RejectsOversizedValue(t *testing.T) {
	msg := NewMessage(mtiAuthRequest)
	msg.Set(fieldResponseCode, "123") // width 2

	if _, err := msg.Encode(); err == nil {
		t.Error("expected encode error for oversized fixed field")
	}
}
