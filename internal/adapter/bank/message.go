package bank

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MTIs exchanged with the acquirer.
const (
	mtiAuthRequest    = "0100"
	mtiAuthResponse   = "0110"
	mtiNetworkRequest = "0800"
	mtiNetworkReply   = "0810"
)

// Field numbers used by the authorization flow.
const (
	fieldPAN            = 2  // llvar, encrypted card data or network token
	fieldProcessingCode = 3  // fixed 6
	fieldAmount         = 4  // fixed 12, minor units zero-padded
	fieldTransmission   = 7  // fixed 10, MMDDhhmmss
	fieldTraceNumber    = 11 // fixed 6
	fieldRetrievalRef   = 37 // fixed 12, transaction id
	fieldAuthCode       = 38 // fixed 6
	fieldResponseCode   = 39 // fixed 2
	fieldTerminalID     = 41 // fixed 8
	fieldMerchantID     = 42 // fixed 15 (reply: tail of card number)
	fieldMerchantName   = 43 // fixed 40
	fieldAdditionalData = 48 // lllvar, step-up token
	fieldCurrency       = 49 // fixed 3, ISO 4217 numeric
)

// Purchase on the default account, no cashback.
const processingCodePurchase = "000000"

type fieldKind int

const (
	fixed fieldKind = iota
	llvar
	lllvar
)

type fieldSpec struct {
	kind fieldKind
	// max length for variable fields, exact length for fixed ones
	length int
}

var fieldSpecs = map[int]fieldSpec{
	fieldPAN:            {llvar, 99},
	fieldProcessingCode: {fixed, 6},
	fieldAmount:         {fixed, 12},
	fieldTransmission:   {fixed, 10},
	fieldTraceNumber:    {fixed, 6},
	fieldRetrievalRef:   {fixed, 12},
	fieldAuthCode:       {fixed, 6},
	fieldResponseCode:   {fixed, 2},
	fieldTerminalID:     {fixed, 8},
	fieldMerchantID:     {fixed, 15},
	fieldMerchantName:   {fixed, 40},
	fieldAdditionalData: {lllvar, 999},
	fieldCurrency:       {fixed, 3},
}

// Message is one wire message: a four-digit MTI, a 64-bit primary bitmap
// derived from the populated fields, and ASCII-encoded field values.
type Message struct {
	MTI    string
	Fields map[int]string
}

func NewMessage(mti string) *Message {
	return &Message{
		MTI:    mti,
		Fields: make(map[int]string),
	}
}

func (m *Message) Set(field int, value string) {
	m.Fields[field] = value
}

func (m *Message) Get(field int) string {
	return m.Fields[field]
}

// Encode serializes the message as MTI ‖ hex bitmap ‖ fields in ascending
// field order. Fixed fields are padded to their exact width: numeric-looking
// values left-padded with zeros, everything else right-padded with spaces.
func (m *Message) Encode() ([]byte, error) {
	if len(m.MTI) != 4 {
		return nil, fmt.Errorf("iso8583: bad MTI %q", m.MTI)
	}

	fields := make([]int, 0, len(m.Fields))
	var bitmap uint64
	for f := range m.Fields {
		if f < 2 || f > 64 {
			return nil, fmt.Errorf("iso8583: field %d outside primary bitmap", f)
		}
		if _, ok := fieldSpecs[f]; !ok {
			return nil, fmt.Errorf("iso8583: field %d has no spec", f)
		}
		bitmap |= 1 << (64 - f)
		fields = append(fields, f)
	}
	sort.Ints(fields)

	var b strings.Builder
	b.WriteString(m.MTI)
	fmt.Fprintf(&b, "%016X", bitmap)

	for _, f := range fields {
		spec := fieldSpecs[f]
		val := m.Fields[f]
		switch spec.kind {
		case fixed:
			if len(val) > spec.length {
				return nil, fmt.Errorf("iso8583: field %d value exceeds width %d", f, spec.length)
			}
			b.WriteString(padFixed(val, spec.length))
		case llvar:
			if len(val) > spec.length || len(val) > 99 {
				return nil, fmt.Errorf("iso8583: field %d value exceeds llvar max", f)
			}
			fmt.Fprintf(&b, "%02d%s", len(val), val)
		case lllvar:
			if len(val) > spec.length || len(val) > 999 {
				return nil, fmt.Errorf("iso8583: field %d value exceeds lllvar max", f)
			}
			fmt.Fprintf(&b, "%03d%s", len(val), val)
		}
	}

	return []byte(b.String()), nil
}

// Decode parses a message produced by the same field table.
func Decode(raw []byte) (*Message, error) {
	data := string(raw)
	if len(data) < 20 {
		return nil, fmt.Errorf("iso8583: message too short (%d bytes)", len(data))
	}

	m := NewMessage(data[:4])
	bitmap, err := strconv.ParseUint(data[4:20], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("iso8583: bad bitmap: %w", err)
	}

	pos := 20
	for f := 2; f <= 64; f++ {
		if bitmap&(1<<(64-f)) == 0 {
			continue
		}
		spec, ok := fieldSpecs[f]
		if !ok {
			return nil, fmt.Errorf("iso8583: field %d set in bitmap but has no spec", f)
		}

		var val string
		switch spec.kind {
		case fixed:
			if pos+spec.length > len(data) {
				return nil, fmt.Errorf("iso8583: truncated field %d", f)
			}
			val = strings.TrimRight(data[pos:pos+spec.length], " ")
			pos += spec.length
		case llvar, lllvar:
			digits := 2
			if spec.kind == lllvar {
				digits = 3
			}
			if pos+digits > len(data) {
				return nil, fmt.Errorf("iso8583: truncated length prefix for field %d", f)
			}
			n, err := strconv.Atoi(data[pos : pos+digits])
			if err != nil {
				return nil, fmt.Errorf("iso8583: bad length prefix for field %d: %w", f, err)
			}
			pos += digits
			if pos+n > len(data) {
				return nil, fmt.Errorf("iso8583: truncated field %d", f)
			}
			val = data[pos : pos+n]
			pos += n
		}
		m.Fields[f] = val
	}

	if pos != len(data) {
		return nil, fmt.Errorf("iso8583: %d trailing bytes after last field", len(data)-pos)
	}
	return m, nil
}

func padFixed(val string, width int) string {
	if isDigits(val) {
		return strings.Repeat("0", width-len(val)) + val
	}
	return val + strings.Repeat(" ", width-len(val))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
