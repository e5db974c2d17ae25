package bank

// ResponseCodeApproved is the only code that maps to an approved outcome.
const ResponseCodeApproved = "00"

type responseMeaning struct {
	success   bool
	message   string
	railFault bool
}

// Fixed issuer response-code table. Codes absent from this table are
// treated as failures; approval is never assumed on an unrecognized code.
var responseCodes = map[string]responseMeaning{
	"00": {success: true, message: "Approved"},
	"01": {message: "Refer to card issuer"},
	"02": {message: "Refer to card issuer"},
	"05": {message: "Do not honor"},
	"12": {message: "Invalid transaction"},
	"13": {message: "Invalid amount"},
	"14": {message: "Invalid card number"},
	"15": {message: "No such issuer"},
	"51": {message: "Insufficient funds"},
	"54": {message: "Expired card"},
	"55": {message: "Invalid PIN"},
	"61": {message: "Exceeds withdrawal limit"},
	"65": {message: "Exceeds withdrawal frequency"},
	"91": {message: "Issuer unavailable", railFault: true},
	"96": {message: "System malfunction", railFault: true},
}

// DescribeResponseCode maps a two-digit response code to its outcome.
func DescribeResponseCode(code string) (success bool, message string) {
	if m, ok := responseCodes[code]; ok {
		return m.success, m.message
	}
	return false, "Unknown response code"
}

// IsRailFault reports whether a response code indicates a rail-side fault
// worth one retry on a fallback rail, as opposed to an issuer decision.
func IsRailFault(code string) bool {
	m, ok := responseCodes[code]
	return ok && m.railFault
}
