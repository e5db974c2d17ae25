package bank

// ISO 4217 numeric codes for the currencies the bank rails accept.
var currencyNumeric = map[string]string{
	"USD": "840",
	"EUR": "978",
	"GBP": "826",
	"BRL": "986",
	"JPY": "392",
	"CAD": "124",
	"AUD": "036",
	"CHF": "756",
	"MXN": "484",
	"SGD": "702",
}

// SupportsCurrency reports whether the bank rails can carry the currency.
func SupportsCurrency(code string) bool {
	_, ok := currencyNumeric[code]
	return ok
}
