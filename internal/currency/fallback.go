package currency

// usdRates is the last-resort rate table, quoted against USD. Approximate
// by nature; it only backstops a rate API outage with no usable cache.
var usdRates = map[string]float64{
	"USD": 1,
	"EUR": 0.85,
	"GBP": 0.73,
	"JPY": 110,
	"CAD": 1.25,
	"AUD": 1.35,
	"CHF": 0.92,
	"CNY": 6.45,
	"INR": 75,
	"BRL": 5.2,
	"MXN": 20,
	"KRW": 1180,
	"SGD": 1.35,
	"HKD": 7.8,
	"NOK": 8.5,
	"SEK": 8.7,
	"DKK": 6.3,
	"PLN": 3.9,
	"CZK": 21.5,
	"HUF": 300,
	"TRY": 8.5,
	"ZAR": 15,
	"ILS": 3.2,
	"AED": 3.67,
	"SAR": 3.75,
	"EGP": 15.7,
	"NGN": 410,
	"KES": 110,
	"GHS": 6.1,
}

// crossRates derives a rate table for an arbitrary base currency from the
// USD-quoted fallback table: rate(base→x) = rate(USD→x) / rate(USD→base).
func crossRates(base string) (map[string]float64, bool) {
	baseRate, ok := usdRates[base]
	if !ok || baseRate <= 0 {
		return nil, false
	}

	out := make(map[string]float64, len(usdRates))
	for code, r := range usdRates {
		out[code] = r / baseRate
	}
	return out, true
}
