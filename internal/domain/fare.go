package domain

// FareSettings describes the fare structure used to price a trip.
type FareSettings struct {
	BaseFare       float64 `json:"base_fare"`
	BaseDistanceKm float64 `json:"base_distance_km"`
	RatePerKm      float64 `json:"rate_per_km"`
	Currency       string  `json:"currency"`
}

// Supported currency symbols.
var Currencies = []string{"₱", "$", "€", "£", "¥", "₹"}

// DefaultFareSettings returns the out-of-the-box fare structure.
func DefaultFareSettings() FareSettings {
	return FareSettings{
		BaseFare:       15,
		BaseDistanceKm: 4,
		RatePerKm:      1,
		Currency:       "₱",
	}
}

// IsSupportedCurrency reports whether symbol is one of Currencies.
func IsSupportedCurrency(symbol string) bool {
	for _, c := range Currencies {
		if c == symbol {
			return true
		}
	}
	return false
}
