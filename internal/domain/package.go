package domain

// Package is one purchasable credit bundle. The catalog is static
// configuration, read-only at runtime.
type Package struct {
	Code       string `json:"code"`
	Credits    int    `json:"credits"`
	PriceLabel string `json:"priceLabel"`
}

// DefaultCatalog mirrors the production tariff list.
func DefaultCatalog() []Package {
	return []Package{
		{Code: "credits_30", Credits: 30, PriceLabel: "30 ₽"},
		{Code: "credits_100", Credits: 100, PriceLabel: "90 ₽"},
		{Code: "credits_300", Credits: 300, PriceLabel: "250 ₽"},
	}
}
