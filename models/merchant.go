package models

import "github.com/shopspring/decimal"

// MerchantProfile is the read-only snapshot loaded when a merchant screen opens.
type MerchantProfile struct {
	MerchantCode  string          `json:"merchantCode"`
	MerchantName  string          `json:"merchantName"`
	AccountNumber string          `json:"accountNumber"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency,omitempty"`
}
