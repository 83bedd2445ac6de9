package models

import "time"

// Session is the portal session backing one dashboard login.
type Session struct {
	ID           string    `json:"id"`
	AccessToken  string    `json:"access_token"`
	Locale       string    `json:"locale"`
	Subject      string    `json:"subject"`
	Tenant       string    `json:"tenant,omitempty"`
	MerchantCode string    `json:"merchant_code,omitempty"`
	Roles        []string  `json:"roles,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}
