package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// View is the modal currently shown for a QR session.
type View string

const (
	ViewNone   View = "none"
	ViewQR     View = "qr"
	ViewStatus View = "status"
)

// StatusOpen is the sentinel the platform returns while a QR is still payable.
const StatusOpen = "OPEN"

type QRSession struct {
	SessionID      string          `json:"session_id"`
	MerchantCode   string          `json:"merchant_code"`
	Amount         decimal.Decimal `json:"amount"`
	QRString       string          `json:"qr_string"`
	ValidityPeriod time.Time       `json:"validity_period"`
	View           View            `json:"view"`
	Status         *PaymentStatus  `json:"status,omitempty"`
	AutoUpdated    bool            `json:"auto_updated"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PaymentStatus is one status poll result with the echoed transaction attributes.
type PaymentStatus struct {
	Status          string          `json:"status"`
	PAN             string          `json:"pan,omitempty"`
	IssuerName      string          `json:"issuerName,omitempty"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionTime string          `json:"transactionTime,omitempty"`
}

func (p *PaymentStatus) IsOpen() bool {
	return p != nil && strings.EqualFold(strings.TrimSpace(p.Status), StatusOpen)
}

// IsTerminal reports whether no further status change can happen for the session.
func (p *PaymentStatus) IsTerminal() bool {
	if p == nil {
		return false
	}
	switch strings.ToUpper(strings.TrimSpace(p.Status)) {
	case StatusOpen, "IN_PROGRESS", "PENDING", "":
		return false
	}
	return true
}

// QRNotification is the payload pushed to the merchant channel.
type QRNotification struct {
	Type         string         `json:"type"`
	MerchantCode string         `json:"merchant_code"`
	View         View           `json:"view"`
	Status       *PaymentStatus `json:"status,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}
