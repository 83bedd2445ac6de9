package models

import (
	"encoding/json"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

type CashoutStage string

const (
	StageSelecting CashoutStage = "selecting"
	StageReviewing CashoutStage = "reviewing"
	StagePassword  CashoutStage = "password"
	StageCompleted CashoutStage = "completed"
)

type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// TransferService is a transfer option offered for a destination bank, with its fee.
type TransferService struct {
	Code string          `json:"code"`
	Name string          `json:"name"`
	Fee  decimal.Decimal `json:"fee"`
}

type CashoutSelection struct {
	BankCode      string          `json:"bank_code"`
	ServiceCode   string          `json:"service_code"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Remark        string          `json:"remark,omitempty"`
}

var plainAmount = regexp.MustCompile(`^[0-9]{1,15}(\.[0-9]{1,2})?$`)

// UnmarshalJSON only accepts plain decimal amounts, given as a number or a string.
// Exponent forms are refused before they reach decimal arithmetic.
func (s *CashoutSelection) UnmarshalJSON(data []byte) error {
	type plain CashoutSelection
	aux := struct {
		*plain
		Amount json.RawMessage `json:"amount"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := strings.Trim(strings.TrimSpace(string(aux.Amount)), `"`)
	if raw == "" || raw == "null" {
		s.Amount = decimal.Zero
		return nil
	}
	if !plainAmount.MatchString(raw) {
		return validation.Errors{"amount": validation.NewError("validation_amount_format", "must be a plain decimal amount")}
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return validation.Errors{"amount": validation.NewError("validation_amount_format", "must be a plain decimal amount")}
	}
	s.Amount = amount
	return nil
}

type CashoutInquiry struct {
	InquiryID              string          `json:"inquiryId"`
	DestinationAccountName string          `json:"destinationAccountName"`
	Amount                 decimal.Decimal `json:"amount"`
	Fee                    decimal.Decimal `json:"fee"`
	Total                  decimal.Decimal `json:"total"`
}

type CashoutPayment struct {
	ReferenceNumber string          `json:"referenceNumber"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Fee             decimal.Decimal `json:"fee"`
	TransactionTime string          `json:"transactionTime,omitempty"`
}

// CashoutFlow is the per-session state of the cashout pipeline.
type CashoutFlow struct {
	Stage     CashoutStage      `json:"stage"`
	Profile   *MerchantProfile  `json:"profile,omitempty"`
	Banks     []Bank            `json:"banks,omitempty"`
	Selection *CashoutSelection `json:"selection,omitempty"`
	Inquiry   *CashoutInquiry   `json:"inquiry,omitempty"`
	Result    *CashoutPayment   `json:"result,omitempty"`
}
