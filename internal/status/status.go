package status

import "errors"

var (
	ErrUnauthorized        = errors.New("platform: unauthorized")
	ErrCircuitOpen         = errors.New("platform: circuit breaker is open")
	ErrSessionNotFound     = errors.New("session: session not found")
	ErrForbidden           = errors.New("session: not allowed for this portal")
	ErrNotMerchant         = errors.New("session: merchant account required")
	ErrInvalidAmount       = errors.New("qr: amount must be a positive whole number")
	ErrQRSessionOpen       = errors.New("qr: a qr session is already open")
	ErrQRSessionNotFound   = errors.New("qr: qr session not found")
	ErrQRDialog            = errors.New("qr: generation rejected")
	ErrCashoutNotStarted   = errors.New("cashout: no cashout in progress")
	ErrCashoutStage        = errors.New("cashout: step not allowed in current stage")
	ErrInquiryRequired     = errors.New("cashout: inquiry required before payment")
	ErrCashoutInProgress   = errors.New("cashout: another step is still in progress")
	ErrInsufficientBalance = errors.New("cashout: amount exceeds balance")
	ErrDateRangeTooWide    = errors.New("listing: date range exceeds the allowed number of days")
	ErrUnknownResource     = errors.New("listing: unknown resource")
	ErrReadOnlyResource    = errors.New("listing: resource cannot be modified")
	ErrExportUnavailable   = errors.New("listing: resource has no export")
)
