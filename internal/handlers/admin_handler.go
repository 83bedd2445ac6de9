package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"emoney-portal/internal/services"
	"emoney-portal/models"
	"emoney-portal/utils"
)

type QROperations interface {
	OpenSessions(ctx context.Context) ([]*models.QRSession, error)
	Inspect(ctx context.Context, merchantCode string) (*services.QRView, error)
	ForceClose(ctx context.Context, merchantCode, reason string) error
}

type ActiveCounter interface {
	Active() int
}

type BreakerStater interface {
	State() utils.State
}

// AdminHandler serves the principal operators' view of open QR sessions.
type AdminHandler struct {
	qr         QROperations
	countdowns ActiveCounter
	breaker    BreakerStater
	now        func() time.Time
}

func NewAdminHandler(qr QROperations, countdowns ActiveCounter, breaker BreakerStater) *AdminHandler {
	return &AdminHandler{
		qr:         qr,
		countdowns: countdowns,
		breaker:    breaker,
		now:        time.Now,
	}
}

type qrSummary struct {
	MerchantCode string          `json:"merchant_code"`
	View         models.View     `json:"view"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status,omitempty"`
	Remaining    int             `json:"remaining_seconds"`
	AutoUpdated  bool            `json:"auto_updated"`
	CreatedAt    time.Time       `json:"created_at"`
}

// GetQRDashboard - counts and summaries of every open QR session
func (h *AdminHandler) GetQRDashboard(e *core.RequestEvent) error {
	sessions, err := h.qr.OpenSessions(e.Request.Context())
	if err != nil {
		return portalErrors.Respond(err)
	}

	now := h.now()
	byView := map[models.View]int{}
	items := make([]qrSummary, 0, len(sessions))
	for _, qr := range sessions {
		byView[qr.View]++
		summary := qrSummary{
			MerchantCode: qr.MerchantCode,
			View:         qr.View,
			Amount:       qr.Amount,
			AutoUpdated:  qr.AutoUpdated,
			CreatedAt:    qr.CreatedAt,
		}
		if qr.Status != nil {
			summary.Status = qr.Status.Status
		}
		if qr.View == models.ViewQR {
			summary.Remaining = services.RemainingSeconds(qr.ValidityPeriod, now)
		}
		items = append(items, summary)
	}

	dashboard := map[string]any{
		"total":             len(sessions),
		"by_view":           byView,
		"active_countdowns": h.countdowns.Active(),
		"sessions":          items,
	}
	if h.breaker != nil {
		dashboard["platform_breaker"] = h.breaker.State().String()
	}
	return e.JSON(http.StatusOK, dashboard)
}

// GetQRDetails - the full QR session of one merchant
func (h *AdminHandler) GetQRDetails(e *core.RequestEvent) error {
	code := e.Request.PathValue("merchantCode")
	if code == "" {
		return apis.NewBadRequestError("Merchant code required", nil)
	}
	view, err := h.qr.Inspect(e.Request.Context(), code)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, view)
}

// ForceCloseQR - discard a stuck QR session so the merchant can generate again
func (h *AdminHandler) ForceCloseQR(e *core.RequestEvent) error {
	code := e.Request.PathValue("merchantCode")
	if code == "" {
		return apis.NewBadRequestError("Merchant code required", nil)
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Reason == "" {
		req.Reason = "admin"
	}

	if err := h.qr.ForceClose(e.Request.Context(), code, req.Reason); err != nil {
		return portalErrors.Respond(err)
	}

	if sess, err := currentSession(e); err == nil {
		slog.Info("admin closed qr session", "merchant_code", code, "operator", sess.Subject)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true, "merchant_code": code})
}
