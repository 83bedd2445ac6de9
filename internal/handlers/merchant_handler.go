package handlers

import (
	"context"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/spf13/cast"

	"emoney-portal/internal/services"
	"emoney-portal/models"
)

type ProfileReader interface {
	Profile(ctx context.Context, sess *models.Session) (*models.MerchantProfile, error)
}

type QRFlow interface {
	Generate(ctx context.Context, sess *models.Session, rawAmount string) (*services.QRView, error)
	Current(ctx context.Context, sess *models.Session) (*services.QRView, error)
	CheckStatus(ctx context.Context, sess *models.Session) (*services.QRView, error)
	StatusAction(ctx context.Context, sess *models.Session) (*services.QRView, error)
	Reset(ctx context.Context, sess *models.Session) error
}

type QRHistory interface {
	History(ctx context.Context, merchantCode string, limit int) ([]services.QRHistoryEntry, error)
}

type CashoutFlow interface {
	Start(ctx context.Context, sess *models.Session) (*models.CashoutFlow, error)
	Current(ctx context.Context, sess *models.Session) (*models.CashoutFlow, error)
	Services(ctx context.Context, sess *models.Session, bankCode string) ([]models.TransferService, error)
	Review(ctx context.Context, sess *models.Session, sel models.CashoutSelection) (*models.CashoutFlow, error)
	Inquire(ctx context.Context, sess *models.Session) (*models.CashoutFlow, error)
	Pay(ctx context.Context, sess *models.Session, password string) (*models.CashoutFlow, error)
	Reset(ctx context.Context, sess *models.Session) error
}

type MerchantHandler struct {
	profile ProfileReader
	qr      QRFlow
	history QRHistory
	cashout CashoutFlow
}

func NewMerchantHandler(profile ProfileReader, qr QRFlow, history QRHistory, cashout CashoutFlow) *MerchantHandler {
	return &MerchantHandler{
		profile: profile,
		qr:      qr,
		history: history,
		cashout: cashout,
	}
}

func (h *MerchantHandler) Profile(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	profile, err := h.profile.Profile(e.Request.Context(), sess)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, profile)
}

// GenerateQR accepts the amount as typed, e.g. "1,500" or 1500.
func (h *MerchantHandler) GenerateQR(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	var req struct {
		Amount any `json:"amount"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	view, err := h.qr.Generate(e.Request.Context(), sess, cast.ToString(req.Amount))
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusCreated, view)
}

func (h *MerchantHandler) CurrentQR(e *core.RequestEvent) error {
	return h.qrStep(e, h.qr.Current)
}

func (h *MerchantHandler) CheckQRStatus(e *core.RequestEvent) error {
	return h.qrStep(e, h.qr.CheckStatus)
}

func (h *MerchantHandler) QRStatusAction(e *core.RequestEvent) error {
	return h.qrStep(e, h.qr.StatusAction)
}

func (h *MerchantHandler) qrStep(e *core.RequestEvent, step func(context.Context, *models.Session) (*services.QRView, error)) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	view, err := step(e.Request.Context(), sess)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, view)
}

func (h *MerchantHandler) CloseQR(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	if err := h.qr.Reset(e.Request.Context(), sess); err != nil {
		return portalErrors.Respond(err)
	}
	return e.NoContent(http.StatusNoContent)
}

func (h *MerchantHandler) QRHistory(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	limit := cast.ToInt(e.Request.URL.Query().Get("limit"))
	entries, err := h.history.History(e.Request.Context(), sess.MerchantCode, limit)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"items": entries})
}

func (h *MerchantHandler) StartCashout(e *core.RequestEvent) error {
	return h.cashoutStep(e, h.cashout.Start)
}

func (h *MerchantHandler) CurrentCashout(e *core.RequestEvent) error {
	return h.cashoutStep(e, h.cashout.Current)
}

func (h *MerchantHandler) InquireCashout(e *core.RequestEvent) error {
	return h.cashoutStep(e, h.cashout.Inquire)
}

func (h *MerchantHandler) cashoutStep(e *core.RequestEvent, step func(context.Context, *models.Session) (*models.CashoutFlow, error)) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	flow, err := step(e.Request.Context(), sess)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, flow)
}

func (h *MerchantHandler) CashoutServices(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	list, err := h.cashout.Services(e.Request.Context(), sess, e.Request.URL.Query().Get("bank_code"))
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"items": list})
}

func (h *MerchantHandler) ReviewCashout(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	var sel models.CashoutSelection
	if err := e.BindBody(&sel); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	flow, err := h.cashout.Review(e.Request.Context(), sess, sel)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, flow)
}

func (h *MerchantHandler) PayCashout(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	flow, err := h.cashout.Pay(e.Request.Context(), sess, req.Password)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, flow)
}

func (h *MerchantHandler) ResetCashout(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	if err := h.cashout.Reset(e.Request.Context(), sess); err != nil {
		return portalErrors.Respond(err)
	}
	return e.NoContent(http.StatusNoContent)
}
