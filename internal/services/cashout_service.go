package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"emoney-portal/internal/platform"
	"emoney-portal/internal/status"
	"emoney-portal/models"
	"emoney-portal/monitoring"
	"emoney-portal/utils"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	cashoutKeyPrefix = "cashout:"
	cashoutTTL       = 15 * time.Minute

	// cashoutClaimTTL outlives the platform timeout so a claim is never lost mid-call.
	cashoutClaimTTL = 45 * time.Second
)

func cashoutKey(sessionID string) string {
	return cashoutKeyPrefix + sessionID
}

func cashoutClaimKey(sessionID string) string {
	return cashoutKeyPrefix + "claim:" + sessionID
}

var accountDigits = regexp.MustCompile(`^[0-9]+$`)

// CashoutService drives the cashout pipeline: profile and bank selection,
// review, inquiry, then the password gated payment. It never rolls back.
type CashoutService struct {
	redis   *redis.Client
	api     PlatformAPI
	profile *ProfileService
	audit   AuditRecorder
	newRef  func() (string, error)
}

func NewCashoutService(redisClient *redis.Client, api PlatformAPI, profile *ProfileService, audit AuditRecorder) *CashoutService {
	return &CashoutService{
		redis:   redisClient,
		api:     api,
		profile: profile,
		audit:   audit,
		newRef:  func() (string, error) { return utils.GenerateReference("CO") },
	}
}

// Start loads the profile and destination banks and opens a fresh flow.
func (s *CashoutService) Start(ctx context.Context, sess *models.Session) (*models.CashoutFlow, error) {
	profile, err := s.profile.Profile(ctx, sess)
	if err != nil {
		return nil, err
	}

	var banks []models.Bank
	if err := s.api.Get(ctx, platform.CallerFor(sess), platform.PathCashoutBanks, nil, &banks); err != nil {
		return nil, fmt.Errorf("load banks: %w", err)
	}

	flow := &models.CashoutFlow{Stage: models.StageSelecting, Profile: profile, Banks: banks}
	if err := s.save(ctx, sess.ID, flow); err != nil {
		return nil, err
	}
	monitoring.TrackCashoutStep("start", "success")
	return flow, nil
}

func (s *CashoutService) Current(ctx context.Context, sess *models.Session) (*models.CashoutFlow, error) {
	return s.load(ctx, sess.ID)
}

// Services lists the transfer options and fees for a destination bank.
func (s *CashoutService) Services(ctx context.Context, sess *models.Session, bankCode string) ([]models.TransferService, error) {
	if err := validation.Validate(bankCode, validation.Required); err != nil {
		return nil, validation.Errors{"bank_code": err}
	}
	if _, err := s.load(ctx, sess.ID); err != nil {
		return nil, err
	}

	var services []models.TransferService
	query := url.Values{"bankCode": {bankCode}}
	if err := s.api.Get(ctx, platform.CallerFor(sess), platform.PathCashoutServices, query, &services); err != nil {
		return nil, fmt.Errorf("load transfer services: %w", err)
	}
	return services, nil
}

func validateSelection(sel models.CashoutSelection, flow *models.CashoutFlow) error {
	err := validation.ValidateStruct(&sel,
		validation.Field(&sel.BankCode, validation.Required, validation.By(func(any) error {
			for _, b := range flow.Banks {
				if b.Code == sel.BankCode {
					return nil
				}
			}
			return validation.NewError("validation_bank_unknown", "unknown bank")
		})),
		validation.Field(&sel.ServiceCode, validation.Required, validation.Length(1, 50)),
		validation.Field(&sel.AccountNumber, validation.Required, validation.Length(6, 20), validation.Match(accountDigits).Error("must contain digits only")),
		validation.Field(&sel.Amount, validation.By(func(any) error {
			if !sel.Amount.IsPositive() {
				return validation.NewError("validation_amount_positive", "must be greater than zero")
			}
			return nil
		})),
		validation.Field(&sel.Remark, validation.Length(0, 100)),
	)
	if err != nil {
		return err
	}
	if flow.Profile != nil && sel.Amount.GreaterThan(flow.Profile.Balance) {
		return status.ErrInsufficientBalance
	}
	return nil
}

// Review validates the selection and opens the review modal.
func (s *CashoutService) Review(ctx context.Context, sess *models.Session, sel models.CashoutSelection) (*models.CashoutFlow, error) {
	flow, err := s.load(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if flow.Stage != models.StageSelecting && flow.Stage != models.StageReviewing {
		return nil, status.ErrCashoutStage
	}
	if err := validateSelection(sel, flow); err != nil {
		monitoring.TrackCashoutStep("review", "invalid")
		return nil, err
	}

	flow.Selection = &sel
	flow.Inquiry = nil
	flow.Stage = models.StageReviewing
	if err := s.save(ctx, sess.ID, flow); err != nil {
		return nil, err
	}
	monitoring.TrackCashoutStep("review", "success")
	return flow, nil
}

type inquiryRequest struct {
	BankCode      string          `json:"bankCode"`
	ServiceCode   string          `json:"serviceCode"`
	AccountNumber string          `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"`
	Remark        string          `json:"remark,omitempty"`
}

// Inquire validates the destination with the platform. On failure the flow
// stays in review and the password step is never reached.
func (s *CashoutService) Inquire(ctx context.Context, sess *models.Session) (*models.CashoutFlow, error) {
	release, err := s.claim(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	flow, err := s.load(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if flow.Stage != models.StageReviewing || flow.Selection == nil {
		return nil, status.ErrCashoutStage
	}

	sel := flow.Selection
	req := inquiryRequest{
		BankCode:      sel.BankCode,
		ServiceCode:   sel.ServiceCode,
		AccountNumber: sel.AccountNumber,
		Amount:        sel.Amount,
		Remark:        sel.Remark,
	}
	var inquiry models.CashoutInquiry
	if err := s.api.Post(ctx, platform.CallerFor(sess), platform.PathCashoutInquiry, req, &inquiry); err != nil {
		monitoring.TrackCashoutStep("inquiry", "failure")
		return nil, fmt.Errorf("cashout inquiry: %w", err)
	}

	flow.Inquiry = &inquiry
	flow.Stage = models.StagePassword
	if err := s.save(ctx, sess.ID, flow); err != nil {
		return nil, err
	}
	monitoring.TrackCashoutStep("inquiry", "success")
	return flow, nil
}

type paymentRequest struct {
	InquiryID       string `json:"inquiryId"`
	Password        string `json:"password"`
	ClientReference string `json:"clientReference"`
}

// Pay confirms the inquiry with the merchant password. A failure keeps the
// flow at the password step so the merchant is prompted again. Only one
// payment can be in flight per session, and a completed flow is never paid again.
func (s *CashoutService) Pay(ctx context.Context, sess *models.Session, password string) (*models.CashoutFlow, error) {
	release, err := s.claim(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	flow, err := s.load(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if flow.Stage != models.StagePassword || flow.Inquiry == nil {
		return nil, status.ErrInquiryRequired
	}
	if err := validation.Validate(password, validation.Required, validation.Length(4, 64)); err != nil {
		return nil, validation.Errors{"password": err}
	}

	ref, err := s.newRef()
	if err != nil {
		return nil, fmt.Errorf("cashout reference: %w", err)
	}

	var result models.CashoutPayment
	req := paymentRequest{InquiryID: flow.Inquiry.InquiryID, Password: password, ClientReference: ref}
	if err := s.api.Post(ctx, platform.CallerFor(sess), platform.PathCashoutPayment, req, &result); err != nil {
		monitoring.TrackCashoutStep("payment", "failure")
		return nil, fmt.Errorf("cashout payment: %w", err)
	}

	flow.Result = &result
	flow.Stage = models.StageCompleted
	if err := s.save(ctx, sess.ID, flow); err != nil {
		return nil, err
	}
	monitoring.TrackCashoutStep("payment", "success")

	if s.audit != nil {
		if err := s.audit.RecordCashout(ctx, sess.MerchantCode, flow); err != nil {
			slog.Error("RecordCashout()", "error", err, "merchant_code", sess.MerchantCode)
		}
	}
	slog.Info("cashout completed", "merchant_code", sess.MerchantCode, "reference_number", result.ReferenceNumber)
	return flow, nil
}

func (s *CashoutService) Reset(ctx context.Context, sess *models.Session) error {
	if err := s.redis.Del(ctx, cashoutKey(sess.ID)).Err(); err != nil {
		return fmt.Errorf("reset cashout: %w", err)
	}
	return nil
}

// claim marks a platform step of the session as in flight. A second step
// arriving before release is refused with ErrCashoutInProgress.
func (s *CashoutService) claim(ctx context.Context, sessionID string) (func(), error) {
	ok, err := s.redis.SetNX(ctx, cashoutClaimKey(sessionID), "1", cashoutClaimTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim cashout: %w", err)
	}
	if !ok {
		monitoring.TrackCashoutStep("claim", "rejected")
		return nil, status.ErrCashoutInProgress
	}
	return func() {
		if err := s.redis.Del(context.WithoutCancel(ctx), cashoutClaimKey(sessionID)).Err(); err != nil {
			slog.Error("release cashout claim", "error", err, "session_id", sessionID)
		}
	}, nil
}

func (s *CashoutService) load(ctx context.Context, sessionID string) (*models.CashoutFlow, error) {
	data, err := s.redis.Get(ctx, cashoutKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, status.ErrCashoutNotStarted
	}
	if err != nil {
		return nil, fmt.Errorf("load cashout: %w", err)
	}
	var flow models.CashoutFlow
	if err := json.Unmarshal([]byte(data), &flow); err != nil {
		return nil, fmt.Errorf("decode cashout: %w", err)
	}
	return &flow, nil
}

func (s *CashoutService) save(ctx context.Context, sessionID string, flow *models.CashoutFlow) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, cashoutKey(sessionID), string(data), cashoutTTL).Err(); err != nil {
		return fmt.Errorf("save cashout: %w", err)
	}
	return nil
}
