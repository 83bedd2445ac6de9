package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"emoney-portal/config"
	"emoney-portal/internal/platform"
	"emoney-portal/internal/status"
	"emoney-portal/models"
	"emoney-portal/monitoring"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

const (
	qrKeyPrefix = "qr:session:"

	// pendingTTL bounds the reservation held while the generate call is in flight.
	pendingTTL = 30 * time.Second
)

func qrKey(merchantCode string) string {
	return qrKeyPrefix + merchantCode
}

func merchantChannel(merchantCode string) string {
	return "merchant-" + merchantCode
}

type SessionGetter interface {
	Get(ctx context.Context, id string) (*models.Session, error)
}

// Publisher pushes realtime notifications to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg any) error
}

type AuditRecorder interface {
	RecordQR(ctx context.Context, qr *models.QRSession) error
	RecordCashout(ctx context.Context, merchantCode string, flow *models.CashoutFlow) error
}

// DialogError is a generate rejection whose server text goes into an error dialog.
type DialogError struct {
	Code    string
	Message string
}

func (e *DialogError) Error() string {
	return fmt.Sprintf("qr: %s: %s", e.Code, e.Message)
}

func (e *DialogError) Unwrap() error {
	return status.ErrQRDialog
}

// QRView is the modal state returned to the merchant screen.
type QRView struct {
	View      models.View       `json:"view"`
	Session   *models.QRSession `json:"session,omitempty"`
	Remaining int               `json:"remaining_seconds"`
}

type QRService struct {
	redis    *redis.Client
	api      PlatformAPI
	sessions SessionGetter
	notifier Publisher
	audit    AuditRecorder
	clock    Clock

	maxAmount   decimal.Decimal
	dialogCodes []string
	retention   time.Duration

	countdowns *Countdowns

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewQRService(redisClient *redis.Client, api PlatformAPI, sessions SessionGetter, notifier Publisher, audit AuditRecorder, cfg *config.Config, clock Clock) *QRService {
	if clock == nil {
		clock = realClock{}
	}
	s := &QRService{
		redis:       redisClient,
		api:         api,
		sessions:    sessions,
		notifier:    notifier,
		audit:       audit,
		clock:       clock,
		maxAmount:   cfg.QRMaxAmount,
		dialogCodes: cfg.QRDialogErrorCodes,
		retention:   cfg.QRStatusRetention,
		locks:       make(map[string]*sync.Mutex),
	}
	s.countdowns = NewCountdowns(clock, s.expire)
	return s
}

func (s *QRService) Countdowns() *Countdowns {
	return s.countdowns
}

// Close stops every running countdown.
func (s *QRService) Close() {
	s.countdowns.StopAll()
}

var amountText = regexp.MustCompile(`^[0-9][0-9,]*$`)

// ParseAmount accepts a positive whole amount, thousands separators allowed.
// Amounts above max are clamped to max.
func ParseAmount(raw string, max decimal.Decimal) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if err := validation.Validate(raw, validation.Required, validation.Length(1, 24), validation.Match(amountText)); err != nil {
		return decimal.Zero, status.ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, status.ErrInvalidAmount
	}
	if amount.GreaterThan(max) {
		return max, nil
	}
	return amount, nil
}

type generateRequest struct {
	MerchantCode string          `json:"merchantCode"`
	Amount       decimal.Decimal `json:"amount"`
}

type generateResult struct {
	QRString       string `json:"qrString"`
	ValidityPeriod any    `json:"validityPeriod"`
}

// expiry reads validityPeriod as epoch milliseconds, or as a timestamp string.
func (r generateResult) expiry() (time.Time, error) {
	if ms, err := cast.ToInt64E(r.ValidityPeriod); err == nil && ms > 0 {
		return time.UnixMilli(ms), nil
	}
	if s, ok := r.ValidityPeriod.(string); ok {
		if t, err := cast.ToTimeE(s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid validity period %v", r.ValidityPeriod)
}

type statusRequest struct {
	QRString     string          `json:"qrString"`
	MerchantCode string          `json:"merchantCode"`
	Amount       decimal.Decimal `json:"amount"`
}

type updateRequest struct {
	QRString     string `json:"qrString"`
	MerchantCode string `json:"merchantCode"`
}

// Generate creates a dynamic QR for the session's merchant. Only one QR
// session may be outstanding per merchant.
func (s *QRService) Generate(ctx context.Context, sess *models.Session, rawAmount string) (*QRView, error) {
	code := sess.MerchantCode
	if code == "" {
		return nil, status.ErrNotMerchant
	}
	amount, err := ParseAmount(rawAmount, s.maxAmount)
	if err != nil {
		monitoring.TrackQROperation("generate", "invalid")
		return nil, err
	}

	now := s.clock.Now()
	qr := &models.QRSession{
		SessionID:    sess.ID,
		MerchantCode: code,
		Amount:       amount,
		View:         models.ViewNone,
		CreatedAt:    now.UTC(),
	}
	data, err := json.Marshal(qr)
	if err != nil {
		return nil, err
	}
	reserved, err := s.redis.SetNX(ctx, qrKey(code), string(data), pendingTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve qr session: %w", err)
	}
	if !reserved {
		monitoring.TrackQROperation("generate", "rejected")
		return nil, status.ErrQRSessionOpen
	}

	var res generateResult
	err = s.api.Post(ctx, platform.CallerFor(sess), platform.PathQRDynamic, generateRequest{MerchantCode: code, Amount: amount}, &res)
	if err == nil {
		qr.ValidityPeriod, err = res.expiry()
	}
	if err != nil {
		s.redis.Del(ctx, qrKey(code))
		monitoring.TrackQROperation("generate", "failure")
		return nil, s.classify(err)
	}

	qr.QRString = res.QRString
	qr.ValidityPeriod = qr.ValidityPeriod.UTC()
	qr.View = models.ViewQR
	if err := s.save(ctx, qr, s.ttlFor(qr.ValidityPeriod, now)); err != nil {
		slog.Error("generated qr not stored", "error", err, "merchant_code", code, "qr_string", qr.QRString)
		s.redis.Del(context.WithoutCancel(ctx), qrKey(code))
		monitoring.TrackQROperation("generate", "failure")
		return nil, err
	}

	s.countdowns.Start(context.WithoutCancel(ctx), code, qr.ValidityPeriod)
	monitoring.TrackQROperation("generate", "success")
	s.publish(ctx, "qr_generated", qr)

	slog.Info("qr generated", "merchant_code", code, "amount", amount.String(), "validity_period", qr.ValidityPeriod)
	return s.view(qr), nil
}

func (s *QRService) classify(err error) error {
	var apiErr *platform.APIError
	if errors.As(err, &apiErr) && apiErr.HasCode(s.dialogCodes...) {
		return &DialogError{Code: apiErr.Code, Message: apiErr.Message}
	}
	return fmt.Errorf("generate qr: %w", err)
}

// Current returns the open QR session of the merchant.
func (s *QRService) Current(ctx context.Context, sess *models.Session) (*QRView, error) {
	if sess.MerchantCode == "" {
		return nil, status.ErrNotMerchant
	}
	qr, err := s.load(ctx, sess.MerchantCode)
	if err != nil {
		return nil, err
	}
	return s.view(qr), nil
}

// CheckStatus polls the payment status and switches the merchant to the status view.
func (s *QRService) CheckStatus(ctx context.Context, sess *models.Session) (*QRView, error) {
	if sess.MerchantCode == "" {
		return nil, status.ErrNotMerchant
	}
	return s.checkStatus(ctx, platform.CallerFor(sess), sess.MerchantCode)
}

func (s *QRService) checkStatus(ctx context.Context, caller platform.Caller, code string) (*QRView, error) {
	unlock := s.lock(code)
	defer unlock()

	qr, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if qr.QRString == "" {
		return nil, status.ErrQRSessionNotFound
	}

	// A terminal result is final for the session.
	if qr.Status.IsTerminal() {
		if qr.View != models.ViewStatus {
			qr.View = models.ViewStatus
			if err := s.saveKeepTTL(ctx, qr); err != nil {
				return nil, err
			}
		}
		return s.view(qr), nil
	}

	var ps models.PaymentStatus
	req := statusRequest{QRString: qr.QRString, MerchantCode: code, Amount: qr.Amount}
	if err := s.api.Post(ctx, caller, platform.PathQRStatus, req, &ps); err != nil {
		monitoring.TrackQROperation("check_status", "failure")
		return nil, fmt.Errorf("check qr status: %w", err)
	}
	monitoring.TrackQROperation("check_status", "success")

	return s.applyStatus(ctx, qr, &ps)
}

func (s *QRService) applyStatus(ctx context.Context, qr *models.QRSession, ps *models.PaymentStatus) (*QRView, error) {
	qr.Status = ps
	qr.View = models.ViewStatus
	if err := s.saveKeepTTL(ctx, qr); err != nil {
		return nil, err
	}

	if ps.IsTerminal() {
		s.countdowns.Stop(qr.MerchantCode)
		if s.audit != nil {
			if err := s.audit.RecordQR(ctx, qr); err != nil {
				slog.Error("RecordQR()", "error", err, "merchant_code", qr.MerchantCode)
			}
		}
	}
	s.publish(ctx, "qr_status", qr)
	return s.view(qr), nil
}

// StatusAction is the status modal's primary action: OPEN goes back to the QR
// view of the same session, anything else closes the session.
func (s *QRService) StatusAction(ctx context.Context, sess *models.Session) (*QRView, error) {
	code := sess.MerchantCode
	if code == "" {
		return nil, status.ErrNotMerchant
	}

	unlock := s.lock(code)
	qr, err := s.load(ctx, code)
	if err != nil {
		unlock()
		return nil, err
	}
	if qr.Status.IsOpen() {
		qr.View = models.ViewQR
		err := s.saveKeepTTL(ctx, qr)
		unlock()
		if err != nil {
			return nil, err
		}
		s.publish(ctx, "qr_resumed", qr)
		return s.view(qr), nil
	}
	unlock()

	if err := s.reset(ctx, code); err != nil {
		return nil, err
	}
	return &QRView{View: models.ViewNone}, nil
}

// Reset discards the QR session and stops its countdown.
func (s *QRService) Reset(ctx context.Context, sess *models.Session) error {
	if sess.MerchantCode == "" {
		return status.ErrNotMerchant
	}
	return s.reset(ctx, sess.MerchantCode)
}

func (s *QRService) reset(ctx context.Context, code string) error {
	unlock := s.lock(code)
	defer unlock()

	s.countdowns.Stop(code)
	if err := s.redis.Del(ctx, qrKey(code)).Err(); err != nil {
		return fmt.Errorf("reset qr session: %w", err)
	}
	monitoring.TrackQROperation("reset", "success")
	s.publish(ctx, "qr_closed", &models.QRSession{MerchantCode: code, View: models.ViewNone})
	return nil
}

// expire runs when a countdown reaches zero: one automatic status update,
// then a status check.
func (s *QRService) expire(ctx context.Context, code string) {
	unlock := s.lock(code)
	qr, err := s.load(ctx, code)
	if err != nil {
		unlock()
		slog.Warn("expired qr session is gone", "merchant_code", code, "error", err)
		return
	}
	if qr.AutoUpdated || qr.Status.IsTerminal() || qr.QRString == "" {
		unlock()
		return
	}
	qr.AutoUpdated = true
	err = s.saveKeepTTL(ctx, qr)
	unlock()
	if err != nil {
		slog.Error("saveKeepTTL()", "error", err, "merchant_code", code)
		return
	}

	sess, err := s.sessions.Get(ctx, qr.SessionID)
	if err != nil {
		slog.Warn("portal session gone, closing qr session", "merchant_code", code, "error", err)
		if err := s.reset(ctx, code); err != nil {
			slog.Error("reset()", "error", err, "merchant_code", code)
		}
		return
	}
	caller := platform.CallerFor(sess)

	req := updateRequest{QRString: qr.QRString, MerchantCode: code}
	if err := s.api.Post(ctx, caller, platform.PathQRStatusUpdate, req, nil); err != nil {
		monitoring.TrackQROperation("auto_update", "failure")
		slog.Error("QRStatusUpdate()", "error", err, "merchant_code", code)
	} else {
		monitoring.TrackQROperation("auto_update", "success")
	}

	if _, err := s.checkStatus(ctx, caller, code); err != nil {
		slog.Error("checkStatus()", "error", err, "merchant_code", code)
	}
}

// PaymentNotice is a payment notification pushed by the platform.
type PaymentNotice struct {
	MerchantCode    string          `json:"merchantCode"`
	Status          string          `json:"status"`
	PAN             string          `json:"pan"`
	IssuerName      string          `json:"issuerName"`
	ReferenceNumber string          `json:"referenceNumber"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionTime string          `json:"transactionTime"`
}

// ApplyNotification updates an open QR session from a pushed payment notice.
func (s *QRService) ApplyNotification(ctx context.Context, n PaymentNotice) error {
	if n.MerchantCode == "" || n.Status == "" {
		return nil
	}
	unlock := s.lock(n.MerchantCode)
	defer unlock()

	qr, err := s.load(ctx, n.MerchantCode)
	if errors.Is(err, status.ErrQRSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if qr.QRString == "" || qr.Status.IsTerminal() {
		return nil
	}
	if !n.Amount.IsZero() && !n.Amount.Equal(qr.Amount) {
		slog.Warn("payment notice amount mismatch", "merchant_code", n.MerchantCode, "expected", qr.Amount.String(), "got", n.Amount.String())
		return nil
	}

	monitoring.TrackQROperation("notification", "applied")
	_, err = s.applyStatus(ctx, qr, &models.PaymentStatus{
		Status:          n.Status,
		PAN:             n.PAN,
		IssuerName:      n.IssuerName,
		ReferenceNumber: n.ReferenceNumber,
		Amount:          n.Amount,
		TransactionTime: n.TransactionTime,
	})
	return err
}

// OpenSessions returns every stored QR session.
func (s *QRService) OpenSessions(ctx context.Context) ([]*models.QRSession, error) {
	var (
		cursor   uint64
		sessions []*models.QRSession
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, qrKeyPrefix+"*", 100).Result()
		if err != nil {
			return sessions, fmt.Errorf("scan qr sessions: %w", err)
		}
		for _, key := range keys {
			qr, err := s.load(ctx, strings.TrimPrefix(key, qrKeyPrefix))
			if err != nil {
				slog.Warn("skip qr session", "key", key, "error", err)
				continue
			}
			sessions = append(sessions, qr)
		}
		cursor = next
		if cursor == 0 {
			return sessions, nil
		}
	}
}

// Restore re-arms countdowns for QR sessions still showing a QR after a restart.
func (s *QRService) Restore(ctx context.Context) (int, error) {
	sessions, err := s.OpenSessions(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, qr := range sessions {
		if qr.View != models.ViewQR || qr.AutoUpdated || qr.Status.IsTerminal() {
			continue
		}
		s.countdowns.Start(ctx, qr.MerchantCode, qr.ValidityPeriod)
		restored++
	}
	return restored, nil
}

// Inspect returns the QR session of any merchant.
func (s *QRService) Inspect(ctx context.Context, merchantCode string) (*QRView, error) {
	qr, err := s.load(ctx, merchantCode)
	if err != nil {
		return nil, err
	}
	return s.view(qr), nil
}

// ForceClose discards a merchant's QR session on behalf of an operator.
func (s *QRService) ForceClose(ctx context.Context, merchantCode, reason string) error {
	if _, err := s.load(ctx, merchantCode); err != nil {
		return err
	}
	slog.Info("qr session force closed", "merchant_code", merchantCode, "reason", reason)
	return s.reset(ctx, merchantCode)
}

func (s *QRService) view(qr *models.QRSession) *QRView {
	v := &QRView{View: qr.View, Session: qr}
	if qr.View == models.ViewQR {
		v.Remaining = RemainingSeconds(qr.ValidityPeriod, s.clock.Now())
	}
	return v
}

func (s *QRService) ttlFor(expiry, now time.Time) time.Duration {
	ttl := expiry.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return (ttl + s.retention).Truncate(time.Second)
}

func (s *QRService) load(ctx context.Context, code string) (*models.QRSession, error) {
	data, err := s.redis.Get(ctx, qrKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, status.ErrQRSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load qr session: %w", err)
	}
	var qr models.QRSession
	if err := json.Unmarshal([]byte(data), &qr); err != nil {
		return nil, fmt.Errorf("decode qr session: %w", err)
	}
	return &qr, nil
}

func (s *QRService) save(ctx context.Context, qr *models.QRSession, ttl time.Duration) error {
	data, err := json.Marshal(qr)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, qrKey(qr.MerchantCode), string(data), ttl).Err(); err != nil {
		return fmt.Errorf("save qr session: %w", err)
	}
	return nil
}

func (s *QRService) saveKeepTTL(ctx context.Context, qr *models.QRSession) error {
	return s.save(ctx, qr, redis.KeepTTL)
}

func (s *QRService) publish(ctx context.Context, kind string, qr *models.QRSession) {
	if s.notifier == nil {
		return
	}
	msg := models.QRNotification{
		Type:         kind,
		MerchantCode: qr.MerchantCode,
		View:         qr.View,
		Status:       qr.Status,
		Timestamp:    s.clock.Now().UTC(),
	}
	if err := s.notifier.Publish(ctx, merchantChannel(qr.MerchantCode), msg); err != nil {
		slog.Error("Publish()", "error", err, "merchant_code", qr.MerchantCode, "type", kind)
	}
}

// lock serialises state changes of one merchant's QR session.
func (s *QRService) lock(code string) func() {
	s.mu.Lock()
	l, ok := s.locks[code]
	if !ok {
		l = &sync.Mutex{}
		s.locks[code] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}
