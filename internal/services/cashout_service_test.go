package services

import (
	"context"
	"encoding/json"
	"testing"

	"emoney-portal/internal/platform"
	"emoney-portal/internal/status"
	"emoney-portal/models"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type cashoutFixture struct {
	svc   *CashoutService
	redis redismock.ClientMock
	api   *MockPlatform
	audit *MockAudit
}

func newCashoutFixture(t *testing.T) *cashoutFixture {
	t.Helper()
	db, rmock := redismock.NewClientMock()
	api := new(MockPlatform)
	audit := new(MockAudit)
	svc := NewCashoutService(db, api, NewProfileService(api), audit)
	svc.newRef = func() (string, error) { return "CO000000000001", nil }
	return &cashoutFixture{
		svc:   svc,
		redis: rmock,
		api:   api,
		audit: audit,
	}
}

func (f *cashoutFixture) expectClaim() {
	f.redis.ExpectSetNX("cashout:claim:sess-1", "1", cashoutClaimTTL).SetVal(true)
}

func (f *cashoutFixture) expectRelease() {
	f.redis.ExpectDel("cashout:claim:sess-1").SetVal(1)
}

func flowJSON(t *testing.T, flow *models.CashoutFlow) string {
	t.Helper()
	data, err := json.Marshal(flow)
	require.NoError(t, err)
	return string(data)
}

func selectingFlow() *models.CashoutFlow {
	return &models.CashoutFlow{
		Stage:   models.StageSelecting,
		Profile: &models.MerchantProfile{MerchantCode: "M001", AccountNumber: "0201000001", Balance: decimal.NewFromInt(100_000)},
		Banks:   []models.Bank{{Code: "BCEL", Name: "BCEL"}, {Code: "JDB", Name: "JDB"}},
	}
}

func validSelection() models.CashoutSelection {
	return models.CashoutSelection{BankCode: "BCEL", ServiceCode: "FAST", AccountNumber: "0101123456", Amount: decimal.NewFromInt(50_000)}
}

func reviewingFlow() *models.CashoutFlow {
	flow := selectingFlow()
	sel := validSelection()
	flow.Selection = &sel
	flow.Stage = models.StageReviewing
	return flow
}

func passwordFlow() *models.CashoutFlow {
	flow := reviewingFlow()
	flow.Inquiry = &models.CashoutInquiry{InquiryID: "INQ-1", DestinationAccountName: "SOMSAK", Amount: decimal.NewFromInt(50_000), Fee: decimal.NewFromInt(2_000), Total: decimal.NewFromInt(52_000)}
	flow.Stage = models.StagePassword
	return flow
}

func TestCashoutStart_LoadsProfileAndBanks(t *testing.T) {
	f := newCashoutFixture(t)
	f.api.On("Get", mock.Anything, mock.Anything, platform.PathMerchantProfile, mock.Anything, mock.Anything).
		Run(respond(`{"merchantCode":"M001","accountNumber":"0201000001","balance":"100000"}`)).Return(nil)
	f.api.On("Get", mock.Anything, mock.Anything, platform.PathCashoutBanks, mock.Anything, mock.Anything).
		Run(respond(`[{"code":"BCEL","name":"BCEL"},{"code":"JDB","name":"JDB"}]`)).Return(nil)
	f.redis.ExpectSet("cashout:sess-1", flowJSON(t, selectingFlow()), cashoutTTL).SetVal("OK")

	flow, err := f.svc.Start(context.Background(), merchantSession)

	require.NoError(t, err)
	assert.Equal(t, models.StageSelecting, flow.Stage)
	assert.Len(t, flow.Banks, 2)
	assert.Equal(t, "100000", flow.Profile.Balance.String())
	assert.NoError(t, f.redis.ExpectationsWereMet())
}

func TestCashoutReview_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.CashoutSelection)
		isErr  error
	}{
		{"unknown bank", func(s *models.CashoutSelection) { s.BankCode = "XYZ" }, nil},
		{"account with letters", func(s *models.CashoutSelection) { s.AccountNumber = "01AB123456" }, nil},
		{"short account", func(s *models.CashoutSelection) { s.AccountNumber = "123" }, nil},
		{"missing service", func(s *models.CashoutSelection) { s.ServiceCode = "" }, nil},
		{"zero amount", func(s *models.CashoutSelection) { s.Amount = decimal.Zero }, nil},
		{"above balance", func(s *models.CashoutSelection) { s.Amount = decimal.NewFromInt(100_001) }, status.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCashoutFixture(t)
			f.redis.ExpectGet("cashout:sess-1").SetVal(flowJSON(t, selectingFlow()))
			sel := validSelection()
			tt.mutate(&sel)

			_, err := f.svc.Review(context.Background(), merchantSession, sel)

			require.Error(t, err)
			if tt.isErr != nil {
				assert.ErrorIs(t, err, tt.isErr)
			}
			assert.NoError(t, f.redis.ExpectationsWereMet())
		})
	}
}

func TestCashoutReview_MovesToReviewing(t *testing.T) {
	f := newCashoutFixture(t)
	f.redis.ExpectGet("cashout:sess-1").SetVal(flowJSON(t, selectingFlow()))
	f.redis.ExpectSet("cashout:sess-1", flowJSON(t, reviewingFlow()), cashoutTTL).SetVal("OK")

	flow, err := f.svc.Review(context.Background(), merchantSession, validSelection())

	require.NoError(t, err)
	assert.Equal(t, models.StageReviewing, flow.Stage)
	assert.NoError(t, f.redis.ExpectationsWereMet())
}

func TestCashoutInquiry_FailureNeverOpensPasswordStep(t *testing.T) {
	f := newCashoutFixture(t)
	f.expectClaim()
	f.redis.ExpectGet("cashout:sess-1").SetVal(flowJSON(t, reviewingFlow()))
	f.expectRelease()
	apiErr := &platform.APIError{StatusCode: 400, Code: "ACCOUNT_NOT_FOUND", Message: "Destination account not found"}
	f.api.On("Post", mock.Anything, mock.Anything, platform.PathCashoutInquiry, mock.Anything, mock.Anything).Return(apiErr)

	_, err := f.svc.Inquire(context.Background(), merchantSession)
	require.ErrorIs(t, err, apiErr)

	// The stored flow is still under review, so payment is refused.
	f.expectClaim()
	f.redis.ExpectGet("cashout:sess-1").SetVal(flowJSON(t, reviewingFlow()))
	f.expectRelease()
	_, err = f.svc.Pay(context.Background(), merchantSession, "secret")

	assert.ErrorIs(t, err, status.ErrInquiryRequired)
	assert.NoError(t, f.redis.ExpectationsWereMet())
	f.api.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, platform.PathCashoutPayment, mock.Anything, mock.Anything)
}

func TestCashoutInquiry_OpensPasswordStep(t *testing.T) {
	f := newCashoutFixture(t)
	f.expectClaim()
	f.redis.ExpectGet("cashout:sess-1").SetVal(flowJSON(t, reviewingFlow()))
	f.api.On("Post", mock.Anything, mock.Anything, platform.PathCashoutInquiry,
		inquiryRequest{BankCode: "BCEL", ServiceCode: "FAST", AccountNumber: "0101123456", Amount: decimal.NewFromInt(50_000)}, mock.Anything).
		Run(respond(`{"inquiryId":"INQ-1","destinationAccountName":"SOMSAK","amount":"50000","fee":"2000","total":"52000"}`)).
		Return(nil)
	f.redis.ExpectSet("cashout:sess-1", flowJSON(t, passwordFlow()), cashoutTTL).SetVal("OK")
	f.expectRelease()

	flow, err := f.svc.Inquire(context.Background(), merchantSession)

	require.NoError(t, err)
	assert.Equal(t, models.StagePassword, flow.Stage)
	assert.Equal(t, "SOMSAK", flow.Inquiry.DestinationAccountName)
	assert.NoError(t, f.redis.ExpectationsWereMet())
}

func TestCashoutPay_FailureKeepsPasswordStep(t *testing.T) {
	f := newCashoutFixture(t)
	f.expectClaim()
	f.redis.ExpectGet("cashout:sess-1").SetVal(flowJSON(t, passwordFlow()))
	f.expectRelease()
	apiErr := &platform.APIError{StatusCode: 400, Code: "INVALID_PASSWORD", Message: "Wrong password"}
	f.api.On("Post", mock.Anything, mock.Anything, platform.PathCashoutPayment, paymentRequest{InquiryID: "INQ-1", Password: "wrong", ClientReference: "CO000000000001"}, mock.Anything).Return(apiErr)

	_, err := f.svc.Pay(context.Background(), merchantSession, "wrong")

	assert.ErrorIs(t, err, apiErr)
	assert.NoError(t, f.redis.ExpectationsWereMet())
	f.audit.AssertNotCalled(t, "RecordCashout", mock.Anything, mock.Anything)
}

func TestCashoutPay_Completes(t *testing.T) {
	f := newCashoutFixture(t)
	f.expectClaim()
	f.redis.ExpectGet("cashout:sess-1").SetVal(flowJSON(t, passwordFlow()))
	f.api.On("Post", mock.Anything, mock.Anything, platform.PathCashoutPayment, paymentRequest{InquiryID: "INQ-1", Password: "secret", ClientReference: "CO000000000001"}, mock.Anything).
		Run(respond(`{"referenceNumber":"CO-778","status":"SUCCESS","amount":"50000","fee":"2000"}`)).
		Return(nil)
	done := passwordFlow()
	done.Stage = models.StageCompleted
	done.Result = &models.CashoutPayment{ReferenceNumber: "CO-778", Status: "SUCCESS", Amount: decimal.NewFromInt(50_000), Fee: decimal.NewFromInt(2_000)}
	f.redis.ExpectSet("cashout:sess-1", flowJSON(t, done), cashoutTTL).SetVal("OK")
	f.expectRelease()
	f.audit.On("RecordCashout", "M001", mock.MatchedBy(func(flow *models.CashoutFlow) bool {
		return flow.Result.ReferenceNumber == "CO-778"
	})).Return(nil)

	flow, err := f.svc.Pay(context.Background(), merchantSession, "secret")

	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, flow.Stage)
	assert.Equal(t, "CO-778", flow.Result.ReferenceNumber)
	assert.NoError(t, f.redis.ExpectationsWereMet())
	f.audit.AssertExpectations(t)
}

func TestCashout_StageGuards(t *testing.T) {
	f := newCashoutFixture(t)

	f.expectClaim()
	f.redis.ExpectGet("cashout:sess-1").RedisNil()
	f.expectRelease()
	_, err := f.svc.Inquire(context.Background(), merchantSession)
	assert.ErrorIs(t, err, status.ErrCashoutNotStarted)

	f.expectClaim()
	f.redis.ExpectGet("cashout:sess-1").SetVal(flowJSON(t, selectingFlow()))
	f.expectRelease()
	_, err = f.svc.Inquire(context.Background(), merchantSession)
	assert.ErrorIs(t, err, status.ErrCashoutStage)

	completed := passwordFlow()
	completed.Stage = models.StageCompleted
	f.redis.ExpectGet("cashout:sess-1").SetVal(flowJSON(t, completed))
	_, err = f.svc.Review(context.Background(), merchantSession, validSelection())
	assert.ErrorIs(t, err, status.ErrCashoutStage)

	f.redis.ExpectDel("cashout:sess-1").SetVal(1)
	assert.NoError(t, f.svc.Reset(context.Background(), merchantSession))
	assert.NoError(t, f.redis.ExpectationsWereMet())
}

func TestCashoutPay_RefusedWhileStepInFlight(t *testing.T) {
	f := newCashoutFixture(t)
	f.redis.ExpectSetNX("cashout:claim:sess-1", "1", cashoutClaimTTL).SetVal(false)

	_, err := f.svc.Pay(context.Background(), merchantSession, "secret")

	assert.ErrorIs(t, err, status.ErrCashoutInProgress)
	assert.NoError(t, f.redis.ExpectationsWereMet())
	f.api.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, platform.PathCashoutPayment, mock.Anything, mock.Anything)
}

func TestCashoutPay_ConcurrentSubmitsChargeOnce(t *testing.T) {
	f := newCashoutFixture(t)
	f.redis.MatchExpectationsInOrder(false)
	f.expectClaim()
	f.redis.ExpectSetNX("cashout:claim:sess-1", "1", cashoutClaimTTL).SetVal(false)
	f.redis.ExpectGet("cashout:sess-1").SetVal(flowJSON(t, passwordFlow()))
	done := passwordFlow()
	done.Stage = models.StageCompleted
	done.Result = &models.CashoutPayment{ReferenceNumber: "CO-778", Status: "SUCCESS", Amount: decimal.NewFromInt(50_000), Fee: decimal.NewFromInt(2_000)}
	f.redis.ExpectSet("cashout:sess-1", flowJSON(t, done), cashoutTTL).SetVal("OK")
	f.expectRelease()

	entered := make(chan struct{})
	proceed := make(chan struct{})
	f.api.On("Post", mock.Anything, mock.Anything, platform.PathCashoutPayment, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(entered)
			<-proceed
			respond(`{"referenceNumber":"CO-778","status":"SUCCESS","amount":"50000","fee":"2000"}`)(args)
		}).
		Return(nil).Once()
	f.audit.On("RecordCashout", "M001", mock.Anything).Return(nil)

	first := make(chan error, 1)
	go func() {
		_, err := f.svc.Pay(context.Background(), merchantSession, "secret")
		first <- err
	}()

	<-entered
	_, err := f.svc.Pay(context.Background(), merchantSession, "secret")
	assert.ErrorIs(t, err, status.ErrCashoutInProgress)

	close(proceed)
	require.NoError(t, <-first)
	f.api.AssertNumberOfCalls(t, "Post", 1)
	assert.NoError(t, f.redis.ExpectationsWereMet())
}
