package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"emoney-portal/internal/status"
	"emoney-portal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithLocales(NewLocales([]string{"en", "lo", "th"}, "en"))}, opts...)
	return NewClient(srv.URL, 2*time.Second, opts...)
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func TestClient_GetUnwrapsResult(t *testing.T) {
	var got *http.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		writeJSON(w, http.StatusOK, `{"result":{"merchantCode":"M001","merchantName":"Shop"},"error":null,"errorData":null}`)
	})

	var out struct {
		MerchantCode string `json:"merchantCode"`
		MerchantName string `json:"merchantName"`
	}
	caller := Caller{SessionID: "s1", Token: "tok-123", Locale: "lo-LA"}
	err := client.Get(context.Background(), caller, PathMerchantProfile, url.Values{"a": {"1"}}, &out)

	require.NoError(t, err)
	assert.Equal(t, "M001", out.MerchantCode)
	assert.Equal(t, "Shop", out.MerchantName)
	require.NotNil(t, got)
	assert.Equal(t, "Bearer tok-123", got.Header.Get("Authorization"))
	assert.Equal(t, "lo", got.Header.Get("Accept-Language"))
	assert.NotEmpty(t, got.Header.Get("X-Request-ID"))
	assert.Equal(t, "1", got.URL.Query().Get("a"))
}

func TestClient_PostSendsJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "5000", body["amount"])
		writeJSON(w, http.StatusOK, `{"result":{"qrString":"000201"}}`)
	})

	var out struct {
		QRString string `json:"qrString"`
	}
	err := client.Post(context.Background(), Caller{Token: "t"}, PathQRDynamic, map[string]string{"amount": "5000"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "000201", out.QRString)
}

func TestClient_EnvelopeErrorUsesServerDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"result":null,"error":"MERCHANT_INACTIVE","errorData":{"message":"Merchant is inactive"}}`)
	})

	err := client.Post(context.Background(), Caller{}, PathQRDynamic, nil, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "MERCHANT_INACTIVE", apiErr.Code)
	assert.Equal(t, "Merchant is inactive", apiErr.Message)
	assert.True(t, apiErr.HasCode("merchant_inactive"))
}

func TestClient_ErrorWithoutDetailFallsBackToGenericMessage(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{"bad request with empty envelope", http.StatusBadRequest, `{"result":null}`},
		{"non json body", http.StatusBadRequest, `<html>oops</html>`},
		{"empty body", http.StatusConflict, ``},
		{"error object without message", http.StatusOK, `{"error":{"code":"E1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.code, tt.body)
			})

			err := client.Get(context.Background(), Caller{}, PathUser, nil, nil)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, GenericMessage, apiErr.Message)
			assert.Equal(t, tt.code, apiErr.StatusCode)
		})
	}
}

func TestClient_UnauthorizedRunsHook(t *testing.T) {
	var dropped []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"UNAUTHORIZED"}`)
	}, OnUnauthorized(func(ctx context.Context, caller Caller) {
		dropped = append(dropped, caller.SessionID)
	}))

	err := client.Get(context.Background(), Caller{SessionID: "sess-9", Token: "expired"}, PathUser, nil, nil)

	require.ErrorIs(t, err, status.ErrUnauthorized)
	assert.Equal(t, []string{"sess-9"}, dropped)
}

func TestClient_ConcurrentGetsShareOneRequest(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		writeJSON(w, http.StatusOK, `{"result":{"total":3}}`)
	})

	const callers = 5
	var wg sync.WaitGroup
	totals := make([]int, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out struct {
				Total int `json:"total"`
			}
			assert.NoError(t, client.Get(context.Background(), Caller{Token: "t"}, PathMerchant, nil, &out))
			totals[i] = out.Total
		}(i)
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, total := range totals {
		assert.Equal(t, 3, total)
	}
}

func TestClient_SharedGetOutlivesFirstCaller(t *testing.T) {
	var hits atomic.Int32
	var aborted atomic.Bool
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		aborted.Store(r.Context().Err() != nil)
		writeJSON(w, http.StatusOK, `{"result":{"total":7}}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		first <- client.Get(ctx, Caller{Token: "t"}, PathMerchant, nil, nil)
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan int, 1)
	go func() {
		var out struct {
			Total int `json:"total"`
		}
		assert.NoError(t, client.Get(context.Background(), Caller{Token: "t"}, PathMerchant, nil, &out))
		second <- out.Total
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	assert.Equal(t, 7, <-second)
	assert.Equal(t, int32(1), hits.Load())
	assert.False(t, aborted.Load())
}

func TestClient_ServerErrorsTripBreaker(t *testing.T) {
	var hits atomic.Int32
	breaker := utils.NewCircuitBreaker("test", utils.WithMinRequests(2), utils.WithFailureRatio(0.5))
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusBadGateway, `{"error":"UPSTREAM"}`)
	}, WithBreaker(breaker))

	for range 2 {
		err := client.Post(context.Background(), Caller{}, PathQRStatus, nil, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
	}

	err := client.Post(context.Background(), Caller{}, PathQRStatus, nil, nil)

	require.ErrorIs(t, err, status.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	breaker := utils.NewCircuitBreaker("test", utils.WithMinRequests(2), utils.WithFailureRatio(0.5))
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":"VALIDATION","errorData":"amount is required"}`)
	}, WithBreaker(breaker))

	for range 4 {
		err := client.Post(context.Background(), Caller{}, PathQRDynamic, nil, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "amount is required", apiErr.Message)
	}

	assert.Equal(t, utils.StateClosed, breaker.State())
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "/admin/api/v1/merchant/:id", endpointLabel("/admin/api/v1/merchant/42"))
	assert.Equal(t, "/idp/api/v1/role", endpointLabel("/idp/api/v1/role"))
}
