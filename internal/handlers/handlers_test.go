package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wadash/backend/internal/audit"
	"github.com/wadash/backend/internal/constants"
	"github.com/wadash/backend/internal/metrics"
	"github.com/wadash/backend/internal/repository"
	"github.com/wadash/backend/internal/services"
	"github.com/wadash/backend/internal/webhook"
	"go.uber.org/zap"
)

const (
	testAPIKey        = "internal-key"
	testWhatsAppKey   = "wa-secret"
	testPaymentSecret = "rzp-secret"
)

type MockPlanWriter struct {
	mock.Mock
}

func (m *MockPlanWriter) SetPlan(ctx context.Context, userID, plan string) error {
	args := m.Called(ctx, userID, plan)
	return args.Error(0)
}

type testServer struct {
	handler http.Handler
	store   *repository.MemoryLedgerStore
	plans   *MockPlanWriter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	store := repository.NewMemoryLedgerStore()

	reconciler := services.NewReconciler(services.FallbackLatest, time.Minute, m, logger)
	wallet := services.NewWalletService(store, reconciler, audit.NewLogger(logger), m, logger, services.WalletOptions{
		Currency:         "INR",
		OperationTimeout: 200 * time.Millisecond,
	})
	pricing, err := services.NewPricingResolver(map[string]map[string]int64{
		"starter": {"marketing": 109, "utility": 16, "service": 0},
		"growth":  {"marketing": 95},
	})
	require.NoError(t, err)
	directory := repository.NewPlanDirectory(nil, nil, nil, "starter", time.Minute, logger)
	charges := services.NewChargeService(wallet, pricing, directory, logger)
	deliveries := services.NewDeliveryService(wallet, nil, time.Hour, m, logger)

	planWriter := new(MockPlanWriter)
	walletHandler := NewWalletHandler(wallet, charges, pricing, planWriter, logger)
	webhookHandler := NewWebhookHandler(deliveries, wallet, WebhookSecrets{
		WhatsApp: testWhatsAppKey,
		Payment:  testPaymentSecret,
	}, m, logger)

	router := NewRouter(walletHandler, webhookHandler, reg, m, logger, RouterOptions{
		InternalAPIKey: testAPIKey,
		AllowedOrigins: []string{"https://*"},
		RequestTimeout: 5 * time.Second,
	})
	return &testServer{handler: router, store: store, plans: planWriter}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) hook(t *testing.T, path, header, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(header, webhook.Sign(secret, []byte(body)))
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) topUp(t *testing.T, userID, paymentID string, amount int64) *httptest.ResponseRecorder {
	t.Helper()
	return s.payment(t, userID, paymentID, amount, "INR")
}

func (s *testServer) payment(t *testing.T, userID, paymentID string, amount int64, currency string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"` + paymentID +
		`","amount":` + jsonInt(amount) + `,"currency":"` + currency + `","notes":{"user_id":"` + userID + `"}}}}}`
	return s.hook(t, "/webhooks/payments", "X-Razorpay-Signature", testPaymentSecret, body)
}

func (s *testServer) deliveryStatus(t *testing.T, userID, messageID, status string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"timestamp":"` + time.Now().UTC().Format(time.RFC3339Nano) + `","type":"message_api_` + status +
		`","data":{"customer":{"channel_phone_number":"919876543210"},"message":{"id":"` + messageID + `"}}}`
	return s.hook(t, "/webhooks/whatsapp/"+userID, "X-Webhook-Signature", testWhatsAppKey, body)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decodeBody(t, rr)["status"])

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "wallet_http_requests_total")
}

func TestInternalRoutesRequireAPIKey(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/v1/wallets/user-1", nil)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestChargeLifecycle(t *testing.T) {
	s := newTestServer(t)

	rr := s.topUp(t, "user-1", "pay_1", 1000)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	t.Run("charge moves price into suspense", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges", map[string]string{
			"user_id":         "user-1",
			"category":        "MARKETING",
			"correlation_key": "send-1",
			"recipient":       "+91 98765 43210",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		body := decodeBody(t, rr)
		assert.Equal(t, "starter", body["plan"])
		assert.Equal(t, float64(109), body["price"])

		rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-1", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		wallet := decodeBody(t, rr)
		assert.Equal(t, float64(891), wallet["available_balance"])
		assert.Equal(t, float64(109), wallet["suspense_balance"])
		assert.Equal(t, "8.91", wallet["available"])
	})

	t.Run("repeating the charge does not debit twice", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges", map[string]string{
			"user_id":         "user-1",
			"category":        "marketing",
			"correlation_key": "send-1",
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-1", nil)
		assert.Equal(t, float64(891), decodeBody(t, rr)["available_balance"])
	})

	t.Run("link then settle by provider id", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges/send-1/link", map[string]string{
			"user_id":     "user-1",
			"provider_id": "wamid.1",
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = s.deliveryStatus(t, "user-1", "wamid.1", "delivered")
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, float64(1), decodeBody(t, rr)["settled"])

		rr = s.deliveryStatus(t, "user-1", "wamid.1", "read")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, float64(1), decodeBody(t, rr)["duplicates"])
	})

	t.Run("failed delivery refunds", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges", map[string]string{
			"user_id":         "user-1",
			"category":        "utility",
			"correlation_key": "send-2",
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		rr = s.deliveryStatus(t, "user-1", "send-2", "failed")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, float64(1), decodeBody(t, rr)["refunded"])

		rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-1", nil)
		wallet := decodeBody(t, rr)
		assert.Equal(t, float64(891), wallet["available_balance"])
		assert.Equal(t, float64(109), wallet["suspense_balance"])
	})

	t.Run("audit is consistent", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/internal/v1/wallets/user-1/audit", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		report := decodeBody(t, rr)
		assert.Equal(t, true, report["consistent"])
		assert.Equal(t, float64(109), report["settled_total"])
		assert.Equal(t, float64(0), report["open_exposure"])
	})

	t.Run("transactions are paged newest first", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/internal/v1/wallets/user-1/transactions?limit=2", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decodeBody(t, rr)
		txs := body["transactions"].([]any)
		require.Len(t, txs, 2)
		assert.Equal(t, "SUSPENSE_REFUND", txs[0].(map[string]any)["kind"])

		rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-1/transactions?limit=abc", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCharge_Errors(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.topUp(t, "user-1", "pay_1", 100).Code)

	t.Run("insufficient balance", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges", map[string]string{
			"user_id":         "user-1",
			"category":        "marketing",
			"correlation_key": "send-1",
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, constants.ErrCodeInsufficientBalance, decodeBody(t, rr)["code"])
	})

	t.Run("unknown category", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges", map[string]string{
			"user_id":         "user-1",
			"category":        "promo",
			"correlation_key": "send-2",
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, constants.ErrCodeUnknownCategory, decodeBody(t, rr)["code"])
	})

	t.Run("unbilled category writes nothing", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges", map[string]string{
			"user_id":         "user-1",
			"category":        "service",
			"correlation_key": "send-3",
		})
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, false, decodeBody(t, rr)["billable"])
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges", `{"user_id":"user-1","category":"utility","correlation_key":"k","extra":1}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("trailing data is rejected", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges", `{"user_id":"user-1","category":"utility","correlation_key":"k"}{}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("validation details", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges", map[string]string{"category": "utility"})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		details := decodeBody(t, rr)["details"].(map[string]any)
		assert.Contains(t, details, "UserID")
		assert.Contains(t, details, "CorrelationKey")
	})

	t.Run("refund of unknown charge", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/internal/v1/charges/nope/refund", map[string]string{"user_id": "user-1"})
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, constants.ErrCodePendingChargeNotFound, decodeBody(t, rr)["code"])
	})
}

func TestRefundCharge(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.topUp(t, "user-1", "pay_1", 500).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/internal/v1/charges", map[string]string{
		"user_id": "user-1", "category": "marketing", "correlation_key": "send-1",
	}).Code)

	rr := s.do(t, http.MethodPost, "/internal/v1/charges/send-1/refund", map[string]string{"user_id": "user-1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, false, decodeBody(t, rr)["already_resolved"])

	rr = s.do(t, http.MethodPost, "/internal/v1/charges/send-1/refund", map[string]string{"user_id": "user-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeBody(t, rr)["already_resolved"])

	rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-1", nil)
	wallet := decodeBody(t, rr)
	assert.Equal(t, float64(500), wallet["available_balance"])
	assert.Equal(t, float64(0), wallet["suspense_balance"])
}

func TestAdjustAndQuote(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/internal/v1/wallets/user-1/adjustments", map[string]any{"amount": 250, "reference": "ops-1"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "CREDIT", decodeBody(t, rr)["entry_type"])

	rr = s.do(t, http.MethodPost, "/internal/v1/wallets/user-1/adjustments", map[string]any{"amount": -300, "reference": "ops-2"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPost, "/internal/v1/wallets/user-1/adjustments", map[string]any{"amount": 250, "reference": "ops-1"})
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-1", nil)
	assert.Equal(t, float64(250), decodeBody(t, rr)["available_balance"])

	rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-1/quote?category=utility", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(16), decodeBody(t, rr)["price"])

	rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-1/quote?category=", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/internal/v1/wallets/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSetPlan(t *testing.T) {
	s := newTestServer(t)

	s.plans.On("SetPlan", mock.Anything, "user-1", "growth").Return(nil).Once()
	rr := s.do(t, http.MethodPut, "/internal/v1/wallets/user-1/plan", map[string]string{"plan": "growth"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPut, "/internal/v1/wallets/user-1/plan", map[string]string{"plan": "platinum"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, constants.ErrCodeUnknownPlan, decodeBody(t, rr)["code"])

	s.plans.On("SetPlan", mock.Anything, "user-2", "starter").Return(errors.New("connection refused")).Once()
	rr = s.do(t, http.MethodPut, "/internal/v1/wallets/user-2/plan", map[string]string{"plan": "starter"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection refused")

	s.plans.AssertExpectations(t)
}

func TestWebhooks(t *testing.T) {
	s := newTestServer(t)

	t.Run("bad signature", func(t *testing.T) {
		rr := s.hook(t, "/webhooks/payments", "X-Razorpay-Signature", "wrong", `{"event":"payment.captured"}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("payment events other than capture are acknowledged", func(t *testing.T) {
		rr := s.hook(t, "/webhooks/payments", "X-Razorpay-Signature", testPaymentSecret, `{"event":"payment.failed","payload":{}}`)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ignored", decodeBody(t, rr)["status"])
	})

	t.Run("replayed payment credits once", func(t *testing.T) {
		require.Equal(t, http.StatusOK, s.topUp(t, "user-1", "pay_9", 700).Code)
		require.Equal(t, http.StatusOK, s.topUp(t, "user-1", "pay_9", 700).Code)

		rr := s.do(t, http.MethodGet, "/internal/v1/wallets/user-1", nil)
		assert.Equal(t, float64(700), decodeBody(t, rr)["available_balance"])
	})

	t.Run("payment in another currency is not credited", func(t *testing.T) {
		rr := s.payment(t, "user-1", "pay_usd", 500, "usd")
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, constants.ErrCodeCurrencyMismatch, decodeBody(t, rr)["code"])

		rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-1", nil)
		assert.Equal(t, float64(700), decodeBody(t, rr)["available_balance"])

		rr = s.payment(t, "user-9", "pay_usd_new", 500, "USD")
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-9", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("unknown delivery payload", func(t *testing.T) {
		rr := s.hook(t, "/webhooks/whatsapp/user-1", "X-Webhook-Signature", testWhatsAppKey, `{"foo":"bar"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("status for unknown charge is dropped", func(t *testing.T) {
		rr := s.deliveryStatus(t, "user-1", "wamid.unknown", "delivered")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, float64(1), decodeBody(t, rr)["dropped"])
	})

	t.Run("meta signature header", func(t *testing.T) {
		body := `{"object":"whatsapp_business_account","entry":[]}`
		req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp/user-1", strings.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", "sha256="+webhook.Sign(testWhatsAppKey, []byte(body)))
		rr := httptest.NewRecorder()
		s.handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)

		req = httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp/user-1", strings.NewReader(body))
		rr = httptest.NewRecorder()
		s.handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		body := `{"event":"` + strings.Repeat("x", maxBodyBytes) + `"}`
		rr := s.hook(t, "/webhooks/payments", "X-Razorpay-Signature", testPaymentSecret, body)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})
}

func TestDeliveryWebhook_FallbackReachesLinkedCharge(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.topUp(t, "user-1", "pay_1", 500).Code)

	rr := s.do(t, http.MethodPost, "/internal/v1/charges", map[string]string{
		"user_id":         "user-1",
		"category":        "marketing",
		"correlation_key": "send-1",
		"recipient":       "+91 98765 43210",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/internal/v1/charges/send-1/link", map[string]string{
		"user_id":     "user-1",
		"provider_id": "interakt-resp-id",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// The delivery report carries a different message id than the send response.
	rr = s.deliveryStatus(t, "user-1", "wamid.different", "failed")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	summary := decodeBody(t, rr)
	assert.Equal(t, float64(1), summary["refunded"])
	assert.Equal(t, float64(0), summary["dropped"])

	rr = s.do(t, http.MethodGet, "/internal/v1/wallets/user-1", nil)
	wallet := decodeBody(t, rr)
	assert.Equal(t, float64(500), wallet["available_balance"])
	assert.Equal(t, float64(0), wallet["suspense_balance"])

	rr = s.deliveryStatus(t, "user-1", "interakt-resp-id", "delivered")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), decodeBody(t, rr)["duplicates"])
}

func TestDeliveryWebhook_LockTimeoutAsksForRedelivery(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.topUp(t, "user-1", "pay_1", 500).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/internal/v1/charges", map[string]string{
		"user_id": "user-1", "category": "marketing", "correlation_key": "send-1",
	}).Code)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.store.InTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
			_, err := tx.LockAccount(ctx, "user-1", "INR")
			close(held)
			<-release
			return err
		})
	}()
	<-held
	defer close(release)

	rr := s.deliveryStatus(t, "user-1", "send-1", "delivered")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, constants.ErrCodeAccountLockTimeout, decodeBody(t, rr)["code"])
}
