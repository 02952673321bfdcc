package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wadash/backend/internal/metrics"
	"github.com/wadash/backend/internal/services"
	"github.com/wadash/backend/internal/webhook"
	"go.uber.org/zap"
)

const maxBodyBytes = 1_048_576

type WebhookSecrets struct {
	WhatsApp string
	Payment  string
}

// WebhookHandler receives provider callbacks. Responses follow what the
// providers expect: 2xx acknowledges, 5xx asks for redelivery.
type WebhookHandler struct {
	deliveries *services.DeliveryService
	wallet     *services.WalletService
	secrets    WebhookSecrets
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewWebhookHandler(deliveries *services.DeliveryService, wallet *services.WalletService, secrets WebhookSecrets, m *metrics.Metrics, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		deliveries: deliveries,
		wallet:     wallet,
		secrets:    secrets,
		metrics:    m,
		logger:     logger,
	}
}

// WhatsAppStatus applies delivery status callbacks for one wallet owner.
func (h *WebhookHandler) WhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	logger := h.logger.With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("user_id", userID))

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if h.secrets.WhatsApp != "" && !h.verify(w, body, h.secrets.WhatsApp, whatsAppSignature(r), logger) {
		return
	}

	events, err := webhook.DecodeDeliveryEvents(body)
	if err != nil {
		logger.Warn("rejecting delivery webhook", zap.Error(err))
		h.metrics.RecordWebhookEvent("whatsapp", "rejected")
		services.SendErrorResponse(w, "Unrecognised webhook payload", http.StatusBadRequest, nil)
		return
	}

	summary, err := h.deliveries.Process(r.Context(), userID, events)
	if err != nil {
		logger.Error("delivery webhook processing failed", zap.Error(err))
		services.SendServiceError(w, err)
		return
	}

	logger.Info("delivery webhook processed",
		zap.Int("received", summary.Received),
		zap.Int("settled", summary.Settled),
		zap.Int("refunded", summary.Refunded),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("dropped", summary.Dropped))
	services.SendJSON(w, http.StatusOK, summary)
}

// PaymentCaptured credits a wallet from a captured top-up payment.
func (h *WebhookHandler) PaymentCaptured(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	// Payments always require a signature; an unset secret rejects everything.
	if !h.verify(w, body, h.secrets.Payment, r.Header.Get("X-Razorpay-Signature"), logger) {
		return
	}

	event, err := webhook.DecodePaymentEvent(body)
	if err != nil {
		logger.Warn("rejecting payment webhook", zap.Error(err))
		h.metrics.RecordWebhookEvent("razorpay", "rejected")
		services.SendErrorResponse(w, "Unrecognised webhook payload", http.StatusBadRequest, nil)
		return
	}
	if event == nil {
		h.metrics.RecordWebhookEvent("razorpay", "ignored")
		services.SendJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	entry, err := h.wallet.Recharge(r.Context(), services.RechargeCommand{
		UserID:    event.UserID,
		Amount:    event.Amount,
		Reference: event.PaymentID,
		Currency:  event.Currency,
	})
	if err != nil {
		logger.Error("recharge from payment failed",
			zap.String("payment_id", event.PaymentID),
			zap.String("user_id", event.UserID),
			zap.String("currency", event.Currency),
			zap.Error(err))
		outcome := "error"
		if errors.Is(err, services.ErrCurrencyMismatch) {
			outcome = "rejected"
		}
		h.metrics.RecordWebhookEvent("razorpay", outcome)
		services.SendServiceError(w, err)
		return
	}

	h.metrics.RecordWebhookEvent("razorpay", "credited")
	services.SendJSON(w, http.StatusOK, entry)
}

func (h *WebhookHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			services.SendErrorResponse(w, "Request body too large", http.StatusRequestEntityTooLarge, nil)
			return nil, false
		}
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}
	return body, true
}

func (h *WebhookHandler) verify(w http.ResponseWriter, body []byte, secret, signature string, logger *zap.Logger) bool {
	if !webhook.VerifySignature(secret, body, signature) {
		logger.Warn("webhook signature mismatch")
		services.SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return false
	}
	return true
}

// whatsAppSignature accepts our relay's header or the Cloud API's own.
func whatsAppSignature(r *http.Request) string {
	if sig := r.Header.Get("X-Webhook-Signature"); sig != "" {
		return sig
	}
	return r.Header.Get("X-Hub-Signature-256")
}
