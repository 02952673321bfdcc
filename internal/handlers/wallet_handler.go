package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wadash/backend/internal/constants"
	"github.com/wadash/backend/internal/models"
	"github.com/wadash/backend/internal/services"
	"go.uber.org/zap"
)

// PlanWriter assigns a pricing plan to a user.
type PlanWriter interface {
	SetPlan(ctx context.Context, userID, plan string) error
}

// WalletHandler serves the internal wallet API used by the send handler and
// ops tooling.
type WalletHandler struct {
	wallet    *services.WalletService
	charges   *services.ChargeService
	pricing   *services.PricingResolver
	plans     PlanWriter
	validator *services.ValidationHelper
	logger    *zap.Logger
}

func NewWalletHandler(wallet *services.WalletService, charges *services.ChargeService, pricing *services.PricingResolver, plans PlanWriter, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{
		wallet:    wallet,
		charges:   charges,
		pricing:   pricing,
		plans:     plans,
		validator: services.NewValidationHelper(),
		logger:    logger,
	}
}

// GetWallet returns the balances of a wallet.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	acct, err := h.wallet.GetAccount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, acct.View())
}

// ListTransactions pages the ledger newest first. limit defaults to 20.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		services.SendErrorResponse(w, "limit must be an integer", http.StatusBadRequest, nil)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		services.SendErrorResponse(w, "offset must be an integer", http.StatusBadRequest, nil)
		return
	}

	userID := chi.URLParam(r, "userID")
	txs, err := h.wallet.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	})
}

// Audit replays the ledger and compares it with stored balances.
func (h *WalletHandler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.wallet.AuditAccount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, report)
}

// Adjust applies a signed manual correction.
func (h *WalletHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    int64  `json:"amount" validate:"required"`
		Reference string `json:"reference" validate:"required,max=128"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.wallet.Adjust(r.Context(), services.AdjustCommand{
		UserID:    chi.URLParam(r, "userID"),
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, entry)
}

// SetPlan moves a user onto another pricing plan.
func (h *WalletHandler) SetPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if !h.pricing.HasPlan(req.Plan) {
		services.SendServiceError(w, services.NewServiceError(constants.ErrCodeUnknownPlan,
			fmt.Errorf("%w: %q", services.ErrUnknownPlan, req.Plan)))
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := h.plans.SetPlan(r.Context(), userID, req.Plan); err != nil {
		h.logger.Error("set plan failed", zap.String("user_id", userID), zap.Error(err))
		services.SendServiceError(w, services.NewServiceError(constants.ErrCodeOperationFailed, err))
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]string{"user_id": userID, "plan": req.Plan})
}

// Quote prices a message category for a user without charging.
func (h *WalletHandler) Quote(w http.ResponseWriter, r *http.Request) {
	category, err := parseCategory(r.URL.Query().Get("category"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	receipt, err := h.charges.Quote(r.Context(), chi.URLParam(r, "userID"), category)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, receipt)
}

// Charge reserves the price of an outbound message before it is sent.
func (h *WalletHandler) Charge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"user_id" validate:"required"`
		Category       string `json:"category" validate:"required"`
		CorrelationKey string `json:"correlation_key" validate:"required,max=256"`
		Recipient      string `json:"recipient" validate:"omitempty,max=32"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	category, err := parseCategory(req.Category)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	receipt, err := h.charges.Charge(r.Context(), services.ChargeCommand{
		UserID:         req.UserID,
		Category:       category,
		CorrelationKey: req.CorrelationKey,
		Recipient:      req.Recipient,
	})
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if !receipt.Billable {
		status = http.StatusOK
	}
	services.SendJSON(w, status, receipt)
}

// LinkCorrelation attaches the provider's message id to a charge once the
// send is accepted.
func (h *WalletHandler) LinkCorrelation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"user_id" validate:"required"`
		ProviderID string `json:"provider_id" validate:"required,max=256"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	charge, err := h.wallet.LinkCorrelation(r.Context(), req.UserID, chi.URLParam(r, "correlationKey"), req.ProviderID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, charge)
}

// RefundCharge releases a charge whose send never reached the provider.
func (h *WalletHandler) RefundCharge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.wallet.RefundCharge(r.Context(), req.UserID, chi.URLParam(r, "correlationKey"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, result)
}

func (h *WalletHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func parseCategory(raw string) (models.MessageCategory, error) {
	category, err := models.ParseCategory(raw)
	if err != nil {
		return "", services.NewServiceError(constants.ErrCodeUnknownCategory,
			fmt.Errorf("%w: %q", services.ErrUnknownCategory, raw))
	}
	return category, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
