package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/luminapix/backend/internal/services"
)

type CreditHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewCreditHandler(ledger *services.LedgerService) *CreditHandler {
	return &CreditHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// Balance returns the account's credit balance
// @Summary Get credit balance
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64}
// @Failure 404 {object} services.ErrorResponse
// @Router /credits/balance [get]
func (h *CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := h.ledger.Balance(r.Context(), accountID)
	if errors.Is(err, services.ErrNotFound) {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to load balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"balance": balance,
	})
}

// Transactions lists the account's ledger entries
// @Summary List ledger entries
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} object{transactions=[]models.LedgerEntry,count=int}
// @Router /credits/transactions [get]
func (h *CreditHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := queryInt(r, "limit", 20, 100)
	offset := queryInt(r, "offset", 0, 1<<30)

	entries, err := h.ledger.History(r.Context(), accountID, limit, offset)
	if err != nil {
		services.SendErrorResponse(w, "Failed to list transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": entries,
		"count":        len(entries),
	})
}

// Purchase credits the account with bought credits
// @Summary Purchase credits
// @Tags Credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,payment_ref=string} true "Purchase request"
// @Success 200 {object} models.LedgerEntry
// @Failure 400 {object} services.ErrorResponse
// @Router /credits/purchase [post]
func (h *CreditHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount     int64  `json:"amount" validate:"required,gt=0"`
		PaymentRef string `json:"payment_ref" validate:"required"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	entry, err := h.ledger.Purchase(r.Context(), accountID, req.Amount, req.PaymentRef)
	if errors.Is(err, services.ErrNotFound) {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to purchase credits", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// Grant credits the account with bonus credits
// @Summary Grant bonus credits
// @Tags Credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,reason=string} true "Grant request"
// @Success 200 {object} models.LedgerEntry
// @Failure 400 {object} services.ErrorResponse
// @Router /credits/grant [post]
func (h *CreditHandler) Grant(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64  `json:"amount" validate:"required,gt=0"`
		Reason string `json:"reason" validate:"required"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	entry, err := h.ledger.Grant(r.Context(), accountID, req.Amount, req.Reason)
	if errors.Is(err, services.ErrNotFound) {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to grant credits", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// decodeBody applies the shared strict-decode and validation steps,
// writing the error response itself when the body is rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
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

	if err := v.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}
