package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"mpesa-payment-service/internal/daraja"
	"mpesa-payment-service/internal/services"
	"mpesa-payment-service/internal/store"
	"mpesa-payment-service/pkg/common"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	Payments  *services.PaymentService
	Reconcile *services.ReconcileService
	Store     *store.TransactionStore
}

func NewPaymentHandler(payments *services.PaymentService, reconcile *services.ReconcileService, st *store.TransactionStore) *PaymentHandler {
	return &PaymentHandler{
		Payments:  payments,
		Reconcile: reconcile,
		Store:     st,
	}
}

type InitiatePaymentRequest struct {
	PhoneNumber string  `json:"phone_number" binding:"required"`
	Amount      float64 `json:"amount" binding:"required"`
	AccountRef  string  `json:"account_ref"`
	Description string  `json:"description"`
	PaymentType string  `json:"payment_type"`
}

// InitiatePayment handles POST /payments/initiate.
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), nil, http.StatusBadRequest))
		return
	}

	dto := services.InitiatePaymentDTO{
		PhoneNumber: req.PhoneNumber,
		Amount:      req.Amount,
		AccountRef:  req.AccountRef,
		Description: req.Description,
		PaymentType: req.PaymentType,
		Source:      "merchant",
	}
	if merchantId, ok := CurrentMerchantId(c); ok {
		dto.MerchantId = &merchantId
	} else {
		dto.Source = "customer"
	}

	result, err := h.Payments.InitiatePayment(c.Request.Context(), dto)
	if err != nil {
		status, message := classifyInitiateError(err)
		c.JSON(status, common.NewErrorResponse(message, nil, status))
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(result, "Payment request submitted"))
}

func classifyInitiateError(err error) (int, string) {
	var validation *services.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, validation.Error()
	}
	var rejected *services.PaymentRejectedError
	if errors.As(err, &rejected) {
		return http.StatusPaymentRequired, rejected.Description
	}
	var authErr *daraja.AuthError
	if errors.As(err, &authErr) {
		return http.StatusBadGateway, "payment gateway authentication failed"
	}
	var unreachable *daraja.UnreachableError
	if errors.As(err, &unreachable) {
		return http.StatusGatewayTimeout, "payment gateway unreachable, please retry"
	}
	return http.StatusInternalServerError, "failed to initiate payment"
}

// HandleCallback handles POST /payments/callback, the public webhook the
// gateway delivers STK results to. It must acknowledge quickly: 400 only
// for a malformed envelope, 500 only for storage failures (so the gateway
// redelivers), 200 for everything else including orphans.
func (h *PaymentHandler) HandleCallback(c *gin.Context) {
	const maxBodyBytes = int64(65536)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	outcome, err := h.Reconcile.HandleCallback(c.Request.Context(), payload)
	if err != nil {
		if errors.Is(err, daraja.ErrMalformedCallback) {
			log.Printf("Rejected malformed callback: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed callback"})
			return
		}
		log.Printf("Callback processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	if outcome.Orphaned {
		log.Printf("Orphaned callback acknowledged (status %s)", outcome.Status)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetTransaction handles GET /payments/:id, the status endpoint clients
// poll while waiting for the callback.
func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	transaction, err := h.Store.FindByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, common.NewErrorResponse("Transaction not found", nil, http.StatusNotFound))
			return
		}
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error(), nil, http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(transaction, "success"))
}

// ListTransactions handles GET /payments for the authenticated merchant,
// with status and date-range filters.
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	merchantId, ok := CurrentMerchantId(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, common.NewErrorResponse("Unauthorized", nil, http.StatusUnauthorized))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 {
		limit = 50
	}

	filters := store.ListFilters{
		Status: c.Query("status"),
		Page:   page,
		Limit:  limit,
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filters.From = &t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filters.To = &t
		}
	}

	transactions, total, err := h.Store.ListByMerchant(merchantId, filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error(), nil, http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, common.PaginateResponse(transactions, total, filters.Page, filters.Limit, ""))
}
