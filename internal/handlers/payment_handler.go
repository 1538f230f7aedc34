package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/services/payments"
)

type PaymentHandler struct {
	payments *payments.Service
	log      logger.Logger
}

func NewPaymentHandler(p *payments.Service, log logger.Logger) *PaymentHandler {
	return &PaymentHandler{payments: p, log: log.WithComponent("http")}
}

type createPaymentRequest struct {
	Reference     string          `json:"reference"`
	BusinessID    *uuid.UUID      `json:"business_id"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	PayerName     string          `json:"payer_name"`
	TTLMinutes    int             `json:"ttl_minutes"`
	Invoice       bool            `json:"invoice"`
}

func (h *PaymentHandler) Create(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	if req.TTLMinutes < 0 {
		badRequest(c, "ttl_minutes must not be negative")
		return
	}
	p, err := h.payments.Create(c.Request.Context(), payments.NewPayment{
		Reference:     req.Reference,
		BusinessID:    req.BusinessID,
		AccountNumber: req.AccountNumber,
		Amount:        req.Amount,
		PayerName:     req.PayerName,
		TTL:           time.Duration(req.TTLMinutes) * time.Minute,
		Invoice:       req.Invoice,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// List filters payment requests by ?account= and a comma separated ?status=.
func (h *PaymentHandler) List(c *gin.Context) {
	var statuses []string
	for _, s := range strings.Split(c.Query("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			statuses = append(statuses, strings.ToLower(s))
		}
	}
	items, err := h.payments.Search(c.Request.Context(), c.Query("account"), statuses, queryLimit(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *PaymentHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.payments.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Attempts returns the audit trail of a payment.
func (h *PaymentHandler) Attempts(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	attempts, err := h.payments.Attempts(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": attempts})
}

func (h *PaymentHandler) Reject(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var payload struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	p, err := h.payments.Reject(c.Request.Context(), id, payload.Reason, payload.Actor)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "payment rejected", "payment": p})
}

// Expire runs one expiry sweep.
func (h *PaymentHandler) Expire(c *gin.Context) {
	n, err := h.payments.ExpireStale(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func (h *PaymentHandler) ListAttempts(c *gin.Context) {
	attempts, err := h.payments.SearchAttempts(c.Request.Context(), c.Query("outcome"), c.Query("review"), queryLimit(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": attempts})
}

func (h *PaymentHandler) ReviewAttempt(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var payload struct {
		Status     string `json:"status" binding:"required"`
		Notes      string `json:"notes"`
		ReviewedBy string `json:"reviewed_by"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	a, err := h.payments.Review(c.Request.Context(), id, payload.Status, payload.Notes, payload.ReviewedBy)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
