package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/services/accounts"
)

type AccountHandler struct {
	allocator *accounts.Allocator
	log       logger.Logger
}

func NewAccountHandler(a *accounts.Allocator, log logger.Logger) *AccountHandler {
	return &AccountHandler{allocator: a, log: log.WithComponent("http")}
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var payload struct {
		Number        string     `json:"account_number" binding:"required"`
		AccountName   string     `json:"account_name"`
		BankName      string     `json:"bank_name"`
		BusinessID    *uuid.UUID `json:"business_id"`
		IsPool        bool       `json:"is_pool"`
		IsInvoicePool bool       `json:"is_invoice_pool"`
		IsActive      *bool      `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	acct := &models.AccountNumber{
		Number:        payload.Number,
		AccountName:   payload.AccountName,
		BankName:      payload.BankName,
		BusinessID:    payload.BusinessID,
		IsPool:        payload.IsPool,
		IsInvoicePool: payload.IsInvoicePool,
		IsActive:      payload.IsActive == nil || *payload.IsActive,
	}
	if err := h.allocator.Save(c.Request.Context(), acct); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (h *AccountHandler) ReturnToPool(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	acct, err := h.allocator.ReturnToPool(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h *AccountHandler) CreateBusiness(c *gin.Context) {
	var payload struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	b, err := h.allocator.CreateBusiness(c.Request.Context(), payload.Name)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// DeleteBusiness removes a business and returns its accounts to the pool.
func (h *AccountHandler) DeleteBusiness(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	n, err := h.allocator.RemoveBusiness(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "business removed", "accounts_repooled": n})
}
