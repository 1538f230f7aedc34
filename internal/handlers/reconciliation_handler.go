package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/services/extraction"
	service "payment-reconciliation-engine/internal/services/reconciliation"
)

type ReconciliationHandler struct {
	service *service.Service
	workers int
	log     logger.Logger
}

func NewReconciliationHandler(s *service.Service, workers int, log logger.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{service: s, workers: workers, log: log.WithComponent("http")}
}

// IngestEmail runs one parsed notification through the pipeline.
func (h *ReconciliationHandler) IngestEmail(c *gin.Context) {
	var email extraction.RawEmail
	if err := c.ShouldBindJSON(&email); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	out, err := h.service.Process(c.Request.Context(), email)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type batchRequest struct {
	Source string                `json:"source"`
	Emails []extraction.RawEmail `json:"emails" binding:"required,min=1,dive"`
}

// IngestBatch accepts a JSON body {"emails": [...]} or a multipart "file"
// of JSON lines. Processing runs in the background unless ?wait=true.
func (h *ReconciliationHandler) IngestBatch(c *gin.Context) {
	source, emails, ok := h.readBatch(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	batch, err := h.service.StartBatch(ctx, source, len(emails))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if c.Query("wait") == "true" {
		if err := h.service.RunBatch(ctx, batch, emails, h.workers); err != nil {
			respondError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, batch)
		return
	}

	resp := gin.H{
		"batch_id": batch.ID.String(),
		"total":    batch.Total,
		"status":   batch.Status,
	}
	go func() {
		if err := h.service.RunBatch(context.WithoutCancel(ctx), batch, emails, h.workers); err != nil {
			h.log.WithError(err).WithField("batch", batch.ID).Error("background batch failed")
		}
	}()
	c.JSON(http.StatusAccepted, resp)
}

func (h *ReconciliationHandler) readBatch(c *gin.Context) (string, []extraction.RawEmail, bool) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			badRequest(c, "file required")
			return "", nil, false
		}
		defer file.Close()
		emails, err := extraction.ReadJSONL(file)
		if err != nil {
			respondError(c, h.log, err)
			return "", nil, false
		}
		if len(emails) == 0 {
			badRequest(c, "file contains no emails")
			return "", nil, false
		}
		return header.Filename, emails, true
	}

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return "", nil, false
	}
	if req.Source == "" {
		req.Source = "api"
	}
	return req.Source, req.Emails, true
}

// GetBatch returns a stored batch, with live progress while it is running.
func (h *ReconciliationHandler) GetBatch(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	batch, err := h.service.GetBatch(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	resp := gin.H{"batch": batch}
	if p, ok := h.service.BatchProgress(id); ok && batch.Status != "completed" {
		resp["progress"] = p
	} else {
		resp["progress"] = service.Progress{Processed: batch.Processed, Total: batch.Total, Status: batch.Status}
	}
	c.JSON(http.StatusOK, resp)
}
