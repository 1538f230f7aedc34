package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/logger"
)

const defaultListLimit = 50

// respondError writes err with the status its category maps to.
func respondError(c *gin.Context, log logger.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	body := gin.H{"error": err.Error()}
	if e, ok := apperrors.As(err); ok {
		body["code"] = e.Code
		body["category"] = e.Category
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		body = gin.H{"error": "internal error"}
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 || n > 500 {
		return defaultListLimit
	}
	return n
}
