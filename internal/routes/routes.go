package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	handler "payment-reconciliation-engine/internal/handlers"
	"payment-reconciliation-engine/internal/logger"
)

// Handlers groups the HTTP handlers mounted under /api.
type Handlers struct {
	Reconciliation *handler.ReconciliationHandler
	Payments       *handler.PaymentHandler
	Accounts       *handler.AccountHandler
}

// NewRouter builds the gin engine with CORS, recovery and request logging.
func NewRouter(allowedOrigins []string, h Handlers, log logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	RegisterRoutes(r, h)
	return r
}

func RegisterRoutes(r *gin.Engine, h Handlers) {
	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Email ingestion
	api.POST("/emails", h.Reconciliation.IngestEmail)
	api.POST("/emails/batch", h.Reconciliation.IngestBatch)
	api.GET("/batches/:id", h.Reconciliation.GetBatch)

	payments := api.Group("/payments")
	payments.POST("", h.Payments.Create)
	payments.GET("", h.Payments.List)
	payments.GET("/:id", h.Payments.Get)
	payments.GET("/:id/attempts", h.Payments.Attempts)
	payments.POST("/:id/reject", h.Payments.Reject)

	// Audit review
	attempts := api.Group("/match-attempts")
	attempts.GET("", h.Payments.ListAttempts)
	attempts.POST("/:id/review", h.Payments.ReviewAttempt)

	api.POST("/accounts", h.Accounts.CreateAccount)
	api.POST("/accounts/:id/return-to-pool", h.Accounts.ReturnToPool)
	api.POST("/businesses", h.Accounts.CreateBusiness)
	api.DELETE("/businesses/:id", h.Accounts.DeleteBusiness)

	api.POST("/sweep/expire", h.Payments.Expire)
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}
