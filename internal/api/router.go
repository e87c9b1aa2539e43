package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/ratelimit"
)

const contextTenantKey = "tenant_id"

// Limiters groups the per-class rate limiters
type Limiters struct {
	Process *ratelimit.Limiter
	Read    *ratelimit.Limiter
}

// NewRouter builds the gin engine with all routes and middleware
func NewRouter(h *Handler, limiters Limiters, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "invoice-pipeline",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	v1 := router.Group("/api/v1")
	v1.Use(requireTenant(logger))

	writes := v1.Group("")
	writes.Use(ratelimit.Middleware(limiters.Process, "process"))
	{
		writes.POST("/invoices", h.CreateInvoice)
		writes.POST("/invoices/:id/process", h.ProcessInvoice)
		writes.POST("/invoices/:id/approve", h.ApproveInvoice)
		writes.POST("/companies/resolve", h.ResolveCompanies)
	}

	reads := v1.Group("")
	reads.Use(ratelimit.Middleware(limiters.Read, "read"))
	{
		reads.GET("/invoices/:id", h.GetInvoice)
		reads.GET("/invoices/export", h.ExportRegister)
		reads.GET("/jobs/:id", h.GetJob)
		reads.GET("/jobs/:id/logs", h.GetJobLogs)
		reads.GET("/usage", h.GetUsage)
	}

	return router
}

// requireTenant pulls the tenant from the X-Tenant-ID header; the API
// has no anonymous endpoints below /api/v1
func requireTenant(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader("X-Tenant-ID")
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "X-Tenant-ID header is required",
			})
			return
		}
		c.Set(contextTenantKey, tenant)
		c.Next()
	}
}

func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
