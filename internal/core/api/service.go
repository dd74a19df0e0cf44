// Package api provides the gin HTTP handlers for policies, templates and map
// layers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/solatis/policydesk/internal/core/store"
	"github.com/solatis/policydesk/internal/layers"
	"github.com/solatis/policydesk/internal/rules"
	"github.com/solatis/policydesk/internal/validate"
)

// HealthPath is served without authentication.
const HealthPath = "/healthz"

// Service is a thin orchestration layer over the store, rules engine,
// validator and layer store.
type Service struct {
	store     *store.Store
	engine    *rules.Engine
	validator *validate.Validator
	layers    *layers.Store
	logger    *zap.Logger
}

// NewService creates a service instance with its dependencies.
func NewService(st *store.Store, engine *rules.Engine, validator *validate.Validator, ls *layers.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if validator == nil {
		return nil, fmt.Errorf("validator cannot be nil")
	}
	if ls == nil {
		return nil, fmt.Errorf("layer store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, engine: engine, validator: validator, layers: ls, logger: logger}, nil
}

// Register mounts every API route on r.
func (s *Service) Register(r gin.IRouter) {
	api := r.Group("/api")

	policies := api.Group("/policies")
	policies.GET("", s.listPolicies)
	policies.POST("", s.createPolicy)
	policies.GET("/pending-approval", s.pendingApproval)
	policies.GET("/:id", s.getPolicy)
	policies.PUT("/:id", s.updatePolicy)
	policies.DELETE("/:id", s.archivePolicy)
	policies.POST("/:id/validate", s.validatePolicy)
	policies.POST("/:id/test", s.testPolicy)
	policies.POST("/:id/submit", s.lifecycle("submitted", s.submit))
	policies.POST("/:id/approve", s.lifecycle("approved", s.approve))
	policies.POST("/:id/reject", s.lifecycle("rejected", s.reject))
	policies.GET("/:id/versions", s.listVersions)
	policies.GET("/:id/versions/:version", s.getVersion)
	policies.POST("/:id/activate", s.lifecycle("activated", s.activate))
	policies.GET("/:id/approval-history", s.approvalHistory)

	templates := api.Group("/policy-templates")
	templates.GET("", s.listTemplates)
	templates.GET("/:id", s.getTemplate)
	templates.POST("/:id/clone", s.cloneTemplate)

	assets := api.Group("/layers")
	assets.GET("", s.listAssets)
	assets.GET("/:assetId", s.getLayers)
	assets.PUT("/:assetId", s.putLayers)
	assets.DELETE("/:assetId", s.deleteLayers)
	assets.POST("/:assetId/overlays", s.addOverlay)
	assets.DELETE("/:assetId/overlays/:overlayId", s.removeOverlay)
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// RequestTimeout bounds the context handed to handlers; zero disables it.
	RequestTimeout time.Duration
	// Auth runs after logging and recovery; nil leaves the API open.
	Auth gin.HandlerFunc
}

// NewRouter builds the gin engine: recovery, request logging, optional
// timeout and auth, the health endpoint and the API routes.
func NewRouter(s *Service, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(s.logger), RequestLogger(s.logger))
	if opts.RequestTimeout > 0 {
		r.Use(Timeout(opts.RequestTimeout))
	}
	if opts.Auth != nil {
		r.Use(opts.Auth)
	}

	r.GET(HealthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.Register(r)
	return r
}

// Recovery turns panics into a generic 500 and logs them with a stack trace.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stack"))
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			NewErrorResponse(http.StatusInternalServerError, "", "unexpected error"))
	})
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// Timeout attaches a deadline to the request context.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
