package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter. Zero values disable the matching feature.
type RouterOptions struct {
	CORSOrigins []string
	// Gatherer backs GET /metrics.
	Gatherer prometheus.Gatherer
	// Health is consulted by GET /healthz.
	Health func(ctx context.Context) error
}

// NewRouter builds the gin engine serving h.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger, "/healthz", "/metrics"))
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	}

	r.GET("/healthz", healthz(opts.Health))
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/register", h.Register)
		apiGroup.GET("/status/:token", h.GetStatus)
		apiGroup.POST("/status/:token", h.Transition)
		apiGroup.GET("/stats", h.Stats)
		apiGroup.GET("/absent", h.Absent)
		apiGroup.GET("/users", h.Users)
		apiGroup.GET("/users/search", h.Search)
		apiGroup.DELETE("/users/:id", h.DeleteUser)
		apiGroup.POST("/reset", h.Reset)
		apiGroup.GET("/audit", h.Audit)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API route not found"})
	})
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{
			http.MethodOptions, http.MethodHead, http.MethodGet,
			http.MethodPost, http.MethodDelete,
		},
		AllowHeaders: []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", OperatorHeader},
		MaxAge:       12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		cfg.AllowOrigins = append(cfg.AllowOrigins, strings.TrimSuffix(o, "/"))
	}
	return cfg
}

func healthz(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
