package http

import (
	"net/http"
	"time"

	"assessment-attempt-service/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig carries the handlers and cross-cutting settings of the API.
type RouterConfig struct {
	Mode        string
	CORSOrigins []string
	Auth        *Authenticator
	Attempts    *AttemptHandler
	Live        *LiveHandler
	AnswerLimit *UserRateLimiter
	Logger      *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(logger))
	r.Use(SecurityHeaders())
	r.Use(metrics.MetricsMiddleware())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", metrics.PrometheusHandler())

	api := r.Group("/api/v1", cfg.Auth.Middleware())
	api.GET("/assessments/available", cfg.Attempts.ListAvailable)

	assessment := api.Group("/assessments/:id")
	assessment.GET("/preview", cfg.Attempts.Preview)
	assessment.GET("/gate", cfg.Attempts.Gate)
	assessment.POST("/attempts/start", cfg.Attempts.Start)
	assessment.GET("/attempts", cfg.Attempts.ListForReview)
	assessment.GET("/attempts/export", cfg.Attempts.Export)

	attempt := assessment.Group("/attempts/:attemptId")
	attempt.GET("", cfg.Attempts.View)
	attempt.POST("/resume", cfg.Attempts.Resume)
	if cfg.AnswerLimit != nil {
		attempt.POST("/answers", cfg.AnswerLimit.Middleware(), cfg.Attempts.SaveAnswers)
	} else {
		attempt.POST("/answers", cfg.Attempts.SaveAnswers)
	}
	attempt.POST("/submit", cfg.Attempts.Submit)
	if cfg.Live != nil {
		attempt.GET("/live", cfg.Live.Serve)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
	} else {
		c.AllowOrigins = origins
	}
	return c
}
