// Package server exposes the ingest daemon's HTTP surface: event capture,
// identity, consent, flush, and billing webhook ingress.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	outlit "github.com/outlithq/outlit-go"
	"github.com/outlithq/outlit-go/internal/config"
	"github.com/outlithq/outlit-go/internal/store/redisstore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, logger *zap.Logger) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CorrelationID())
	r.Use(Tracing())
	r.Use(RequestLogger(logger))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, logger *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("http server failed", zap.Error(err))
				}
			}()
			logger.Info("listening", zap.String("addr", cfg.ListenAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ShutdownTimeoutMS)*time.Millisecond)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	ingest *config.IngestConfigHolder
	client *outlit.Client
	locker *redisstore.Locker
	log    *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin    *gin.Engine
	Cfg    config.Config
	Ingest *config.IngestConfigHolder
	Client *outlit.Client
	Locker *redisstore.Locker `optional:"true"`
	Log    *zap.Logger
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		ingest: p.Ingest,
		client: p.Client,
		locker: p.Locker,
		log:    p.Log.Named("server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")
	v1.POST("/track", s.handleTrack)
	v1.POST("/identify", s.handleIdentify)
	v1.POST("/consent", s.handleConsent)
	v1.GET("/consent", s.handleConsentStatus)
	v1.POST("/flush", s.handleFlush)

	s.engine.POST("/webhooks/:provider", s.handleWebhook)
}
