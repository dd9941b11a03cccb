package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientdomain "github.com/smallbiznis/possync/internal/client/domain"
	"github.com/smallbiznis/possync/internal/config"
	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
	"github.com/smallbiznis/possync/internal/ingestion"
	obslogger "github.com/smallbiznis/possync/internal/observability/logger"
	"github.com/smallbiznis/possync/internal/observability/tracing"
	"github.com/smallbiznis/possync/internal/ratelimit"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	salesdomain "github.com/smallbiznis/possync/internal/sales/domain"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tracing.GinMiddleware())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": cfg.Node})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.server.failed", zap.Error(err))
				}
			}()
			log.Info("http.server.started", zap.String("addr", cfg.HTTPAddr), zap.String("node", cfg.Node))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Server exposes the sync API on the admin node and the POS API on a
// location node.
type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	ledger      syncdomain.Service
	reference   refdomain.Service
	clients     clientdomain.Service
	contingency contingencydomain.Service
	sales       salesdomain.Service
	store       *ingestion.Store
	limiter     *ratelimit.UploadLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Ledger      syncdomain.Service
	Reference   refdomain.Service
	Clients     clientdomain.Service
	Contingency contingencydomain.Service
	Sales       salesdomain.Service
	Store       *ingestion.Store         `optional:"true"`
	Limiter     *ratelimit.UploadLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		ledger:      p.Ledger,
		reference:   p.Reference,
		clients:     p.Clients,
		contingency: p.Contingency,
		sales:       p.Sales,
		store:       p.Store,
		limiter:     p.Limiter,
	}
	if p.Cfg.IsAdmin() {
		s.registerSyncRoutes()
	} else {
		s.registerPOSRoutes()
	}
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerSyncRoutes() {
	sync := s.engine.Group("/sync", SyncTokenRequired(s.cfg.SyncAPIToken))

	sync.GET("/pull/start", s.StartPull)
	sync.GET("/pull/clients", s.PullClients)
	sync.GET("/pull/users", s.PullUsers)
	sync.GET("/pull/devices", s.PullDevices)
	sync.GET("/pull/parameters", s.PullParameters)
	sync.POST("/confirm/:id", s.ConfirmPull)

	sync.POST("/push/start", s.StartPush)
	sync.POST("/push/:id/complete", s.CompletePush)
	sync.POST("/push/:id/:kind", s.UploadPushFile)
}

func (s *Server) registerPOSRoutes() {
	pos := s.engine.Group("/pos")

	pos.GET("/contingency", s.GetOpenContingency)
	pos.POST("/contingency/start", s.StartContingency)
	pos.POST("/contingency/end", s.EndContingency)

	pos.GET("/clients/:rut", s.GetClient)
	pos.POST("/quotes", s.CreateQuote)
	pos.POST("/quotes/:id/accept", s.AcceptQuote)
	pos.GET("/sales/:id", s.GetSale)
	pos.POST("/payments", s.RegisterPayment)
}
