// Package server exposes the read-only ops API of the daemon: health,
// Prometheus metrics, recent runs and stored anomalies.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/carlot/internal/anomaly"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/inventory/service"
	"github.com/smallbiznis/carlot/internal/observability"
	obslogger "github.com/smallbiznis/carlot/internal/observability/logger"
	obstracing "github.com/smallbiznis/carlot/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(
		func(s *service.RunService) RunLister { return s },
		func(d *anomaly.Detector) AnomalyLister { return d },
		NewServer,
		registerGin,
	),
	fx.Invoke(run),
)

// RunLister returns the latest pipeline runs.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]domain.ImportRun, error)
}

// AnomalyLister returns stored anomaly records.
type AnomalyLister interface {
	List(ctx context.Context, filter domain.AnomalyFilter) ([]domain.PriceAnomaly, error)
}

type Params struct {
	fx.In

	DB        *gorm.DB `optional:"true"`
	Log       *zap.Logger
	Runs      RunLister
	Anomalies AnomalyLister
}

type Server struct {
	db        *gorm.DB
	log       *zap.Logger
	runs      RunLister
	anomalies AnomalyLister
}

func NewServer(p Params) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		db:        p.DB,
		log:       log.Named("server"),
		runs:      p.Runs,
		anomalies: p.Anomalies,
	}
}

func NewEngine(obsCfg observability.Config, log *zap.Logger, s *Server) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.RequestID())
	r.Use(obstracing.GinMiddleware())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: logErrorClass,
	}))
	r.Use(renderErrors())

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/runs", s.ListRuns)
	v1.GET("/anomalies", s.ListAnomalies)

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger, s *Server) *gin.Engine {
	return NewEngine(obsCfg, log, s)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("ops server stopped", zap.String("addr", cfg.OpsAddr), zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Health reports ok when the database answers a ping.
func (s *Server) Health(c *gin.Context) {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err = sqlDB.PingContext(ctx)
			cancel()
		}
		if err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

// ListRuns returns the newest runs, newest first.
func (s *Server) ListRuns(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), defaultRunLimit)
	if err != nil {
		abort(c, err)
		return
	}
	runs, err := s.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		abort(c, err)
		return
	}
	if runs == nil {
		runs = []domain.ImportRun{}
	}
	c.JSON(http.StatusOK, listResponse[domain.ImportRun]{Data: runs})
}

// ListAnomalies returns stored findings, most severe first.
func (s *Server) ListAnomalies(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), defaultAnomalyLimit)
	if err != nil {
		abort(c, err)
		return
	}
	minSeverity, err := parseOptionalFloat(c.Query("min_severity"))
	if err != nil {
		abort(c, newValidationError("min_severity", "invalid_min_severity", "min_severity must be a number"))
		return
	}
	filter := domain.AnomalyFilter{Limit: limit}
	if minSeverity != nil {
		filter.MinSeverity = *minSeverity
	}
	if method := c.Query("method"); method != "" {
		m, err := anomaly.Lookup(method)
		if err != nil {
			abort(c, newValidationError("method", "invalid_method", err.Error()))
			return
		}
		filter.Method = m.Name()
	}

	records, err := s.anomalies.List(c.Request.Context(), filter)
	if err != nil {
		abort(c, err)
		return
	}
	if records == nil {
		records = []domain.PriceAnomaly{}
	}
	c.JSON(http.StatusOK, listResponse[domain.PriceAnomaly]{Data: records})
}
