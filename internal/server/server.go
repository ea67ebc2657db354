package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/settlr/internal/config"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/effectiveview"
	"github.com/smallbiznis/settlr/internal/intake"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
	"github.com/smallbiznis/settlr/internal/observability"
	obslogger "github.com/smallbiznis/settlr/internal/observability/logger"
	obstracing "github.com/smallbiznis/settlr/internal/observability/tracing"
	"github.com/smallbiznis/settlr/internal/report"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(New),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

// maxUploadBytes bounds multipart job submissions.
const maxUploadBytes = 64 << 20

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())
	r.MaxMultipartMemory = 8 << 20

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http.server.start", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.server.failed", zap.Error(err))
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

type Params struct {
	fx.In

	Engine   *gin.Engine
	Log      *zap.Logger
	Intake   *intake.Service
	Jobs     jobdomain.Service
	Datasets datasetdomain.Service
	Builder  *effectiveview.Builder
	Reports  *report.Service
}

type Server struct {
	engine   *gin.Engine
	log      *zap.Logger
	intake   *intake.Service
	jobs     jobdomain.Service
	datasets datasetdomain.Service
	builder  *effectiveview.Builder
	reports  *report.Service
}

// New wires the API routes onto the engine.
func New(p Params) *Server {
	s := &Server{
		engine:   p.Engine,
		log:      p.Log.Named("http.server"),
		intake:   p.Intake,
		jobs:     p.Jobs,
		datasets: p.Datasets,
		builder:  p.Builder,
		reports:  p.Reports,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	jobs := v1.Group("/jobs")
	jobs.POST("", s.CreateJob)
	jobs.GET("", s.ListJobs)
	jobs.GET("/:id", s.GetJob)

	period := v1.Group("/datasets/:tenant/:platform/:year/:month")
	period.GET("", s.GetDataset)
	period.DELETE("", s.ClearDataset)
	period.GET("/facts", s.ListFacts)
	period.GET("/aggregates", s.ListAggregates)
	period.GET("/report.pdf", s.DownloadReport)
}
