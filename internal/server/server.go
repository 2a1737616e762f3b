package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/digitraceslab/koota/internal/adapter"
	apikeydomain "github.com/digitraceslab/koota/internal/apikey/domain"
	"github.com/digitraceslab/koota/internal/authorization"
	"github.com/digitraceslab/koota/internal/clock"
	"github.com/digitraceslab/koota/internal/config"
	"github.com/digitraceslab/koota/internal/converter"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	groupdomain "github.com/digitraceslab/koota/internal/group/domain"
	ingestdomain "github.com/digitraceslab/koota/internal/ingest/domain"
	"github.com/digitraceslab/koota/internal/observability"
	obsmiddleware "github.com/digitraceslab/koota/internal/observability/logger"
	obsmetrics "github.com/digitraceslab/koota/internal/observability/metrics"
	obstracing "github.com/digitraceslab/koota/internal/observability/tracing"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"github.com/digitraceslab/koota/internal/safehash"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine   *gin.Engine
	log      *zap.Logger
	cfg      config.Config
	clock    clock.Clock
	registry *adapter.Registry
	devices  devicedomain.Service
	ingest   ingestdomain.Service
	store    rawdomain.Store
	groups   groupdomain.Service
	authz    authorization.Service
	apiKeys  apikeydomain.Service
	secrets  safehash.Secrets
	metrics  *obsmetrics.Metrics
	runner   *converter.Runner
	certs    []certificate
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Log      *zap.Logger
	Cfg      config.Config
	Settings config.Settings
	Clock    clock.Clock
	Registry *adapter.Registry
	Devices  devicedomain.Service
	Ingest   ingestdomain.Service
	Store    rawdomain.Store
	Groups   groupdomain.Service
	AuthzSvc authorization.Service
	APIKeys  apikeydomain.Service
	Secrets  safehash.Secrets
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) (*Server, error) {
	log := p.Log.Named("http.server")
	certs, err := loadCertificates(p.Settings.Certs)
	if err != nil {
		return nil, err
	}
	svc := &Server{
		engine:   p.Gin,
		log:      log,
		cfg:      p.Cfg,
		clock:    p.Clock,
		registry: p.Registry,
		devices:  p.Devices,
		ingest:   p.Ingest,
		store:    p.Store,
		groups:   p.Groups,
		authz:    p.AuthzSvc,
		apiKeys:  p.APIKeys,
		secrets:  p.Secrets,
		metrics:  p.Metrics,
		runner:   converter.NewRunner(log, converter.WithErrorHook(p.Metrics.ConverterError)),
		certs:    certs,
	}

	svc.engine.Use(svc.LoginURL(), svc.Identify())
	svc.registerIngestRoutes()
	svc.registerDeviceRoutes()
	svc.registerAdapterRoutes()
	svc.registerAPIRoutes()

	return svc, nil
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerIngestRoutes() {
	s.engine.POST("/post", s.Ingest)
	s.engine.POST("/post/:id", s.Ingest)

	// Adapters that parse their own envelope get a dedicated endpoint.
	for _, e := range s.registry.Entries() {
		if _, ok := e.Adapter.(adapter.PreIngester); !ok {
			continue
		}
		h := s.IngestAs(e.Name)
		s.engine.POST("/post/"+e.Name, h)
		s.engine.POST("/post/"+e.Name+"/:id", h)
	}
}

func (s *Server) registerDeviceRoutes() {
	s.engine.GET("/config", s.DeviceConfig)
	s.engine.GET("/devices/:public_id/qr.png", s.DeviceQRCode)
}

// registerAdapterRoutes mounts the routes adapters serve themselves, such
// as the AWARE protocol and OAuth callbacks.
func (s *Server) registerAdapterRoutes() {
	for _, e := range s.registry.Entries() {
		if rp, ok := e.Adapter.(adapter.RouteProvider); ok {
			rp.Routes(s.engine)
			s.log.Debug("adapter routes mounted", zap.String("adapter", e.Name))
		}
	}
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ErrorHandlingMiddleware(), s.UserRequired())

	api.GET("/device-types", s.ListDeviceTypes)
	api.GET("/devices", s.ListDevices)
	api.POST("/devices", s.CreateDevice)
	api.GET("/devices/:public_id", s.GetDevice)
	api.GET("/devices/:public_id/converters", s.ListConverters)
	api.GET("/devices/:public_id/data/:converter", s.ExportData)

	api.GET("/groups", s.ListGroups)
	api.POST("/groups/join", s.JoinGroup)
	api.POST("/groups/:slug/leave", s.LeaveGroup)
	api.POST("/groups/:slug/researchers", s.GrantResearcher)
	api.DELETE("/groups/:slug/researchers/:user", s.RevokeResearcher)

	api.GET("/api-keys", s.ListAPIKeys)
	api.POST("/api-keys", s.CreateAPIKey)
	api.POST("/api-keys/:key_id/rotate", s.RotateAPIKey)
	api.POST("/api-keys/:key_id/revoke", s.RevokeAPIKey)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
