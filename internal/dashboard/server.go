// Package dashboard serves the live analysis state, published records and
// recent logs over a JSON API.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"digitflow/config"
	"digitflow/internal/metrics"
	"digitflow/internal/transition"
	"digitflow/logger"
	"digitflow/models"
	"digitflow/processor"
)

// Source is the live analysis state behind the API.
type Source interface {
	States() []processor.State
	State(symbol string) (processor.State, bool)
	Predict(symbol string) (models.Prediction, bool)
	Transitions(symbol string) (transition.Matrix, bool)
	Reset(symbol string) bool
}

// SignalSource exposes the actionable signal history.
type SignalSource interface {
	Signals() []models.Signal
	Clear()
}

// Selector switches the tracked instrument of an interactive session.
type Selector func(ctx context.Context, symbol string) error

type Option func(*Server)

func WithSignals(s SignalSource) Option { return func(srv *Server) { srv.signals = s } }

func WithSelector(sel Selector) Option { return func(srv *Server) { srv.selector = sel } }

// Server hosts the gin dashboard API.
type Server struct {
	cfg             config.DashboardConfig
	log             *logger.Log
	source          Source
	signals         SignalSource
	selector        Selector
	markets         *MarketStore
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, log *logger.Log, source Source, opts ...Option) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if source == nil {
		return nil, errors.New("dashboard requires an analysis source")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	s := &Server{
		cfg:             cfg,
		log:             log,
		source:          source,
		markets:         NewMarketStore(),
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   metrics.RegisterMetricHandler(metricStore.handle),
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Markets is the publish sink holding the latest record per symbol.
func (s *Server) Markets() *MarketStore {
	if s == nil {
		return nil
	}
	return s.markets
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}
	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithComponent("dashboard").WithField("address", s.cfg.Address).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"app":         appName,
			"status":      "ok",
			"instruments": len(s.source.States()),
			"refreshMs":   s.cfg.RefreshInterval.Milliseconds(),
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.GET("/markets", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"markets": s.markets.Records()})
	})
	api.GET("/markets/:symbol", func(c *gin.Context) {
		rec, ok := s.markets.Get(c.Param("symbol"))
		if !ok {
			notFound(c, c.Param("symbol"))
			return
		}
		c.JSON(http.StatusOK, rec)
	})
	api.GET("/markets/:symbol/state", func(c *gin.Context) {
		st, ok := s.source.State(c.Param("symbol"))
		if !ok {
			notFound(c, c.Param("symbol"))
			return
		}
		c.JSON(http.StatusOK, st)
	})
	api.GET("/markets/:symbol/prediction", func(c *gin.Context) {
		p, ok := s.source.Predict(c.Param("symbol"))
		if !ok {
			notFound(c, c.Param("symbol"))
			return
		}
		c.JSON(http.StatusOK, p)
	})
	api.GET("/markets/:symbol/transitions", func(c *gin.Context) {
		m, ok := s.source.Transitions(c.Param("symbol"))
		if !ok {
			notFound(c, c.Param("symbol"))
			return
		}
		total := 0
		for _, row := range m {
			for _, n := range row {
				total += n
			}
		}
		c.JSON(http.StatusOK, gin.H{"symbol": c.Param("symbol"), "matrix": m, "total": total})
	})
	api.POST("/markets/:symbol/reset", func(c *gin.Context) {
		if !s.source.Reset(c.Param("symbol")) {
			notFound(c, c.Param("symbol"))
			return
		}
		s.markets.Forget(c.Param("symbol"))
		c.Status(http.StatusNoContent)
	})
	api.GET("/states", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"states": s.source.States()})
	})

	api.GET("/signals", func(c *gin.Context) {
		signals := []models.Signal{}
		if s.signals != nil {
			signals = s.signals.Signals()
		}
		c.JSON(http.StatusOK, gin.H{"signals": signals})
	})
	api.DELETE("/signals", func(c *gin.Context) {
		if s.signals != nil {
			s.signals.Clear()
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/select", func(c *gin.Context) {
		if s.selector == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "instrument selection is not available"})
			return
		}
		var req struct {
			Symbol string `json:"symbol" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.selector(c.Request.Context(), strings.ToUpper(strings.TrimSpace(req.Symbol))); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.markets.Clear()
		c.JSON(http.StatusAccepted, gin.H{"symbol": req.Symbol})
	})

	api.GET("/metrics", func(c *gin.Context) {
		snapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(snapshot))
		for _, m := range snapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})
	api.GET("/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
	})
	api.GET("/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	return router, nil
}

func notFound(c *gin.Context, symbol string) {
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown instrument", "symbol": symbol})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
