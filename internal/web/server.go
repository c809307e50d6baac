// Package web serves the browser dashboard and its JSON/SSE API.
package web

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/clarabennett2626/serialdash/internal/dashboard"
	"github.com/clarabennett2626/serialdash/internal/observability"
	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/stream"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

//go:embed index.html
var indexHTML []byte

var defaultTrustedProxies = []string{"127.0.0.1", "::1"}

const (
	defaultHeartbeat = 15 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Config configures the HTTP server.
type Config struct {
	Addr        string
	CORSOrigins []string
	// TrustedProxies may set X-Forwarded-For; nil means loopback.
	TrustedProxies []string
	// Metrics instruments requests when set.
	Metrics *observability.Metrics
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// Server exposes a dashboard.State over HTTP.
type Server struct {
	state     *dashboard.State
	router    *gin.Engine
	addr      string
	log       zerolog.Logger
	started   time.Time
	heartbeat time.Duration
}

// RecordView is the JSON form of a dashboard snapshot.
type RecordView struct {
	Record  parser.Record     `json:"record"`
	Widgets dashboard.Widgets `json:"widgets"`
	Status  string            `json:"status"`
	Error   string            `json:"error,omitempty"`
	Updated *time.Time        `json:"updated,omitempty"`
	Records int64             `json:"records"`
	Source  string            `json:"source"`
}

// ViewOf converts a snapshot to its JSON form.
func ViewOf(snap dashboard.Snapshot) RecordView {
	v := RecordView{
		Record:  snap.Record,
		Widgets: dashboard.WidgetsFor(snap.Record),
		Status:  snap.Status.String(),
		Records: snap.Records,
		Source:  snap.Source,
	}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}
	if !snap.Updated.IsZero() {
		u := snap.Updated
		v.Updated = &u
	}
	return v
}

// New builds the router for state.
func New(state *dashboard.State, cfg Config) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(observability.RequestMetricsMiddleware(cfg.Metrics))
	}
	if origins := normalizeOrigins(cfg.CORSOrigins); len(origins) > 0 {
		cc := cors.Config{
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type", "Cache-Control"},
			MaxAge:       12 * time.Hour,
		}
		if len(origins) == 1 && origins[0] == "*" {
			cc.AllowAllOrigins = true
		} else {
			cc.AllowOrigins = origins
		}
		r.Use(cors.New(cc))
	}
	proxies := cfg.TrustedProxies
	if proxies == nil {
		proxies = defaultTrustedProxies
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		cfg.Logger.Warn().Err(err).Strs("proxies", proxies).Msg("invalid trusted proxies, trusting loopback only")
		_ = r.SetTrustedProxies(defaultTrustedProxies)
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		state:     state,
		router:    r,
		addr:      cfg.Addr,
		log:       cfg.Logger,
		started:   time.Now(),
		heartbeat: defaultHeartbeat,
	}
	s.routes(gatherer)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})

	s.router.GET("/api/record", func(c *gin.Context) {
		c.JSON(http.StatusOK, ViewOf(s.state.Snapshot()))
	})

	s.router.GET("/api/events", s.handleEvents)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "serialdash",
			"stream":  s.state.Snapshot().Status.String(),
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		snap := s.state.Snapshot()
		status := http.StatusOK
		if snap.Status != stream.StatusConnected {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  status == http.StatusOK,
			"stream": snap.Status.String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// handleEvents streams a snapshot event on connect and after every
// change. Slow clients skip intermediate snapshots.
func (s *Server) handleEvents(c *gin.Context) {
	updates, cancel := s.state.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("snapshot", ViewOf(s.state.Snapshot()))
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			c.SSEvent("snapshot", ViewOf(snap))
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
		}
		c.Writer.Flush()
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe listens on the configured address and serves until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("web server: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down. Request
// contexts derive from ctx so open event streams end with it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("web dashboard listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
