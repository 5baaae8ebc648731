// Package webserver serves the detectbridge dashboard: the HTML page, the
// JSON API over the bridge and its store, and the /ws push channel.
package webserver

import (
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/worldsio/detectbridge"
	"github.com/worldsio/detectbridge/listener"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

//go:embed web
var assets embed.FS

// Server is the dashboard HTTP server.
type Server struct {
	cfg    *detectbridge.Config
	bridge *detectbridge.Bridge
	hub    *Hub
	logger *zap.Logger
	engine *gin.Engine
}

// New builds the dashboard for bridge. The dashboard credentials must be set
// and the bridge must have a repository.
func New(bridge *detectbridge.Bridge, hub *Hub, logger *zap.Logger) (*Server, error) {
	if bridge == nil || bridge.Config == nil {
		return nil, errors.New("webserver needs a configured bridge")
	}
	if err := bridge.Config.ValidateDashboard(); err != nil {
		return nil, err
	}
	if bridge.Repo == nil {
		return nil, detectbridge.ErrNoRepository
	}
	if hub == nil {
		return nil, errors.New("webserver needs a hub")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &Server{
		cfg:    bridge.Config,
		bridge: bridge,
		hub:    hub,
		logger: logger,
	}
	engine, err := server.routes()
	if err != nil {
		return nil, err
	}
	server.engine = engine
	return server, nil
}

func (s *Server) routes() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(s.logger))
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	engine.GET("/healthz", Health)

	page, err := fs.ReadFile(assets, "web/index.html")
	if err != nil {
		return nil, fmt.Errorf("reading dashboard page : %w", err)
	}

	authorized := engine.Group("/", gin.BasicAuth(gin.Accounts{
		s.cfg.DashboardUsername: s.cfg.DashboardPassword,
	}))
	authorized.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", page)
	})
	authorized.GET("/ws", gin.WrapH(s.hub))

	api := NewAPI(s.bridge)
	group := authorized.Group("/api")
	{
		group.POST("/run-queries", api.RunQueries)
		group.GET("/query-results", api.QueryResults)
		group.POST("/run-mutations", api.RunMutations)
		group.GET("/mutation-results", api.MutationResults)
		group.GET("/devices", api.Devices)
		group.GET("/events", api.Events)
		group.GET("/logs", api.Logs)
		group.GET("/subscriptions", api.Subscriptions)
		group.DELETE("/subscriptions/:device_id", api.StopSubscription)
	}
	database := group.Group("/database")
	{
		database.GET("/stats", api.DatabaseStats)
		database.GET("/detection-stats", api.DetectionStats)
		database.GET("/recent-detections", api.RecentDetections)
		database.GET("/detections-by-time", api.DetectionsByTime)
		database.GET("/tags", api.Tags)
		database.GET("/longest-tracks-per-tag", api.LongestTracks)
	}
	return engine, nil
}

// Handler returns the dashboard routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe listens on the configured dashboard address and serves until
// ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.DashboardAddr)
	if err != nil {
		return fmt.Errorf("listening on %s : %w", s.cfg.DashboardAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the dashboard on ln until ctx is done, then shuts the server
// down and disconnects the websocket clients. When a certificate is
// configured the listener accepts both TLS and plain HTTP.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.DashboardTLS() {
		cert, err := tls.LoadX509KeyPair(s.cfg.DashboardTLSCert, s.cfg.DashboardTLSKey)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading dashboard certificate : %w", err)
		}
		ln = listener.NewProtocolMuxListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}
	ln = listener.NewResilientListener(ln, s.logger.Named("listener"))

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", zap.String("addr", ln.Addr().String()), zap.Bool("tls", s.cfg.DashboardTLS()))
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving dashboard : %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	s.hub.Close()
	err := srv.Shutdown(shutdownCtx)
	<-serveErr
	if err != nil {
		return fmt.Errorf("shutting down dashboard : %w", err)
	}
	return nil
}

// requestLogger logs every request at debug level, and failures at warn.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
