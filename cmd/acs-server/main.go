// Package main implements the OpenCWMP ACS server.
//
// The server listens on two ports: the CWMP endpoint where devices post
// their SOAP sessions, and an operations endpoint with health, status,
// metrics and fleet administration routes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opencwmp/internal/admin"
	"opencwmp/internal/cwmp"
	"opencwmp/internal/store"
	"opencwmp/pkg/config"
	"opencwmp/pkg/events"
	"opencwmp/pkg/metrics"
	"opencwmp/pkg/version"

	"github.com/gin-gonic/gin"
)

// ACSServer wires the CWMP engine, the store and the ops surface together
type ACSServer struct {
	config    *config.Config
	store     *store.Store
	registry  *store.Registry
	queue     *store.TaskQueue
	engine    *cwmp.Engine
	publisher events.Publisher
	metrics   *metrics.ACSMetrics

	acsServer *http.Server
	opsServer *http.Server

	janitorCancel context.CancelFunc
}

func main() {
	log.Printf("🚀 Starting OpenCWMP ACS Server %s...", version.GetShortVersion())

	var showVersion = flag.Bool("version", false, "Show version information")
	var configPath = flag.String("config", "", "Path to configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion("OpenCWMP ACS Server"))
		return
	}

	server, err := NewACSServer(*configPath)
	if err != nil {
		log.Fatalf("Failed to create ACS server: %v", err)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start ACS server: %v", err)
	}

	server.handleShutdown()
}

func NewACSServer(configPath string) (*ACSServer, error) {
	var cfg *config.Config
	if configPath != "" {
		cfg = config.LoadWithPath(configPath)
	} else {
		cfg = config.Load()
	}

	server := &ACSServer{
		config:  cfg,
		metrics: metrics.NewACSMetrics("acs-server"),
	}

	// Database
	st, err := store.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	server.store = st
	server.registry = store.NewRegistry(st)
	server.queue = store.NewTaskQueue(st)
	if cfg.ACS.TaskMaxAttempts > 0 {
		server.queue.SetMaxAttempts(cfg.ACS.TaskMaxAttempts)
	}

	// Event publishing is optional; no brokers means no publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		server.publisher = publisher
	} else {
		log.Printf("⚠️ No Kafka brokers configured, event publishing disabled")
		server.publisher = events.Nop()
	}

	// Session engine
	server.engine = cwmp.NewEngine(server.registry, server.queue, server.publisher, server.metrics, cwmp.EngineConfig{
		Username:       cfg.ACS.Username,
		Password:       cfg.ACS.Password,
		AuthEnabled:    cfg.ACS.AuthEnabled,
		MaxBodyBytes:   cfg.ACS.MaxBodyBytes,
		SessionTimeout: parseDuration(cfg.ACS.SessionTimeout, 60*time.Second),
	})

	server.setupACSServer()
	server.setupOpsServer()

	return server, nil
}

// parseDuration parses a config duration string, falling back on empty or
// malformed values
func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️ Invalid duration %q, using %v", raw, fallback)
		return fallback
	}
	return d
}

func (s *ACSServer) setupACSServer() {
	s.acsServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.ACSPort),
		Handler:      s.engine,
		ReadTimeout:  parseDuration(s.config.Server.ReadTimeout, 30*time.Second),
		WriteTimeout: parseDuration(s.config.Server.WriteTimeout, 30*time.Second),
		IdleTimeout:  parseDuration(s.config.Server.IdleTimeout, 120*time.Second),
	}
}

func (s *ACSServer) setupOpsServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/health", s.healthHandler)
	router.GET("/status", s.statusHandler)
	router.GET("/metrics", gin.WrapH(metrics.HTTPHandler()))

	window := parseDuration(s.config.ACS.OnlineWindow, store.DefaultOnlineWindow)
	adminService := admin.NewService(s.registry, s.queue, s.metrics, window)
	adminHandlers := admin.NewHandlers(adminService)

	v1 := router.Group("/api/v1")
	adminHandlers.Register(v1)

	s.opsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Server.OpsPort),
		Handler: router,
	}
}

func (s *ACSServer) healthHandler(c *gin.Context) {
	dbStatus := "connected"
	if err := s.store.Ping(); err != nil {
		dbStatus = "disconnected"
	}

	c.JSON(http.StatusOK, gin.H{
		"service":   "opencwmp-acs-server",
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"acs_port":  s.config.Server.ACSPort,
		"ops_port":  s.config.Server.OpsPort,
		"database":  dbStatus,
	})
}

func (s *ACSServer) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":         "opencwmp-acs-server",
		"status":          "running",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"acs_port":        s.config.Server.ACSPort,
		"ops_port":        s.config.Server.OpsPort,
		"active_sessions": s.engine.SessionCount(),
		"build":           version.GetBuildInfo("acs-server"),
	})
}

func (s *ACSServer) Start() error {
	log.Printf("🎯 ACS Server starting:")
	log.Printf("   └── CWMP Port: %d", s.config.Server.ACSPort)
	log.Printf("   └── Ops Port: %d", s.config.Server.OpsPort)

	go s.startACSServer()
	go s.startOpsServer()

	// Session janitor requeues tasks stuck behind abandoned sessions
	janitorCtx, cancel := context.WithCancel(context.Background())
	s.janitorCancel = cancel
	interval := parseDuration(s.config.ACS.JanitorInterval, 30*time.Second)
	go s.engine.RunJanitor(janitorCtx, interval)

	log.Printf("🚀 ACS Server started successfully")
	log.Printf("   └── CWMP Endpoint: http://localhost:%d/", s.config.Server.ACSPort)
	log.Printf("   └── Health Check: http://localhost:%d/health", s.config.Server.OpsPort)
	log.Printf("   └── API: http://localhost:%d/api/v1", s.config.Server.OpsPort)

	return nil
}

func (s *ACSServer) startACSServer() {
	log.Printf("🔌 Starting CWMP endpoint on port %d", s.config.Server.ACSPort)
	if err := s.acsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start CWMP endpoint: %v", err)
	}
}

func (s *ACSServer) startOpsServer() {
	log.Printf("🔌 Starting ops endpoint on port %d", s.config.Server.OpsPort)
	if err := s.opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start ops endpoint: %v", err)
	}
}

func (s *ACSServer) Stop() {
	log.Printf("🛑 Shutting down ACS Server...")

	if s.janitorCancel != nil {
		s.janitorCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.acsServer != nil {
		s.acsServer.Shutdown(ctx)
	}
	if s.opsServer != nil {
		s.opsServer.Shutdown(ctx)
	}

	if s.publisher != nil {
		s.publisher.Close()
	}

	if s.store != nil {
		s.store.Close()
	}

	log.Printf("✅ ACS Server stopped successfully")
}

func (s *ACSServer) handleShutdown() {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	sig := <-signalChan
	log.Printf("🔔 Received signal: %v", sig)

	s.Stop()
}
