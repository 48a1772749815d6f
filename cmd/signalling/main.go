package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httphandlers "pixelfleet/internal/handlers/http"
	"pixelfleet/internal/infrastructure/matchmaker"
	"pixelfleet/internal/infrastructure/middleware"
	"pixelfleet/internal/infrastructure/monitoring"
	signalrelay "pixelfleet/internal/infrastructure/signal"
	"pixelfleet/pkg/config"
	"pixelfleet/pkg/logger"
	"pixelfleet/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/pixelfleet/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "pixelfleet-signalling",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// ICE servers handed to every connecting peer
	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	metrics := monitoring.NewRelayCollector(prometheus.DefaultRegisterer)

	relay := signalrelay.NewRelay(signalrelay.Options{
		ProtocolVersion: cfg.Signalling.ProtocolVersion,
		PeerConnectionOptions: signalrelay.PeerConnectionOptions{
			ICEServers: iceServers,
		},
		PingInterval:          cfg.Signalling.PingInterval,
		WriteTimeout:          cfg.Signalling.WriteTimeout,
		MaxStreamIDs:          cfg.SFU.MaxStreamIDs,
		AllowStreamerFallback: cfg.SFU.AllowStreamerFallback,
	}, metrics, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Matchmaker control connection (optional)
	if cfg.Matchmaker.Enabled {
		client := matchmaker.NewClient(matchmaker.ClientConfig{
			Address:           cfg.Matchmaker.Address,
			PublicAddress:     cfg.Matchmaker.PublicAddress,
			PublicPort:        cfg.Matchmaker.PublicPort,
			PingInterval:      cfg.Matchmaker.PingInterval,
			ReconnectDelay:    cfg.Matchmaker.ReconnectDelay,
			MaxReconnectDelay: cfg.Matchmaker.MaxReconnectDelay,
		}, relay, log)
		go client.Run(ctx)
	}

	// One listener per peer role
	streamerMux := http.NewServeMux()
	streamerMux.HandleFunc("/", relay.HandleStreamer)
	streamerSrv := &http.Server{Addr: cfg.Signalling.StreamerAddress, Handler: streamerMux}

	playerMux := http.NewServeMux()
	playerMux.HandleFunc("/", relay.HandlePlayer)
	playerSrv := &http.Server{Addr: cfg.Signalling.PlayerAddress, Handler: playerMux}

	sfuMux := http.NewServeMux()
	sfuMux.HandleFunc("/", relay.HandleSFU)
	sfuSrv := &http.Server{Addr: cfg.Signalling.SFUAddress, Handler: sfuMux}

	// Status and metrics surface
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	statusHandler := httphandlers.NewStatusHandler(relay)
	statusHandler.SetupRoutes(router)
	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "healthy",
			"uptime": time.Since(startTime).String(),
		})
	})
	statusSrv := &http.Server{Addr: cfg.Status.Address, Handler: router}

	servers := map[string]*http.Server{
		"streamer": streamerSrv,
		"player":   playerSrv,
		"sfu":      sfuSrv,
		"status":   statusSrv,
	}

	serverErr := make(chan error, len(servers))
	for name, srv := range servers {
		name, srv := name, srv
		go func() {
			log.Infow("listening", "listener", name, "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("listener failed", "listener", name, "error", err)
				serverErr <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-serverErr:
		log.Error("shutting down after listener failure")
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signalling.ShutdownTimeout)
	defer shutdownCancel()

	for name, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during listener shutdown", "listener", name, "error", err)
			srv.Close()
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("signalling server stopped")
}
