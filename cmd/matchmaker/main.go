package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pixelfleet/internal/core/ports"
	httphandlers "pixelfleet/internal/handlers/http"
	"pixelfleet/internal/infrastructure/distributed"
	"pixelfleet/internal/infrastructure/matchmaker"
	"pixelfleet/internal/infrastructure/middleware"
	"pixelfleet/internal/infrastructure/monitoring"
	"pixelfleet/pkg/config"
	"pixelfleet/pkg/logger"
	"pixelfleet/pkg/tracing"
	"pixelfleet/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
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
		ServiceName: "pixelfleet-matchmaker",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Optional Redis event mirror
	var publisher ports.FleetEventPublisher
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		publisher = distributed.NewEventBus(redisClient, cfg.Redis.Channel, utils.GenerateUnitID(), log)
		defer publisher.Close()
	}

	metrics := monitoring.NewFleetCollector(prometheus.DefaultRegisterer)

	allocator := matchmaker.NewAllocator(
		cfg.Fleet.ClaimWindow,
		cfg.Fleet.StalenessTimeout,
		metrics,
		publisher,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Control plane listener for capacity units
	ln, err := net.Listen("tcp", cfg.Fleet.ControlAddress)
	if err != nil {
		log.Fatalw("failed to listen on control address", "address", cfg.Fleet.ControlAddress, "error", err)
	}

	controlSrv := matchmaker.NewServer(allocator, cfg.Fleet.SweepInterval, metrics, log)
	controlErr := make(chan error, 1)
	go func() {
		log.Infow("control plane listening", "address", cfg.Fleet.ControlAddress)
		if err := controlSrv.Serve(ctx, ln); err != nil && ctx.Err() == nil {
			controlErr <- err
		}
	}()

	// Viewer placement HTTP surface
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.NewRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	fleetHandler := httphandlers.NewFleetHandler(allocator)
	fleetHandler.SetupRoutes(router)
	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "healthy",
			"uptime": time.Since(startTime).String(),
		})
	})

	httpSrv := &http.Server{
		Addr:    cfg.Fleet.HTTPAddress,
		Handler: router,
	}

	httpErr := make(chan error, 1)
	go func() {
		log.Infow("placement api listening", "address", cfg.Fleet.HTTPAddress)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-controlErr:
		log.Errorw("control plane failed", "error", err)
	case err := <-httpErr:
		log.Errorw("placement api failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during http shutdown", "error", err)
		httpSrv.Close()
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("matchmaker stopped")
}
