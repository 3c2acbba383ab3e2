package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ugoira-transcoder/internal/cache"
	"ugoira-transcoder/internal/database"
	"ugoira-transcoder/internal/encoder"
	"ugoira-transcoder/internal/frame"
	"ugoira-transcoder/internal/handlers"
	"ugoira-transcoder/internal/logging"
	"ugoira-transcoder/internal/memory"
	"ugoira-transcoder/internal/metrics"
	"ugoira-transcoder/internal/middleware"
	"ugoira-transcoder/internal/startup"
	"ugoira-transcoder/internal/streaming"
	"ugoira-transcoder/internal/transcode"
	"ugoira-transcoder/internal/upstream"

	"github.com/gorilla/mux"
)

const (
	shutdownTimeout   = 30 * time.Second
	collectorInterval = time.Minute
)

func main() {
	startTime := time.Now()

	// Configure GOMEMLIMIT before anything allocates heavily
	memResult := memory.ConfigureFromEnv()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	startup.LogMemoryConfig(memResult)

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn("Database close error: %v", err)
		}
	}()
	schemaVersion, err := db.SchemaVersion(context.Background())
	if err != nil {
		startup.LogFatal("Failed to read database schema version: %v", err)
	}
	startup.LogDatabaseInit(db.Path(), schemaVersion, time.Since(dbStart))

	// Transcode cache (optional)
	var store *cache.Cache
	if config.CacheEnabled {
		store, err = cache.New(config.CacheDir, db)
		if err != nil {
			logging.Warn("Transcode cache disabled: %v", err)
			store = nil
		}
	}

	// Frame decoder
	decoderName, decoder := newDecoder(config.Decoder)

	// Encoder
	encoderName := startup.ResolveEncoder(config)
	enc, err := encoder.New(encoder.Config{
		Name:        encoderName,
		Decoder:     decoder,
		FFmpegPath:  config.FFmpegPath,
		JPEGQuality: config.JPEGQuality,
		Preset:      config.X264Preset,
		CRF:         config.X264CRF,
	})
	if err != nil {
		startup.LogFatal("Failed to create encoder: %v", err)
	}
	logging.Info("  [OK] Frames decoded with %s, encoded with %s", decoderName, enc.Name())

	// Upstream client
	client, err := upstream.New(upstream.Config{
		BaseURL:         config.APIBase,
		UserAgent:       config.UserAgent,
		Cookie:          config.UpstreamCookie,
		Timeout:         config.UpstreamTimeout,
		MaxArchiveBytes: config.MaxArchiveBytes,
	})
	if err != nil {
		startup.LogFatal("Failed to create upstream client: %v", err)
	}

	// Memory monitor gates transcode admission
	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()

	// Metrics
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
	metrics.InitializeMetrics(enc.Name())
	collector := metrics.NewCollector(statsProvider(store), collectorInterval)
	collector.Start()

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(config.MetricsPort)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Initialize handlers
	opts := handlers.Options{
		Upstream:   client,
		Transcoder: transcode.New(enc, config.MaxOutputBytes),
		Ledger:     db,
		Memory:     monitor,
		Workers:    config.TranscodeWorkers,
		Timeout:    config.TranscodeTimeout,
		Streaming:  streaming.DefaultConfig(),
	}
	if store != nil {
		opts.Cache = store
	}
	h := handlers.New(opts)

	// Setup router
	router := setupRouter(h)

	// Log routes dynamically
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	// Apply logging middleware
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	loggedHandler := middleware.Logger(loggingConfig)(router)

	// Apply compression middleware
	handler := middleware.Compression(middleware.DefaultCompressionConfig())(loggedHandler)

	// Create server. Response writes are bounded per chunk by the
	// streaming package, so the server itself has no write timeout.
	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	// Start graceful shutdown handler
	done := make(chan struct{})
	go handleShutdown(srv, shutdownDeps{
		encoder:   enc,
		monitor:   monitor,
		collector: collector,
		metrics:   metricsSrv,
		vips:      decoderName == startup.DecoderVips,
	}, done)

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		Encoder:         enc.Name(),
		Workers:         config.TranscodeWorkers,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

// newDecoder returns the configured frame decoder, falling back to the
// standard library decoder when libvips cannot start.
func newDecoder(name string) (string, frame.Decoder) {
	if name != startup.DecoderVips {
		startup.LogDecoderInit(startup.DecoderStd, nil)
		return startup.DecoderStd, frame.StdDecoder{}
	}
	if err := frame.InitVips(); err != nil {
		startup.LogDecoderInit(startup.DecoderVips, err)
		return startup.DecoderStd, frame.StdDecoder{}
	}
	startup.LogDecoderInit(startup.DecoderVips, nil)
	return startup.DecoderVips, frame.VipsDecoder{}
}

// statsProvider keeps a disabled cache out of the collector.
func statsProvider(store *cache.Cache) metrics.StatsProvider {
	if store == nil {
		return nil
	}
	return store
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	// Health check and version routes
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	// Transcoding
	r.HandleFunc("/ugoira/{id:[0-9]+}", h.ServeUgoira).Methods(http.MethodGet, http.MethodHead)

	// Cache administration
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/transcodes", h.ListTranscodes).Methods(http.MethodGet)
	api.HandleFunc("/transcode/clear", h.ClearTranscodeCache).Methods(http.MethodPost)

	return r
}

func newMetricsServer(port string) *http.Server {
	m := http.NewServeMux()
	m.Handle("/metrics", handlers.MetricsHandler())
	return &http.Server{
		Addr:         ":" + port,
		Handler:      m,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

type shutdownDeps struct {
	encoder   encoder.Encoder
	monitor   *memory.Monitor
	collector *metrics.Collector
	metrics   *http.Server
	vips      bool
}

func handleShutdown(srv *http.Server, deps shutdownDeps, done chan<- struct{}) {
	defer close(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Transcodes still waiting for memory give up with 503
	startup.LogShutdownStep("Stopping memory monitor")
	deps.monitor.Stop()
	startup.LogShutdownStepComplete("Memory monitor stopped")

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if h264, ok := deps.encoder.(*encoder.H264); ok {
		startup.LogShutdownStep("Stopping ffmpeg processes")
		h264.Cleanup()
		startup.LogShutdownStepComplete("Encoder cleanup complete")
	}

	startup.LogShutdownStep("Stopping metrics collector")
	deps.collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	if deps.metrics != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := deps.metrics.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	if deps.vips {
		frame.ShutdownVips()
	}

	startup.LogShutdownComplete()
}
