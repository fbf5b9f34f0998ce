package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neogan74/auditlens/internal/anomaly"
	"github.com/neogan74/auditlens/internal/auth"
	"github.com/neogan74/auditlens/internal/config"
	"github.com/neogan74/auditlens/internal/envelope"
	"github.com/neogan74/auditlens/internal/geo"
	"github.com/neogan74/auditlens/internal/handlers"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/metrics"
	"github.com/neogan74/auditlens/internal/middleware"
	"github.com/neogan74/auditlens/internal/notify"
	"github.com/neogan74/auditlens/internal/recorder"
	"github.com/neogan74/auditlens/internal/retention"
	"github.com/neogan74/auditlens/internal/review"
	"github.com/neogan74/auditlens/internal/screening"
	"github.com/neogan74/auditlens/internal/search"
	"github.com/neogan74/auditlens/internal/seal"
	"github.com/neogan74/auditlens/internal/store"
	"github.com/neogan74/auditlens/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Builder wires auditlens application dependencies.
type Builder struct {
	cfg            *config.Config
	version        string
	logger         logger.Logger
	fiberApp       *fiber.App
	store          store.Store
	builder        *envelope.Builder
	hub            *notify.Hub
	notifier       notify.Notifier
	recorder       *recorder.Recorder
	dispatcher     *recorder.Dispatcher
	retention      *retention.Manager
	sweeper        *retention.Sweeper
	jwtService     *auth.JWTService
	tracerProvider *telemetry.TracerProvider
	closers        []func()
}

// NewBuilder creates a new application builder.
func NewBuilder(cfg *config.Config, version string) *Builder {
	return &Builder{cfg: cfg, version: version}
}

// Build assembles the auditlens application components.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	b.initLogger()
	b.recordStartupMetrics()
	b.initFiber()
	b.initTracing(ctx)
	b.initMiddleware()

	if err := b.initStore(ctx); err != nil {
		b.cleanupOnError()
		return nil, err
	}

	if err := b.initEnvelope(); err != nil {
		b.cleanupOnError()
		return nil, err
	}

	if err := b.initNotifiers(); err != nil {
		b.cleanupOnError()
		return nil, err
	}

	b.initWritePath()
	b.initRetention()
	b.initHandlers()

	return &App{
		cfg:            b.cfg,
		version:        b.version,
		logger:         b.logger,
		fiberApp:       b.fiberApp,
		sweeper:        b.sweeper,
		tracerProvider: b.tracerProvider,
		closers:        b.closers,
	}, nil
}

func (b *Builder) initLogger() {
	if b.logger == nil {
		b.logger = logger.NewFromConfig(b.cfg.Log.Level, b.cfg.Log.Format)
	}
	logger.SetDefault(b.logger)
}

func (b *Builder) recordStartupMetrics() {
	metrics.BuildInfo.WithLabelValues(b.version, runtime.Version()).Set(1)

	b.logger.Info("Starting auditlens",
		logger.String("version", b.version),
		logger.String("address", b.cfg.Address()),
		logger.String("log_level", b.cfg.Log.Level),
		logger.String("log_format", b.cfg.Log.Format),
		logger.String("storage_engine", b.cfg.Storage.Engine),
		logger.Bool("auth_enabled", b.cfg.Auth.Enabled),
	)
}

func (b *Builder) initFiber() {
	b.fiberApp = fiber.New(fiber.Config{
		AppName:               "auditlens",
		DisableStartupMessage: true,
		ReadTimeout:           b.cfg.Server.ReadTimeout,
		WriteTimeout:          b.cfg.Server.WriteTimeout,
		BodyLimit:             b.cfg.Server.BodyLimit,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          middleware.ErrorHandler,
	})
}

func (b *Builder) initTracing(ctx context.Context) {
	tracingCfg := telemetry.TracingConfig{
		Enabled:        b.cfg.Tracing.Enabled,
		Endpoint:       b.cfg.Tracing.Endpoint,
		ServiceName:    b.cfg.Tracing.ServiceName,
		ServiceVersion: b.cfg.Tracing.ServiceVersion,
		Environment:    b.cfg.Tracing.Environment,
		SamplingRatio:  b.cfg.Tracing.SamplingRatio,
		InsecureConn:   b.cfg.Tracing.InsecureConn,
	}

	provider, err := telemetry.InitTracing(ctx, tracingCfg)
	if err != nil {
		b.logger.Error("Failed to initialize tracing", logger.Error(err))
		return
	}

	if b.cfg.Tracing.Enabled {
		b.logger.Info("OpenTelemetry tracing initialized",
			logger.String("endpoint", b.cfg.Tracing.Endpoint),
			logger.String("service_name", b.cfg.Tracing.ServiceName),
		)

		b.addCloser(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				b.logger.Error("Failed to shutdown tracer provider", logger.Error(err))
			}
		})
	}

	b.tracerProvider = provider
}

func (b *Builder) initMiddleware() {
	if b.cfg.Tracing.Enabled {
		b.fiberApp.Use(middleware.TracingMiddleware(b.cfg.Tracing.ServiceName))
	}
	b.fiberApp.Use(middleware.RequestLogging(b.logger))
	if b.cfg.Metrics.Enabled {
		b.fiberApp.Use(middleware.MetricsMiddleware(b.cfg.Metrics.Path))
	}

	if b.cfg.Auth.Enabled {
		b.jwtService = auth.NewJWTService(b.cfg.Auth.JWTSecret, b.cfg.Auth.TokenExpiry, b.cfg.Auth.Issuer)
		b.fiberApp.Use(middleware.JWTAuth(b.jwtService, b.cfg.Auth.PublicPaths))
		b.logger.Info("JWT authentication enabled",
			logger.Strings("public_paths", b.cfg.Auth.PublicPaths),
			logger.Strings("reviewer_roles", b.cfg.Auth.ReviewerRole))
	}
}

func (b *Builder) initStore(ctx context.Context) error {
	s, err := store.New(ctx, store.Config{
		Engine:          b.cfg.Storage.Engine,
		DataDir:         b.cfg.Storage.DataDir,
		SyncWrites:      b.cfg.Storage.SyncWrites,
		GCInterval:      b.cfg.Storage.GCInterval,
		MongoURI:        b.cfg.Storage.MongoURI,
		MongoDatabase:   b.cfg.Storage.MongoDatabase,
		MongoCollection: b.cfg.Storage.MongoCollection,
		ConnectTimeout:  b.cfg.Storage.QueryTimeout,
	}, b.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event store: %w", err)
	}

	b.store = store.Instrument(s)

	b.addCloser(func() {
		if err := b.store.Close(); err != nil {
			b.logger.Error("Failed to close event store", logger.Error(err))
		}
	})

	return nil
}

func (b *Builder) initEnvelope() error {
	opts := []envelope.Option{
		envelope.WithTTL(b.cfg.Retention.RecordTTL),
		envelope.WithLogger(b.logger),
		envelope.WithUAParser(envelope.MssolaParser{}),
	}

	if b.cfg.Seal.Enabled {
		sealer, err := seal.NewAESSealer(b.cfg.Seal.Key)
		if err != nil {
			return fmt.Errorf("failed to initialize field sealing: %w", err)
		}
		opts = append(opts, envelope.WithSealer(sealer))
		b.logger.Info("Sensitive field sealing enabled")
	}

	if b.cfg.Geo.Enabled {
		opts = append(opts, envelope.WithGeo(geo.NewHTTPResolver(geo.Config{
			Endpoint:  b.cfg.Geo.Endpoint,
			Timeout:   b.cfg.Geo.Timeout,
			CacheSize: b.cfg.Geo.CacheSize,
			CacheTTL:  b.cfg.Geo.CacheTTL,
		}, b.logger)))
		b.logger.Info("Geolocation enabled", logger.String("endpoint", b.cfg.Geo.Endpoint))
	}

	b.builder = envelope.NewBuilder(opts...)
	return nil
}

func (b *Builder) initNotifiers() error {
	var notifiers []notify.Notifier

	if b.cfg.Notify.Hub {
		b.hub = notify.NewHub(b.logger, 0, b.cfg.Notify.MaxClients)
		notifiers = append(notifiers, b.hub)
		b.addCloser(b.hub.Close)
	}

	if len(b.cfg.Notify.KafkaBrokers) > 0 {
		k, err := notify.NewKafka(notify.KafkaConfig{
			Brokers:  b.cfg.Notify.KafkaBrokers,
			Topic:    b.cfg.Notify.KafkaTopic,
			ClientID: b.cfg.Notify.KafkaClientID,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize kafka notifier: %w", err)
		}
		notifiers = append(notifiers, k)
		b.addCloser(k.Close)
		b.logger.Info("Kafka notifications enabled",
			logger.Strings("brokers", b.cfg.Notify.KafkaBrokers),
			logger.String("topic", b.cfg.Notify.KafkaTopic))
	}

	if b.cfg.Notify.FilePath != "" {
		f, err := notify.OpenJSONLines(b.cfg.Notify.FilePath)
		if err != nil {
			return fmt.Errorf("failed to open notification file: %w", err)
		}
		notifiers = append(notifiers, f)
		b.addCloser(func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := f.Close(ctx); err != nil {
				b.logger.Error("Failed to close notification file", logger.Error(err))
			}
		})
	}

	b.notifier = notify.Combine(notifiers...)
	return nil
}

func (b *Builder) initWritePath() {
	b.recorder = recorder.New(b.builder, b.store, b.notifier, b.cfg.Notify.Timeout, b.logger)
	b.dispatcher = recorder.NewDispatcher(b.recorder, recorder.DispatcherConfig{
		BufferSize: b.cfg.Dispatch.BufferSize,
		Workers:    b.cfg.Dispatch.Workers,
		DropPolicy: recorder.DropPolicy(b.cfg.Dispatch.DropPolicy),
	}, b.logger)

	b.addCloser(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := b.dispatcher.Shutdown(ctx); err != nil {
			b.logger.Error("Failed to drain audit dispatcher", logger.Error(err))
		}
	})
}

func (b *Builder) initRetention() {
	b.retention = retention.NewManager(b.store, b.recorder, b.cfg.ArchiveDays(), b.cfg.PurgeDays(), b.logger)
	b.sweeper = retention.NewSweeper(b.retention, b.cfg.Retention.SweepInterval, b.logger)
}

func (b *Builder) initHandlers() {
	searchSvc := search.NewService(b.store, b.cfg.Storage.QueryTimeout, b.logger)
	analyzer := anomaly.NewAnalyzer(b.store, anomaly.Config{
		K:           b.cfg.Anomaly.K,
		PatternDays: b.cfg.Anomaly.PatternDays,
		HighVolume:  b.cfg.Anomaly.HighVolume,
	}, b.logger)

	eventHandler := handlers.NewEventHandler(b.recorder, searchSvc, b.logger)
	reviewHandler := handlers.NewReviewHandler(review.NewService(b.store, b.logger), b.logger)
	behaviorHandler := handlers.NewBehaviorHandler(analyzer, b.logger)
	retentionHandler := handlers.NewRetentionHandler(b.retention, b.logger)
	healthHandler := handlers.NewHealthHandler(b.store, b.hub, b.version)
	backupHandler := handlers.NewBackupHandler(backupper(b.store), b.cfg.Storage.BackupDir, b.logger)

	b.fiberApp.Get("/health", healthHandler.Check)
	b.fiberApp.Get("/health/live", healthHandler.Liveness)
	b.fiberApp.Get("/health/ready", healthHandler.Readiness)

	if b.cfg.Metrics.Enabled {
		b.fiberApp.Get(b.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	// Mutating operator routes need a reviewer role once identities exist.
	guard := func(c *fiber.Ctx) error { return c.Next() }
	if b.cfg.Auth.Enabled {
		guard = middleware.RequireAnyRole(b.cfg.Auth.ReviewerRole...)
	}

	// Screening guards operator actions only. Ingested events and read
	// filters legitimately carry attack samples and are never screened.
	screen := func(c *fiber.Ctx) error { return c.Next() }
	if b.cfg.Screening.Enabled {
		screen = screening.Middleware(screening.New(), b.recorder, b.logger)
	}

	api := b.fiberApp.Group("/audit")
	api.Use(middleware.AuditMiddleware(middleware.AuditConfig{
		Dispatcher:   b.dispatcher,
		ResourceType: "audit_record",
		ActionMapper: middleware.OperatorActionMapper,
	}))

	api.Post("/events", eventHandler.Record)
	api.Get("/events", eventHandler.Search)
	api.Get("/events/:id", eventHandler.Get)
	api.Post("/events/:id/review", screen, guard, reviewHandler.Review)
	api.Patch("/events/:id/flags", screen, guard, reviewHandler.SetFlags)
	api.Post("/events/:id/related", screen, guard, reviewHandler.LinkRelated)

	api.Get("/statistics", eventHandler.Statistics)
	api.Get("/critical", eventHandler.Critical)
	api.Get("/suspicious", eventHandler.Suspicious)
	api.Get("/export", eventHandler.Export)

	api.Get("/actors/:actorId/events", eventHandler.ActorEvents)
	api.Get("/actors/:actorId/behavior", behaviorHandler.Behavior)
	api.Get("/actors/:actorId/anomalies", behaviorHandler.Anomalies)
	api.Post("/actors/:actorId/anomalies/mark", screen, guard, behaviorHandler.MarkAnomalies)

	api.Post("/retention/archive", screen, guard, retentionHandler.Archive)
	api.Post("/retention/purge", screen, guard, retentionHandler.Purge)

	if b.hub != nil {
		streamHandler := handlers.NewStreamHandler(b.hub, b.logger)
		api.Get("/stream/sse", streamHandler.SSE)
		api.Get("/stream", streamHandler.Upgrade, websocket.New(streamHandler.WebSocket))
	}

	b.fiberApp.Post("/admin/backup", screen, guard, backupHandler.CreateBackup)
	b.fiberApp.Get("/admin/backups", guard, backupHandler.ListBackups)
}

// backupper returns the engine behind s when it supports file snapshots.
func backupper(s store.Store) handlers.Backupper {
	if i, ok := s.(*store.Instrumented); ok {
		s = i.Unwrap()
	}
	if bk, ok := s.(handlers.Backupper); ok {
		return bk
	}
	return nil
}

func (b *Builder) addCloser(closer func()) {
	b.closers = append(b.closers, closer)
}

func (b *Builder) cleanupOnError() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// App represents a configured auditlens application ready to run.
type App struct {
	cfg            *config.Config
	version        string
	logger         logger.Logger
	fiberApp       *fiber.App
	sweeper        *retention.Sweeper
	tracerProvider *telemetry.TracerProvider
	closers        []func()
}

// Run starts the server and handles graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.sweeper.Start(ctx)
	a.logger.Info("Server starting", logger.String("address", a.cfg.Address()))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.fiberApp.Listen(a.cfg.Address())
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("Failed to start server", logger.Error(err))
			a.sweeper.Stop()
			a.runClosers()
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")

	a.sweeper.Stop()

	if err := a.fiberApp.ShutdownWithTimeout(shutdownTimeout); err != nil {
		a.logger.Error("Server forced to shutdown", logger.Error(err))
	}

	a.runClosers()

	if err := <-serverErr; err != nil {
		return err
	}

	a.logger.Info("Server exited gracefully")
	_ = a.logger.Sync()
	return nil
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
