package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"smartkollect/internal/auth"
	"smartkollect/internal/config"
	"smartkollect/internal/engine"
	"smartkollect/internal/instrument"
	"smartkollect/internal/logging"
	"smartkollect/internal/metadata"
	"smartkollect/internal/report"
	"smartkollect/internal/storage"
	"smartkollect/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	lg, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, lg *zap.Logger) error {
	// 3. Entity catalog
	catalog, err := loadCatalog(cfg.Reports.CatalogFile)
	if err != nil {
		return err
	}
	lg.Info("catalog loaded", zap.Int("entities", len(catalog.ListEntities())), zap.String("file", cfg.Reports.CatalogFile))

	// 4. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	lg.Info("database connected", zap.String("driver", db.Dialect.Name()))

	// 5. Bootstrap system tables, and entity tables for SQLite deployments
	if err := db.Bootstrap(ctx); err != nil {
		return err
	}
	if cfg.Database.IsSQLite() {
		if err := store.NewMigrator(db).MigrateCatalog(ctx, catalog); err != nil {
			return fmt.Errorf("migrate catalog: %w", err)
		}
	}

	// 6. Run history
	var recorder instrument.RunRecorder = instrument.NoopRecorder{}
	if cfg.Instrumentation.Enabled {
		buf := instrument.NewRunBuffer(db, cfg.Instrumentation.BufferSize, cfg.Instrumentation.FlushIntervalMs, lg.Named("runs"))
		defer buf.Stop()
		recorder = buf
		go cleanupLoop(ctx, db, cfg.Instrumentation.RetentionDays, lg.Named("runs"))
	}

	// 7. Executor and handlers
	builder := report.NewBuilder(catalog)
	exec := engine.NewObserved(
		engine.NewSQLExecutor(db, builder, engine.LimitsFromConfig(cfg.Reports), lg),
		recorder, lg)
	var exports *storage.LocalStorage
	if cfg.Reports.ExportDir != "" {
		exports = storage.NewLocalStorage(cfg.Reports.ExportDir)
	}
	handler := engine.NewHandler(builder, exec, store.NewTemplateStore(db), exports, lg)

	// 8. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          engine.ErrorHandler(lg),
		DisableStartupMessage: true,
		ReadTimeout:           time.Minute,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	if cfg.Instrumentation.Enabled {
		app.Use(instrument.Middleware(instrument.NewLogInstrumenter(lg.Named("trace"))))
	}

	// 9. Routes
	engine.RegisterHealthRoute(app)
	authMW := auth.AuthMiddleware(cfg.JWTSecret)
	reports := engine.RegisterReportRoutes(app, handler, authMW)
	engine.RegisterRunRoutes(reports, engine.NewRunHandler(db), auth.RequireAdmin())

	// 10. Start server, stop on signal
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		lg.Info("starting server", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

func loadCatalog(path string) (*metadata.Catalog, error) {
	if path == "" {
		return metadata.DefaultCatalog(), nil
	}
	return metadata.LoadCatalogFile(path)
}

func cleanupLoop(ctx context.Context, db *store.Store, retentionDays int, lg *zap.Logger) {
	if retentionDays <= 0 {
		return
	}
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		instrument.CleanupOldRuns(ctx, db, retentionDays, lg)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
