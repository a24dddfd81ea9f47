package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/instituteops/approvalflow/internal/application/port"
	"github.com/instituteops/approvalflow/internal/application/query"
	"github.com/instituteops/approvalflow/internal/application/workflow"
	"github.com/instituteops/approvalflow/internal/config"
	"github.com/instituteops/approvalflow/internal/domain/flow"
	"github.com/instituteops/approvalflow/internal/infrastructure/identity"
	"github.com/instituteops/approvalflow/internal/infrastructure/notification"
	"github.com/instituteops/approvalflow/internal/infrastructure/persistence"
	httpiface "github.com/instituteops/approvalflow/internal/interfaces/http"
	"github.com/instituteops/approvalflow/pkg/database"
	"github.com/instituteops/approvalflow/pkg/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting institute approval workflow service",
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Flow definitions come from config; the built-ins cover a fresh
	// deployment with no flows section
	defs := flow.Defaults()
	if len(cfg.Flows) > 0 {
		defs = defs[:0]
		for _, f := range cfg.Flows {
			defs = append(defs, flow.Definition{
				Kind:           f.Kind,
				Roles:          f.Roles,
				RequiredFields: f.RequiredFields,
			})
		}
	}

	registry, err := flow.NewRegistry(defs)
	if err != nil {
		logger.Fatal("Failed to build flow registry", zap.Error(err))
	}
	logger.Info("Flow registry loaded", zap.Strings("kinds", registry.Kinds()))

	store := persistence.NewSQLiteStore(db, logger)
	roleProvider := identity.NewStaticRoleProvider(cfg.Roles)

	sinks := []port.Notifier{notification.NewZapSink(logger)}
	if cfg.Lark.Enabled {
		sinks = append(sinks, notification.NewLarkSink(notification.LarkConfig{
			AppID:         cfg.Lark.AppID,
			AppSecret:     cfg.Lark.AppSecret,
			ReceiveIDType: cfg.Lark.ReceiveIDType,
			ReceiveID:     cfg.Lark.ReceiveID,
		}, logger))
	}
	dispatcher := notification.NewDispatcher(logger, sinks...)

	engine := workflow.NewEngine(registry, store, dispatcher, logger)
	queries := query.NewService(store, logger)
	handlers := httpiface.NewHandlers(engine, queries, roleProvider, logger)

	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := httpiface.NewRouter(handlers, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
