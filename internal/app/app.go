package app

import (
	"context"
	"net/http"

	"steptrack-go/internal/config"
	"steptrack-go/internal/db"
	connectiondomain "steptrack-go/internal/domain/connection"
	stepsdomain "steptrack-go/internal/domain/steps"
	stepsyncdomain "steptrack-go/internal/domain/stepsync"
	userdomain "steptrack-go/internal/domain/user"
	"steptrack-go/internal/provider"
	connectionrepo "steptrack-go/internal/repository/postgres/connection"
	stepsrepo "steptrack-go/internal/repository/postgres/steps"
	userrepo "steptrack-go/internal/repository/postgres/user"
	"steptrack-go/internal/transport/httpserver"
	"steptrack-go/internal/transport/httpserver/handler"
	"steptrack-go/internal/worker"
	"steptrack-go/pkg/logger"

	"gorm.io/gorm"
)

type App struct {
	cfg        config.Config
	httpServer *http.Server
	db         *gorm.DB
	sweeper    *worker.Sweeper
	log        logger.Logger
}

func New(log logger.Logger) (*App, error) {
	log.Info("app: loading config")
	cfg, err := config.Load(log)
	if err != nil {
		return nil, err
	}

	log.Info("app: initializing database")
	dbConn, err := db.NewPostgres(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(dbConn); err != nil {
		return nil, err
	}

	connectionRepo := connectionrepo.NewPostgres(dbConn)
	stepsRepo := stepsrepo.NewPostgres(dbConn)
	profileRepo := userrepo.NewPostgres(dbConn)

	connectionService := connectiondomain.NewService(connectionRepo)
	stepsService := stepsdomain.NewService(stepsRepo)
	profileService := userdomain.NewService(profileRepo)

	providerClient := provider.NewClient(cfg.Provider)
	syncService := stepsyncdomain.NewService(connectionRepo, stepsRepo, providerClient, cfg.Sync, log)

	var sweeper *worker.Sweeper
	if cfg.Sweeper.Enabled {
		sweeper = worker.NewSweeper(connectionRepo, syncService, cfg.Sweeper, log)
	}

	handlers := handler.New(stepsService, connectionService, syncService, log)
	router := httpserver.NewRouter(cfg, handlers, profileService, log)
	srv := httpserver.New(cfg, router)

	return &App{
		cfg:        cfg,
		httpServer: srv,
		db:         dbConn,
		sweeper:    sweeper,
		log:        log,
	}, nil
}

// Start launches background workers. Safe to call once, before serving.
func (a *App) Start(ctx context.Context) {
	if a.sweeper != nil {
		a.sweeper.Start(ctx)
	}
}

func (a *App) HTTPServer() *http.Server {
	return a.httpServer
}

func (a *App) Close() error {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
