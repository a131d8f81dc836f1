package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"xnoded/pkg/bus"
	"xnoded/pkg/db"
	"xnoded/pkg/telemetry"
	"xnoded/services/api"
	"xnoded/services/audit"
	"xnoded/services/ledger"
	"xnoded/services/provision"
)

const serviceName = "xnoded"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	cleanup, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	orm, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal().Err(err).Msg("open orm")
	}

	registry, err := api.NewGormRegistry(orm)
	if err != nil {
		log.Fatal().Err(err).Msg("init registry")
	}

	sessions, allowlist, err := api.LoadOperatorFile(cfg.OperatorFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load operator file")
	}

	chain, err := ledger.NewEVMClient(cfg.EVMRPCURL, cfg.ClaimContract, cfg.LedgerTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("init ledger client")
	}

	var controller provision.Controller
	if cfg.ControllerURL != "" {
		controller, err = provision.NewHTTPController(cfg.ControllerURL, cfg.ControllerKey, cfg.ControllerTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("init fleet controller")
		}
	} else {
		log.Warn().Msg("no fleet controller configured, provisioning against a mock")
		controller = provision.NewMockController(cfg.MockControllerIP)
	}

	var eventBus *bus.Bus
	if cfg.NATSURL != "" {
		eventBus, err = bus.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect bus")
		}
		defer eventBus.Close()

		trail, err := audit.NewTrail(pool, eventBus)
		if err != nil {
			log.Fatal().Err(err).Msg("init audit trail")
		}
		if err := trail.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("start audit trail")
		}
		defer func() {
			if err := trail.Close(); err != nil {
				log.Error().Err(err).Msg("close audit trail")
			}
		}()
	}

	app, err := api.New(&api.Store{
		Registry:   registry,
		Sessions:   sessions,
		Ledger:     chain,
		Controller: controller,
		Bus:        eventBus,
	}, api.Config{
		MaxDeployments: cfg.MaxDeployments,
		Allowlist:      allowlist,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	routes, err := app.Routes()
	if err != nil {
		log.Fatal().Err(err).Msg("build router")
	}
	handler := telemetry.Middleware(serviceName, log.Logger)(routes)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting xnoded")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
