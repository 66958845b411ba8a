package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/agentchat/internal/auth"
	"github.com/Tyrowin/agentchat/internal/command"
	"github.com/Tyrowin/agentchat/internal/config"
	"github.com/Tyrowin/agentchat/internal/logging"
	"github.com/Tyrowin/agentchat/internal/repo"
	"github.com/Tyrowin/agentchat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a config file or directory containing config.yaml")
	port := pflag.StringP("port", "p", "", "listen address, overrides server.port")
	pflag.Parse()

	// .env is optional.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("load configuration")
	}
	if *port != "" {
		cfg.Server.Port = *port
		*cfg = config.Sanitize(*cfg)
	}
	logging.Init(cfg.Log)
	log := logging.Component("main")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config) error {
	log := logging.Component("main")

	db, err := repo.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	store := repo.NewGormStore(db)
	defer store.Close()

	tokens, closeTokens, err := openTokenStore(cfg)
	if err != nil {
		return err
	}
	defer closeTokens()

	authSvc := auth.NewService(cfg.Auth.BcryptCost, cfg.Auth.TokenTTL, tokens)
	srv := server.New(cfg, store, authSvc, command.NewDefaultRegistry())
	srv.Start()

	httpServer := server.CreateServer(cfg.Server.Port, srv.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpErr := httpServer.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownTimeout); err != nil {
			log.Warn().Err(err).Msg("hub shutdown incomplete")
		}
		return httpErr
	})
	return g.Wait()
}

func openTokenStore(cfg *config.Config) (auth.TokenStore, func(), error) {
	if cfg.Auth.TokenStore != config.TokenStoreRedis {
		return auth.NewMemoryTokenStore(), func() {}, nil
	}
	rs, err := auth.NewRedisTokenStore(context.Background(), cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	log := logging.Component("main")
	log.Info().Str("address", cfg.Redis.Address).Msg("using redis token store")
	return rs, func() { _ = rs.Close() }, nil
}
