package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/wookieewrath/OnMyWay/internal/auth"
	"github.com/wookieewrath/OnMyWay/internal/config"
	"github.com/wookieewrath/OnMyWay/internal/docstore"
	"github.com/wookieewrath/OnMyWay/internal/events"
	"github.com/wookieewrath/OnMyWay/internal/gateway"
	"github.com/wookieewrath/OnMyWay/internal/geo"
	httpapi "github.com/wookieewrath/OnMyWay/internal/http"
	"github.com/wookieewrath/OnMyWay/internal/imagecache"
	"github.com/wookieewrath/OnMyWay/internal/logging"
	"github.com/wookieewrath/OnMyWay/internal/notify"
	"github.com/wookieewrath/OnMyWay/internal/payments"
	"github.com/wookieewrath/OnMyWay/internal/session"
	"github.com/wookieewrath/OnMyWay/migrations"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      a.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("onmyway listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	a.hub.Close()

	done := make(chan struct{})
	go func() {
		a.gateway.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("in-flight gateway operations drained")
	case <-shutdownCtx.Done():
		logger.Warn("gave up waiting for gateway operations")
	}
}

type app struct {
	handler http.Handler
	gateway *gateway.Gateway
	hub     *notify.Hub
	closers []io.Closer
	logger  *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// build wires the backends the configuration names. Anything left
// unconfigured falls back to an in-process implementation.
func build(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	var (
		store docstore.Store
		dir   auth.Directory
	)
	switch {
	case cfg.PGDSN != "":
		pg, err := docstore.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg)
		if cfg.RunMigrations {
			applied, err := migrations.Apply(ctx, pg.DB())
			if err != nil {
				a.close()
				return nil, err
			}
			logger.Info("migrations applied", "files", applied)
		}
		store = pg
		dir = auth.NewPostgresDirectory(pg.DB())
	case cfg.RedisAddr != "":
		rs := docstore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, err
		}
		a.closers = append(a.closers, rs)
		store = rs
		dir = auth.NewMemoryDirectory()
		logger.Warn("identities are kept in memory; set PG_DSN to persist them")
	default:
		store = docstore.NewMemoryStore()
		dir = auth.NewMemoryDirectory()
		logger.Warn("no backend configured, using in-memory document store")
	}

	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		var err error
		if secret, err = auth.RandomSecret(); err != nil {
			a.close()
			return nil, err
		}
		logger.Warn("AUTH_TOKEN_SECRET not set, sessions will not survive a restart")
	}
	authClient := auth.NewClient(dir, auth.NewTokenIssuer(secret, cfg.TokenTTL), logger)

	var index geo.Index
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		a.closers = append(a.closers, rc)
		index = geo.NewRedisIndex(rc, cfg.RedisGeoKey, cfg.OpenRequestTTL)
	} else {
		index = geo.NewMemoryIndex(cfg.OpenRequestTTL)
	}

	opts := gateway.Options{
		PhotoBaseURL: cfg.PhotoBaseURL,
		OpTimeout:    cfg.GatewayOpTimeout,
		Logger:       logger,
	}
	if cfg.PhotoBaseURL != "" {
		opts.Images = imagecache.NewWarmer(cfg.ImageCacheTTL, logger)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, kp)
		opts.Events = kp
	} else {
		opts.Events = geo.EventIndexer{Index: index}
	}
	if cfg.StripeKey != "" {
		opts.Fares = payments.NewStripeClient(cfg.StripeKey, cfg.StripeCurrency)
	}

	a.gateway = gateway.New(authClient, store, opts)
	a.hub = notify.NewHub(logger)
	a.handler = httpapi.NewServer(httpapi.Deps{
		Session:       session.New(a.gateway, logger),
		Gateway:       a.gateway,
		Hub:           a.hub,
		Geo:           index,
		Logger:        logger,
		NearbyRadiusM: cfg.NearbyRadiusM,
		NearbyLimit:   cfg.NearbyLimit,
	})
	return a, nil
}
