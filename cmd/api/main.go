// Command api runs the Tavolo HTTP and realtime API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tavolo.app/internal/config"
	"tavolo.app/internal/hub"
	"tavolo.app/internal/httpapi"
	"tavolo.app/internal/identity"
	"tavolo.app/internal/obs"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		obs.LogEntry("error", "api exited", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store identity.Store
		db    *sql.DB
	)
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(time.Hour)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return err
		}
		store = identity.NewPGStore(db)
		obs.LogEntry("info", "using postgres store", nil)
	} else {
		store = identity.NewMemoryStore()
		obs.LogEntry("warn", "no TAVOLO_PG_DSN set, using in-memory store", nil)
	}

	signer, err := identity.NewSigner(cfg.AuthSecret, cfg.Issuer, cfg.AccessTTL)
	if err != nil {
		return err
	}
	svc, err := identity.NewService(store, signer,
		identity.WithRefreshTTL(cfg.RefreshTTL),
		identity.WithOTPTTL(cfg.OTPTTL),
	)
	if err != nil {
		return err
	}

	eventHub := hub.New()
	wsHandler := hub.NewWSHandler(eventHub, svc, cfg.Origins())

	readyProbe := func(context.Context) error { return nil }
	if db != nil {
		readyProbe = db.PingContext
	}

	api := httpapi.New(svc, eventHub,
		httpapi.WithVersion(version),
		httpapi.WithReadyProbe(readyProbe),
		httpapi.WithWSHandler(wsHandler),
	)

	handler := httpapi.Chain(api,
		httpapi.RequestID,
		httpapi.LoggingJSON,
		obs.Instrument,
		httpapi.SecurityHeaders,
		httpapi.CORS(cfg.Origins()),
		httpapi.RateLimit(cfg.RatePerSec, cfg.RateBurst),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.LogEntry("info", "api listening", map[string]any{"addr": cfg.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		obs.LogEntry("info", "shutting down", map[string]any{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
