package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codergangganesh/eduspace-sub001/internal/api"
	"github.com/codergangganesh/eduspace-sub001/internal/bus"
	"github.com/codergangganesh/eduspace-sub001/internal/config"
	"github.com/codergangganesh/eduspace-sub001/internal/database"
	"github.com/codergangganesh/eduspace-sub001/internal/database/pgstore"
	"github.com/codergangganesh/eduspace-sub001/internal/push"
	"github.com/codergangganesh/eduspace-sub001/internal/session"
)

// stores bundles the three repository surfaces, whichever backend holds them.
type stores struct {
	sessions   database.CallSessionRepository
	profiles   database.ProfileRepository
	pushTokens database.PushTokenRepository
	close      func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting callsignald",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"postgres", cfg.PostgresDSN != "",
		"redis", cfg.RedisAddr != "",
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	st, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer st.close()

	// Signaling bus: Redis fans events out across instances; the
	// in-process bus only reaches subscribers in this process.
	var signalBus bus.Bus
	if cfg.RedisAddr != "" {
		client, err := bus.OpenRedis(appCtx, cfg.RedisAddr)
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer client.Close()
		signalBus = bus.NewRedis(client, slog.Default())
		slog.Info("redis signaling bus connected", "addr", cfg.RedisAddr)
	} else {
		signalBus = bus.NewMemory(slog.Default())
		slog.Warn("no redis-addr configured, signaling is in-process only")
	}

	// Wake-up pushes are optional; without credentials, closed apps
	// simply miss calls.
	var notifier *push.Notifier
	if cfg.FCMCreds != "" {
		sender, err := push.NewFCMSender(appCtx, cfg.FCMCreds)
		if err != nil {
			slog.Error("failed to initialise fcm", "error", err)
			os.Exit(1)
		}
		links, err := push.NewLinkBuilder(cfg.DeepLinkBase)
		if err != nil {
			slog.Error("invalid deep link base", "error", err)
			os.Exit(1)
		}
		notifier = push.NewNotifier(st.pushTokens, sender, links, slog.Default())
	} else {
		slog.Warn("no fcm-credentials configured, wake-up pushes disabled")
	}

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to decode jwt secret", "error", err)
		os.Exit(1)
	}

	validator := session.NewValidator(st.sessions, st.profiles, slog.Default())
	handlerSrv := api.NewServer(api.ServerConfig{
		Sessions:   st.sessions,
		Profiles:   st.profiles,
		PushTokens: st.pushTokens,
		Validator:  validator,
		Notifier:   notifier,
		Bus:        signalBus,
		JWTSecret:  jwtSecret,
	})
	defer handlerSrv.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handlerSrv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callsignald stopped")
}

// openStores picks the storage backend: Postgres when a DSN is
// configured, the embedded sqlite store otherwise.
func openStores(cfg *config.Config) (*stores, error) {
	if cfg.PostgresDSN != "" {
		pg, err := pgstore.New(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		slog.Info("postgres session store ready")
		return &stores{
			sessions:   pg.Sessions(),
			profiles:   pg.Profiles(),
			pushTokens: pg.PushTokens(),
			close:      func() { pg.Close() },
		}, nil
	}

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	slog.Info("sqlite session store ready", "data_dir", cfg.DataDir)
	return &stores{
		sessions:   database.NewCallSessionRepository(db),
		profiles:   database.NewProfileRepository(db),
		pushTokens: database.NewPushTokenRepository(db),
		close:      func() { db.Close() },
	}, nil
}
