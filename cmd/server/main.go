// File manager server
//
// Features:
// - Per-user sandboxed directory trees behind session login
// - File and directory create/rename/delete/clone, in-browser editing
// - File or PostgreSQL credential store, memory or Redis sessions
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fruitsalade/filemanager/internal/api"
	"github.com/fruitsalade/filemanager/internal/auth"
	"github.com/fruitsalade/filemanager/internal/config"
	"github.com/fruitsalade/filemanager/internal/credentials"
	"github.com/fruitsalade/filemanager/internal/fsops"
	"github.com/fruitsalade/filemanager/internal/logging"
	"github.com/fruitsalade/filemanager/internal/metrics"
	"github.com/fruitsalade/filemanager/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("file manager starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credential store
	users, err := credentials.Open(ctx, cfg)
	if err != nil {
		logging.Fatal("credential store init failed", zap.Error(err))
	}
	defer users.Close()

	// Session store
	var sessionStore session.Store
	var memoryStore *session.MemoryStore
	switch cfg.SessionBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		rs := session.NewRedisStore(client, "")
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rs.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logging.Fatal("redis connection failed", zap.Error(err))
		}
		sessionStore = rs
	default:
		memoryStore = session.NewMemoryStore()
		sessionStore = memoryStore
	}
	sessions := session.NewManager(sessionStore, session.Options{
		CookieName: cfg.SessionCookie,
		TTL:        cfg.SessionTTL,
		Secure:     cfg.CookieSecure || cfg.TLSEnabled(),
	})
	logging.Info("session store ready", zap.String("backend", sessionStore.Type()))

	srv := api.NewServer(
		auth.New(users, sessions),
		sessions,
		fsops.New(cfg.MaxContentSize),
		auth.Throttle{Delay: cfg.ThrottleDelay},
	)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLSEnabled() {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("http shutdown", zap.Error(err))
		}
		metricsServer.Close()
	}()

	// Start periodic maintenance: expired in-memory sessions, DB pool gauges
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if memoryStore != nil {
					if n := memoryStore.Cleanup(); n > 0 {
						logging.Debug("expired sessions removed", zap.Int("count", n))
					}
				}
				if pg, ok := users.Backend().(*credentials.PostgresBackend); ok {
					pg.UpdateConnectionMetrics()
				}
			}
		}
	}()

	if cfg.TLSEnabled() {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
	<-idle
	logging.Info("server stopped")
}
