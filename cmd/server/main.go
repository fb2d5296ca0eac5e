/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the zap logger
  3. Initialize SQLite store (and seed demo data with -seed)
  4. Wire gate, services, notifications and webhook emitters
  5. Start the year-end closing job
  6. Configure HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config    Configuration file (default: config.yml)
  -seed      Seed the demo workspace "acme" on startup
  -policies  JSON array of policy definitions to add to the demo workspace

ENVIRONMENT:
  Every configuration value has an environment override, see
  config/config.go (APP_PORT, DB_PATH, AUTH_JWT_SECRET, LOG_LEVEL, ...).

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the year-end job
  4. Drain async webhook deliveries
  5. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/logging"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "config.yml", "configuration file")
	seed := flag.Bool("seed", false, "seed the demo workspace")
	policiesPath := flag.String("policies", "", "JSON file of policy definitions to seed")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(conf.Log.Level, conf.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(conf.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	gate := leave.NewGate(store, nil, logger)
	policies := leave.NewPolicyService(gate, store, logger)

	if *seed || *policiesPath != "" {
		var extra string
		if *policiesPath != "" {
			raw, err := os.ReadFile(*policiesPath)
			if err != nil {
				return fmt.Errorf("read policies: %w", err)
			}
			extra = string(raw)
		}
		if err := seedDemo(context.Background(), store, policies, extra, logger); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	emitter, closers := webhooks(conf, logger)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close webhook emitter", zap.Error(err))
			}
		}
	}()

	notifications := notify.NewService(store, logger)
	svc := leave.NewService(leave.Deps{
		Gate:      gate,
		Directory: store,
		Policies:  store,
		Requests:  store,
		Ledger:    generic.NewLedger(store),
		Snapshots: store,
		Notifier:  notifications,
		Webhooks:  emitter,
		Logger:    logger,
	}, leave.WithTimezone(conf.App.Timezone), leave.WithAsyncWebhooks(conf.AsyncWebhooks()))

	if interval := conf.YearEndInterval(); interval > 0 {
		scheduler := leave.NewYearEndScheduler(svc, store, logger)
		scheduler.CheckInterval = interval
		scheduler.Start()
		defer scheduler.Stop()
	}

	handler := api.NewHandler(api.Deps{
		Gate:          gate,
		Service:       svc,
		Policies:      policies,
		Notifications: notifications,
		Issuer:        auth.NewIssuer(conf.Auth.JWTSecret, conf.TokenTTL()),
		DevTokens:     conf.DevTokens(),
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", conf.App.ListenAddr, conf.App.Port),
		Handler:      api.NewRouter(handler, api.RouterOptions{AllowedOrigins: conf.Cors.AllowedOrigins}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.Bool("dev_tokens", conf.DevTokens()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// webhooks builds the configured emitters. It returns a nil emitter when
// none is configured.
func webhooks(conf *config.Configuration, logger *zap.Logger) (leave.WebhookEmitter, []io.Closer) {
	var multi webhook.Multi
	var closers []io.Closer
	if conf.Webhook.URL != "" {
		e := webhook.NewHTTPEmitter(conf.Webhook.URL, conf.WebhookTimeout(), logger)
		multi = append(multi, e)
		closers = append(closers, e)
	}
	if brokers := conf.Brokers(); len(brokers) > 0 {
		e := webhook.NewKafkaEmitter(webhook.NewKafkaWriter(brokers), conf.Webhook.KafkaTopic, conf.WebhookTimeout(), logger)
		multi = append(multi, e)
		closers = append(closers, e)
	}
	switch len(multi) {
	case 0:
		return nil, nil
	case 1:
		return multi[0], closers
	}
	return multi, closers
}
