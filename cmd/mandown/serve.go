package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/makt28/mandown/internal/bot"
	"github.com/makt28/mandown/internal/config"
	"github.com/makt28/mandown/internal/monitor"
	"github.com/makt28/mandown/internal/notify"
	"github.com/makt28/mandown/internal/store/provider"
	"github.com/makt28/mandown/internal/telemetry"
	"github.com/makt28/mandown/internal/tracker"
	"github.com/makt28/mandown/internal/web"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the poll loop and the HTTP server",
	Long: `Start ManDown.

The server will:
  - open the configured site store
  - register the Telegram webhook when telegram.webhook_url is set
  - poll every tracked site and alert owners on status changes
  - serve /hook, /healthz, /metrics and the admin API

SIGHUP reloads the config file. SIGINT or SIGTERM shut down gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// --- 1. Load Config ---
	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		return err
	}
	cfg := cfgMgr.Get()

	// --- 2. Setup Logger ---
	logger := setupLogger(cfg.System.LogLevel)
	logger.Info("starting ManDown", "version", version, "bind", cfg.System.BindAddress, "storage", cfg.Storage.Driver)

	if cfg.Telegram.BotToken == "" {
		return errors.New("telegram.bot_token (or TELEGRAM_TOKEN) is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 3. Telemetry ---
	tel, err := telemetry.New()
	if err != nil {
		return err
	}
	metrics, err := telemetry.NewMetrics(tel.Meter)
	if err != nil {
		return err
	}

	// --- 4. Open Site Store ---
	sites, err := provider.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	// --- 5. Telegram Client ---
	tg := notify.NewTelegram(cfg.Telegram.BotToken,
		notify.WithAPIURL(cfg.Telegram.APIURL),
		notify.WithSendRate(cfg.Telegram.SendRate, cfg.Telegram.SendBurst),
	)
	if err := tg.Validate(); err != nil {
		sites.Close()
		return err
	}
	if cfg.Telegram.WebhookURL != "" {
		if err := tg.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			sites.Close()
			return fmt.Errorf("register webhook: %w", err)
		}
		logger.Info("telegram webhook registered")
	} else {
		logger.Warn("telegram.webhook_url not set, commands arrive only if the webhook is registered elsewhere")
	}

	// --- 6. Bot Commands ---
	transport := monitor.NewHTTPTransport("mandown/" + version)
	prober := monitor.NewProber(transport, cfg.Monitor.Timeout(), cfg.Monitor.RetryDelay(), logger)
	handler := bot.NewHandler(tracker.New(sites, prober, logger), tg, logger)
	hook := bot.NewWebhook(handler, cfg.Telegram.WebhookSecret, 2*cfg.Monitor.Timeout()+shutdownTimeout, logger)

	// --- 7. Poll Loop ---
	dispatcher := notify.NewDispatcher(sites, tg, logger, metrics)
	scheduler := monitor.NewScheduler(sites, dispatcher, transport, monitor.SettingsFrom(cfg), logger, metrics)
	scheduler.Watch(cfgMgr)
	scheduler.Start()

	// --- 8. HTTP Server ---
	stopCh := make(chan struct{})
	router := web.NewRouter(web.Deps{
		Config:  cfgMgr,
		Sites:   sites,
		Poller:  scheduler,
		Webhook: hook,
		Metrics: tel.Handler(),
		Version: version,
		Logger:  logger,
	}, stopCh)
	srv := &http.Server{
		Addr:              cfg.System.BindAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ManDown is running", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- 9. Reload on SIGHUP ---
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var serveErr error
wait:
	for {
		select {
		case <-hup:
			if err := cfgMgr.Reload(); err != nil {
				logger.Error("config reload failed, keeping current config", "error", err)
				continue
			}
			logger.Info("config reloaded", "path", cfgMgr.Path())
		case err := <-errCh:
			serveErr = fmt.Errorf("server error: %w", err)
			break wait
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			break wait
		}
	}

	// --- 10. Graceful Shutdown ---
	close(stopCh)
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", "error", err)
	}
	hook.Wait()

	if err := sites.Close(); err != nil {
		logger.Error("failed to close site store", "error", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop telemetry", "error", err)
	}

	logger.Info("ManDown stopped gracefully")
	return serveErr
}
