package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obsidianstack/alertd/server/internal/alerts"
	"github.com/obsidianstack/alertd/server/internal/api"
	"github.com/obsidianstack/alertd/server/internal/auth"
	"github.com/obsidianstack/alertd/server/internal/config"
	"github.com/obsidianstack/alertd/server/internal/metrics"
	"github.com/obsidianstack/alertd/server/internal/notify"
	"github.com/obsidianstack/alertd/server/internal/receiver"
	"github.com/obsidianstack/alertd/server/internal/store"
	"github.com/obsidianstack/alertd/server/internal/ws"
)

// hubInterval is how often open alerts are pushed to WebSocket clients.
const hubInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.Logging.SlogLevel()}))
	slog.SetDefault(logger)

	slog.Info("alertd-server starting", "config", *configPath)
	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage", cfg.Storage.Driver,
		"evaluation_interval", cfg.Evaluation.Interval,
		"rules", len(cfg.Rules),
		"sources", len(cfg.Sources),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg.Storage)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := syncCatalog(ctx, st, cfg); err != nil {
		slog.Error("failed to sync rule catalog", "err", err)
		os.Exit(1)
	}
	go store.RunRetention(ctx, st, cfg.Storage.Retention)

	// Sample buffer fed by the HTTP receiver and the scrapers.
	buf := metrics.NewBuffer(cfg.Evaluation.SampleRetention)
	go buf.Run(ctx)
	for _, src := range cfg.Sources {
		go metrics.NewScraper(src, buf).Run(ctx)
	}
	if cfg.Host.Enabled {
		go metrics.NewHostCollector(cfg.Host.Name, cfg.Host.Interval, buf).Run(ctx)
	}

	// WebSocket hub; also receives system-channel notifications.
	hub := ws.New(st, hubInterval)
	go hub.Run(ctx)

	dispatcher := notify.New(st, dispatcherOptions(cfg, hub)...)

	engine := alerts.New(st, dispatcher)
	evaluator := alerts.NewEvaluator(engine, buf, cfg.Evaluation.Interval)
	go evaluator.Run(ctx)

	// Rules and user settings follow the config file.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			if err := syncCatalog(ctx, st, next); err != nil {
				slog.Error("catalog resync failed", "err", err)
			}
		})
		if err != nil {
			slog.Warn("config watch stopped", "err", err)
		}
	}()

	requireKey := auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
	)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/v1/samples", requireKey(receiver.New(buf)))
	httpMux.Handle("/api/", requireKey(api.New(st,
		api.WithSampleCounter(buf),
		api.WithSender(dispatcher),
	)))
	httpMux.Handle("/ws/stream", requireKey(hub))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("alertd-server shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

func dispatcherOptions(cfg *config.Config, hub *ws.Hub) []notify.Option {
	n := cfg.Notify
	opts := []notify.Option{
		notify.WithPublisher(hub),
		notify.WithWebhookSender(notify.NewHTTPWebhookSender(n.WebhookTimeout)),
		notify.WithSystemEmail(n.SystemEmail),
		notify.WithSystemWebhook(notify.SystemWebhook{
			URL:    n.SystemWebhook.URL(),
			Secret: n.SystemWebhook.Secret(),
			Format: n.SystemWebhook.Format,
		}),
	}
	if n.SMTP.Host != "" {
		opts = append(opts, notify.WithMailer(&notify.SMTPMailer{
			Host:     n.SMTP.Host,
			Port:     n.SMTP.Port,
			Username: n.SMTP.Username,
			Password: n.SMTP.Password(),
			From:     n.SMTP.From,
			Timeout:  n.SMTP.Timeout,
		}))
	} else {
		slog.Info("smtp host not set, email channel disabled")
	}
	return opts
}
