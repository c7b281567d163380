package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/polysignal/consensuswatch/internal/alerts"
	"github.com/polysignal/consensuswatch/internal/analyzer"
	"github.com/polysignal/consensuswatch/internal/config"
	"github.com/polysignal/consensuswatch/internal/consensus"
	"github.com/polysignal/consensuswatch/internal/hashdive"
	"github.com/polysignal/consensuswatch/internal/metrics"
	"github.com/polysignal/consensuswatch/internal/monitor"
	"github.com/polysignal/consensuswatch/internal/polymarket/clobapi"
	"github.com/polysignal/consensuswatch/internal/polymarket/dataapi"
	"github.com/polysignal/consensuswatch/internal/pricing"
	"github.com/polysignal/consensuswatch/internal/ratelimit"
	"github.com/polysignal/consensuswatch/internal/schedule"
	"github.com/polysignal/consensuswatch/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting consensuswatch service...")

	// Load .env when present, env vars still win
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file loaded")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"analyzer_workers":  cfg.AnalyzerWorkers,
		"min_consensus":     cfg.MinConsensus,
		"window_min":        cfg.WindowMinutes,
		"poll_interval_sec": int(cfg.PollInterval.Seconds()),
		"alert_mode":        cfg.AlertMode,
	}).Info("Configuration loaded")

	// Initialize database
	db, err := storage.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	log.Info("Database connected")

	// Run auto-migration
	if err := db.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("Failed to run database migrations")
	}

	log.Info("Database migrations complete")

	// Shared throttles and API clients
	dataLimiter := ratelimit.New(cfg.DataAPIRPS)
	clobLimiter := ratelimit.New(cfg.CLOBAPIRPS)
	sem := ratelimit.NewSemaphore(cfg.MaxOutboundCalls)

	dataClient, err := dataapi.NewClient(cfg, dataLimiter, sem, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create data API client")
	}
	clobClient := clobapi.NewClient(cfg, clobLimiter)
	hashdiveClient := hashdive.NewClient(cfg)
	resolver := pricing.NewResolver(clobClient, dataClient, hashdiveClient, log)

	log.Info("API clients initialized")

	// Initialize alert sender
	alertSender := createAlertSender(cfg, log)

	log.WithField("alert_mode", cfg.AlertMode).Info("Alert sender initialized")

	// Core components
	counters := consensus.NewCounters()
	engine := consensus.New(cfg, db, clobClient, resolver, alertSender, counters, log)
	walletAnalyzer := analyzer.New(cfg, db, dataClient, log)
	tradeMonitor := monitor.New(cfg, db, dataClient, engine, alertSender, counters, log)

	// Start HTTP server (health + metrics)
	go startHTTPServer(cfg.HealthPort, log)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Maintenance jobs
	cron := schedule.New(log, ctx)
	registerMaintenance(cron, cfg, db, tradeMonitor, log)
	cron.Start()
	defer cron.Stop()

	// Reclaim jobs orphaned by a previous crash before workers start
	if n, err := db.ReclaimStuck(ctx, cfg.ReclaimAfter); err != nil {
		log.WithError(err).Error("Failed to reclaim stuck jobs")
	} else if n > 0 {
		log.WithField("reclaimed", n).Info("Reclaimed stuck analysis jobs")
	}

	done := make(chan struct{}, 2)
	go func() {
		walletAnalyzer.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		tradeMonitor.Run(ctx)
		done <- struct{}{}
	}()

	log.Info("consensuswatch running")

	sig := <-sigChan
	log.WithField("signal", sig).Info("Received shutdown signal")
	cancel()

	// let workers finish their current job
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			log.Warn("Shutdown timed out waiting for workers")
			return
		}
	}
	log.Info("Graceful shutdown complete")
}

func registerMaintenance(cron *schedule.Runner, cfg *config.Config, db *storage.DB, tradeMonitor *monitor.Monitor, log *logrus.Logger) {
	add := func(spec, name string, job func(context.Context)) {
		if _, err := cron.Add(spec, name, job); err != nil {
			log.WithError(err).WithField("job", name).Fatal("Failed to register maintenance job")
		}
	}

	add("*/5 * * * *", "reclaim-stuck-jobs", func(ctx context.Context) {
		if n, err := db.ReclaimStuck(ctx, cfg.ReclaimAfter); err != nil {
			log.WithError(err).Error("Failed to reclaim stuck jobs")
		} else if n > 0 {
			log.WithField("reclaimed", n).Info("Reclaimed stuck analysis jobs")
		}
	})

	add("17 * * * *", "cleanup-expired-cache", func(ctx context.Context) {
		if n, err := db.CleanupExpiredCache(ctx); err != nil {
			log.WithError(err).Error("Failed to clean expired cache")
		} else if n > 0 {
			log.WithField("removed", n).Info("Cleaned expired analysis cache")
		}
	})

	add("29 * * * *", "cleanup-stale-windows", func(ctx context.Context) {
		retention := 4 * time.Duration(cfg.WindowMinutes) * time.Minute
		if n, err := db.CleanupStaleWindows(ctx, retention); err != nil {
			log.WithError(err).Error("Failed to clean stale windows")
		} else if n > 0 {
			log.WithField("removed", n).Info("Cleaned stale rolling windows")
		}
	})

	add("41 * * * *", "cleanup-suppressed-alerts", func(ctx context.Context) {
		if n, err := db.CleanupSuppressedAlerts(ctx, 24*time.Hour); err != nil {
			log.WithError(err).Error("Failed to clean suppressed alerts")
		} else if n > 0 {
			log.WithField("removed", n).Info("Cleaned suppression records")
		}
	})

	add("0 3 * * *", "cleanup-inactive-wallets", func(ctx context.Context) {
		maxIdle := time.Duration(cfg.WalletMaxIdleDays) * 24 * time.Hour
		if n, err := db.CleanupInactiveWallets(ctx, maxIdle, cfg.MaxTrackedWallets); err != nil {
			log.WithError(err).Error("Failed to clean inactive wallets")
		} else if n > 0 {
			log.WithField("removed", n).Info("Cleaned inactive wallets")
		}
	})

	// requeue tracked wallets whose cached verdict has lapsed
	add("7 */6 * * *", "requeue-expired-wallets", func(ctx context.Context) {
		wallets, err := db.ExpiredAcceptedWallets(ctx, 100)
		if err != nil {
			log.WithError(err).Error("Failed to list expired wallets")
			return
		}
		var queued int
		for _, w := range wallets {
			if err := db.DeleteCompletedJob(ctx, w.Address); err != nil {
				log.WithError(err).Warn("Failed to clear finished job")
				continue
			}
			ok, err := db.EnqueueJob(ctx, w.Address, w.Display, "requeue", cfg.MaxRetries)
			if err != nil {
				log.WithError(err).Warn("Failed to requeue wallet")
				continue
			}
			if ok {
				queued++
			}
		}
		if queued > 0 {
			log.WithField("queued", queued).Info("Requeued wallets for re-analysis")
		}
	})

	add("0 8 * * *", "daily-report", func(ctx context.Context) {
		if err := tradeMonitor.SendReport(ctx); err != nil {
			log.WithError(err).Error("Failed to send daily report")
		}
	})
}

func createAlertSender(cfg *config.Config, log *logrus.Logger) alerts.Sender {
	modes := strings.Split(cfg.AlertMode, ",")
	for i, mode := range modes {
		modes[i] = strings.TrimSpace(mode)
	}

	var senders []alerts.Sender
	for _, mode := range modes {
		switch mode {
		case "log":
			senders = append(senders, alerts.NewLogSender(log))
		case "telegram":
			tg, err := alerts.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
			if err != nil {
				log.WithError(err).Warn("Failed to create telegram sender, skipping")
				continue
			}
			senders = append(senders, tg)
		default:
			log.WithField("mode", mode).Warn("Unknown alert mode, skipping")
		}
	}

	if len(senders) == 0 {
		log.Warn("No valid alert senders configured, using log")
		return alerts.NewLogSender(log)
	}
	if len(senders) == 1 {
		return senders[0]
	}
	return alerts.NewMultiSender(senders...)
}

func startHTTPServer(port int, log *logrus.Logger) {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordHealthCheck(true)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy"}`)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordHealthCheck(true)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready"}`)
	})

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.WithField("port", port).Info("Starting HTTP server (health + metrics)")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("HTTP server failed")
	}
}
