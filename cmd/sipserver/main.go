package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourusername/sip2-server/pkg/auth"
	"github.com/yourusername/sip2-server/pkg/config"
	"github.com/yourusername/sip2-server/pkg/ils"
	"github.com/yourusername/sip2-server/pkg/notify"
	"github.com/yourusername/sip2-server/pkg/sip2"
	"github.com/yourusername/sip2-server/pkg/telemetry"
)

func initLogger() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
}

func newBackend(cfg *config.Config) (ils.ILS, error) {
	switch cfg.Backend {
	case "sqlite":
		return ils.NewSQLite(cfg.DBPath, cfg.Institution)
	case "postgres":
		return ils.NewPostgres(cfg.DSN, cfg.Institution)
	default:
		slog.Info("using in-memory backend")
		return ils.NewMemorySeeded(cfg.Institution), nil
	}
}

// runOverdueChecker periodically sweeps the backend for overdue loans
// and hands each one to the notifier.
func runOverdueChecker(ctx context.Context, backend ils.ILS, notifier notify.Notifier, interval time.Duration) {
	lister, ok := backend.(ils.OverdueLister)
	if !ok {
		slog.Info("backend cannot list overdue loans, notices disabled")
		return
	}
	slog.Info("overdue checker running", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			loans := lister.OverdueLoans()
			if len(loans) == 0 {
				continue
			}
			slog.Info("overdue sweep", "count", len(loans))
			for _, loan := range loans {
				if loan.Email == "" {
					continue
				}
				notifier.SendOverdueNotice(loan.Email, loan.PatronName, loan.Title, loan.Due)
			}
		}
	}
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	initLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "sip-server", cfg.OTLPEndpoint, cfg.TraceStdout)
	if err != nil {
		slog.Warn("failed to init tracer", "error", err)
	} else {
		defer shutdownTracer(context.Background())
	}

	backend, err := newBackend(cfg)
	if err != nil {
		slog.Error("backend initialization failed", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}

	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.SMTP.Host != "" {
		notifier = notify.NewEmailService(cfg.SMTP)
	}
	if cfg.OverdueCheckInterval > 0 {
		go runOverdueChecker(ctx, backend, notifier, cfg.OverdueCheckInterval)
	}

	srv := sip2.NewServer(cfg, backend)

	if cfg.Admin.Addr != "" {
		auth.SetSecret(cfg.Admin.JWTSecret)
		go func() {
			if err := runAdminAPI(ctx, cfg, srv); err != nil {
				slog.Error("admin api stopped", "error", err)
			}
		}()
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("sip server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
