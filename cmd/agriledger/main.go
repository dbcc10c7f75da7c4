package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agriops/agriledger/cmd/agriledger/cli"
	"github.com/agriops/agriledger/internal/app"
	"github.com/agriops/agriledger/internal/audit"
	audithttp "github.com/agriops/agriledger/internal/audit/http"
	"github.com/agriops/agriledger/internal/documents"
	documentshttp "github.com/agriops/agriledger/internal/documents/http"
	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	ledgerhttp "github.com/agriops/agriledger/internal/ledger/http"
	"github.com/agriops/agriledger/internal/observability"
	"github.com/agriops/agriledger/internal/platform/cache"
	"github.com/agriops/agriledger/internal/platform/db"
	"github.com/agriops/agriledger/internal/shared"
	"github.com/agriops/agriledger/internal/subledger"
	subledgerhttp "github.com/agriops/agriledger/internal/subledger/http"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(cli.ExitError)
	}
	logger := app.NewLogger(cfg)

	command, args := "serve", os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, cfg, logger)
	case "migrate":
		code = migrate(cfg, logger)
	case "seed":
		code = withPool(ctx, cfg, logger, func(pool *pgxpool.Pool) int {
			return cli.SeedCommand(ctx, chartSeeder(pool), args, os.Stdout, os.Stderr)
		})
	case "reconcile":
		opts, err := cli.ParseReconcileFlags(args, os.Stderr)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			code = cli.ExitError
			break
		}
		opts.Stdout, opts.Stderr = os.Stdout, os.Stderr
		code = withPool(ctx, cfg, logger, func(pool *pgxpool.Pool) int {
			reports := subledger.NewService(subledger.NewRepository(pool), nil, logger)
			return cli.ReconcileCommand(ctx, reports, opts)
		})
	default:
		fmt.Fprintln(os.Stderr, cli.ErrUsage)
		code = cli.ExitError
	}
	stop()
	os.Exit(code)
}

func withPool(ctx context.Context, cfg *app.Config, logger *slog.Logger, fn func(*pgxpool.Pool) int) int {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return cli.ExitError
	}
	defer pool.Close()
	return fn(pool)
}

func migrate(cfg *app.Config, logger *slog.Logger) int {
	changed, err := db.Migrate(cfg.PGDSN)
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return cli.ExitError
	}
	logger.Info("migrations applied", slog.Bool("changed", changed))
	return cli.ExitOK
}

func chartSeeder(pool *pgxpool.Pool) cli.ChartSeeder {
	return func(ctx context.Context, tenantID uuid.UUID, accts []accounts.Account, bindings []accounts.Binding) error {
		return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			return accounts.Seed(ctx, tx, tenantID, accts, bindings)
		})
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return cli.ExitError
	}
	defer pool.Close()

	// Reports fall back to uncached reads when Redis is down.
	var reportCache *subledger.Cache
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		reportCache = subledger.NewCache(redisClient, cfg.ReportCacheTTL)
	}

	metrics := observability.NewMetrics()
	ledgerMetrics := observability.NewLedgerMetrics(metrics.Registerer())

	var notifier ledger.Notifier
	if reportCache != nil {
		notifier = reportCache
	}
	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, shared.NewAuditLogger(pool), notifier, logger, ledger.Config{
		Currency:   cfg.DefaultCurrency,
		MaxRetries: cfg.TxMaxRetries,
	})
	ledgerService.WithMetrics(ledgerMetrics)

	reports := subledger.NewService(subledger.NewRepository(pool), reportCache, logger)
	reports.WithMetrics(ledgerMetrics)

	documentService := documents.NewService(ledgerRepo, ledgerService, reports, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Database:         pool,
		LedgerHandler:    ledgerhttp.NewHandler(logger, ledgerService),
		DocumentsHandler: documentshttp.NewHandler(logger, documentService, documents.NewDecoder()),
		SubledgerHandler: subledgerhttp.NewHandler(logger, reports),
		AuditHandler:     audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(pool))),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	code := cli.ExitOK
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server", slog.Any("error", err))
		code = cli.ExitError
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return code
}
