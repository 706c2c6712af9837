// Package server initializes and runs the attachment sync server. It opens
// the database, runs migrations, wires the repositories, blob store,
// remote adapter and worker pool together, and starts the ops HTTP
// listener used for webhooks, metrics and health checks.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dkaspars/attachsync/internal/dbx"
	"github.com/dkaspars/attachsync/internal/logging"
	"github.com/dkaspars/attachsync/internal/server/blob"
	"github.com/dkaspars/attachsync/internal/server/config"
	"github.com/dkaspars/attachsync/internal/server/models"
	"github.com/dkaspars/attachsync/internal/server/queue"
	"github.com/dkaspars/attachsync/internal/server/remote"
	"github.com/dkaspars/attachsync/internal/server/repositories/events"
	"github.com/dkaspars/attachsync/internal/server/repositories/jobs"
	"github.com/dkaspars/attachsync/internal/server/repositories/repomanager"
	"github.com/dkaspars/attachsync/internal/server/syncer"
	"github.com/dkaspars/attachsync/internal/server/upload"
	"github.com/dkaspars/attachsync/internal/server/webhook"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	pool    *queue.Pool
	uploads *upload.Manager
	syncer  *syncer.Syncer
	ops     *http.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	// The database may still be starting; ping with backoff before running
	// migrations.
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(1*time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(db.PingContext(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	blobs, err := blob.NewS3Store(ctx, blob.S3Config{
		RootUser:     c.S3RootUser,
		RootPassword: c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	adapter := remote.NewHTTPAdapter(remote.HTTPAdapterOptions{
		BaseURL: c.RemoteBaseURL,
		Timeout: c.RemoteTimeout,
	})
	cred := remote.Credential(c.RemoteToken)
	scope := models.DedupScope(c.DedupScope)

	attachmentRepo := rm.Attachments(db)
	sessionRepo := rm.Sessions(db)
	jobRepo := rm.Jobs(db)
	eventRepo := rm.Events(db)
	dedupRepo := rm.Dedup(db)
	subscriptionRepo := rm.Subscriptions(db)

	sync := syncer.New(attachmentRepo, jobRepo, dedupRepo, eventRepo,
		blobs, adapter, cred, scope, logger)

	uploads := upload.NewManager(sessionRepo, attachmentRepo, dedupRepo, eventRepo,
		blobs, adapter, logger, upload.Config{
			SessionTTL: c.SessionTTL,
			DedupScope: scope,
		})

	metrics, err := queue.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("metrics init error: %w", err)
	}

	pool := queue.NewPool(jobRepo, eventRepo, attachmentRepo, sync, logger, metrics, queue.PoolConfig{
		Workers:      c.Workers,
		PollInterval: c.PollInterval,
		Backoff: queue.BackoffPolicy{
			Base: c.BackoffBase,
			Cap:  c.BackoffCap,
		},
	})

	if c.WebhookCallbackURL != "" {
		sub, created, err := webhook.Ensure(ctx, subscriptionRepo, c.WebhookCallbackURL)
		if err != nil {
			return nil, fmt.Errorf("webhook subscription error: %w", err)
		}
		if created {
			// The tracker needs the id and secret to sign its deliveries;
			// surfaced once, on creation.
			logger.Info(ctx, "webhook subscription provisioned",
				"subscription_id", sub.SubscriptionID, "secret", sub.Secret, "callback_url", sub.CallbackURL)
		} else {
			logger.Info(ctx, "webhook subscription found",
				"subscription_id", sub.SubscriptionID, "callback_url", sub.CallbackURL)
		}
	}

	// Webhook accepts write the job and its dedupe record in one
	// transaction, so a redelivery after a mid-accept failure starts clean.
	deliveryTx := webhook.TxRunner(func(ctx context.Context, fn func(ctx context.Context, jb jobs.Repository, ev events.Repository) error) error {
		return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return fn(ctx, rm.Jobs(tx), rm.Events(tx))
		})
	})
	hook := webhook.NewHandler(subscriptionRepo, eventRepo, attachmentRepo, deliveryTx, logger)

	mux := http.NewServeMux()
	mux.Handle("/webhook", hook)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	ops := &http.Server{
		Addr:              c.EndpointAddrHTTP,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		pool:    pool,
		uploads: uploads,
		syncer:  sync,
		ops:     ops,
	}, nil
}

// Syncer exposes the orchestration layer to embedding callers.
func (app *App) Syncer() *syncer.Syncer { return app.syncer }

// Uploads exposes the chunked upload manager to embedding callers.
func (app *App) Uploads() *upload.Manager { return app.uploads }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) sweepLoop(ctx context.Context) error {
	interval := app.config.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := app.uploads.SweepExpired(ctx)
			if err != nil {
				app.logger.Error(ctx, "session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "expired upload sessions swept", "count", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops listener error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return app.pool.Run(ctx)
	})

	g.Go(func() error {
		return app.sweepLoop(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ops.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	if closeErr := app.db.Close(); closeErr != nil {
		app.logger.Error(ctx, "db close error", "error", closeErr)
	}
	return err
}
