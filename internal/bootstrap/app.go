package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Popie52/jobscheduler/internal/config"
	"github.com/Popie52/jobscheduler/internal/core"
	"github.com/Popie52/jobscheduler/internal/logger"
	"github.com/Popie52/jobscheduler/internal/metrics"
	"github.com/Popie52/jobscheduler/internal/provider"
	"github.com/Popie52/jobscheduler/internal/store"
)

const (
	startupTimeout = 10 * time.Second
	staleAfter     = 30 * time.Minute
)

// Run starts the scheduler and blocks until a termination signal (or ctx)
// stops it and in-flight jobs are drained. It returns an error only for
// startup failures or a failed HTTP listener.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	stopped := make(chan struct{})
	defer close(stopped)
	go watchSignals(sig, stopped, cancel, log, forceExit)

	// store

	st, err := OpenStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, startupTimeout)
	defer pingCancel()
	if err := st.Ping(pingCtx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	log.Info("database connection established", zap.String("driver", cfg.StoreDriver))

	reportStaleJobs(pingCtx, st, log)

	// metrics

	m := metrics.New()

	// providers

	chain, err := BuildChain(ctx, cfg, log, m)
	if err != nil {
		return err
	}

	// scheduling

	worker := core.NewWorker(core.NewProcessor(st, chain), st, log.With(logger.Scope("worker")), m)
	dispatcher := core.NewDispatcher(st, worker, cfg.MaxConcurrency, log.With(logger.Scope("dispatcher")), m)
	scheduler := core.NewScheduler(st, dispatcher, cfg.PollInterval(), log.With(logger.Scope("scheduler")), m)
	coordinator := core.NewCoordinator(dispatcher, cfg.ShutdownTimeout, log.With(logger.Scope("shutdown")))

	log.Info("starting job scheduler",
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.Duration("poll_interval", cfg.PollInterval()),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Strings("providers", chain.Names()))

	g, gctx := errgroup.WithContext(ctx)
	drained := make(chan struct{})

	g.Go(func() error {
		defer close(drained)
		err := scheduler.Run(gctx)
		coordinator.Shutdown()
		return err
	})

	// http

	if cfg.HTTPAddr != "" {
		e := newHTTPServer(scheduler, st, m, log.With(logger.Scope("http")))

		g.Go(func() error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})

		// health keeps answering while jobs drain
		g.Go(func() error {
			<-drained
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		})
	}

	log.Info("job scheduler started")
	err = g.Wait()
	log.Info("job scheduler stopped")
	return err
}

var forceExit = os.Exit

// watchSignals cancels the run on the first signal. A second signal while
// jobs drain exits the process at once.
func watchSignals(sig <-chan os.Signal, stopped <-chan struct{}, cancel context.CancelFunc, log *zap.Logger, exit func(int)) {
	select {
	case s := <-sig:
		log.Info("shutdown signal received", zap.String("signal", s.String()))
		cancel()
	case <-stopped:
		return
	}

	select {
	case s := <-sig:
		log.Warn("second signal received, exiting without waiting for jobs",
			zap.String("signal", s.String()))
		_ = log.Sync()
		exit(1)
	case <-stopped:
	}
}

// OpenStore connects the backend selected by STORE_DRIVER. It does not
// ping.
func OpenStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return OpenPostgres(cfg)
	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return store.NewRedisJobStore(rdb, cfg.MaxRetries), nil
	case config.DriverFile:
		return store.NewFileJobStore(cfg.FileStorePath, cfg.MaxRetries)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func OpenPostgres(cfg *config.Config) (*store.PostgresJobStore, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConcurrency + 4)
	return store.NewPostgresJobStore(db, cfg.MaxRetries), nil
}

// BuildChain creates the configured providers in fallback order.
func BuildChain(ctx context.Context, cfg *config.Config, log *zap.Logger, m metrics.MetricsFn) (*provider.Chain, error) {
	var providers []provider.Provider
	for _, spec := range cfg.ProviderSpecs() {
		p, err := provider.New(ctx, spec, nil)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider.WithRateLimit(p, cfg.LLM.RateLimitPerMinute))
	}

	return provider.NewChain(providers,
		provider.WithLogger(log.With(logger.Scope("provider"))),
		provider.WithTimeout(cfg.LLM.Timeout),
		provider.WithMetrics(m)), nil
}

// reportStaleJobs logs jobs a previous process left in running. They are
// not touched; an operator decides what to do with them.
func reportStaleJobs(ctx context.Context, st store.Admin, log *zap.Logger) {
	n, err := st.CountStaleRunning(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		log.Warn("could not count stale running jobs", zap.Error(err))
		return
	}
	if n > 0 {
		log.Warn("jobs stuck in running from an earlier process", zap.Int("count", n))
	}
}
