package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ordersys/pipeline/internal/cache"
	"github.com/ordersys/pipeline/internal/config"
	"github.com/ordersys/pipeline/internal/httpapi"
	"github.com/ordersys/pipeline/internal/observability"
	"github.com/ordersys/pipeline/internal/queue"
	"github.com/ordersys/pipeline/internal/store"
	"github.com/ordersys/pipeline/internal/worker"
)

// App wires the pipeline together and owns its lifecycle: store, then HTTP
// listener, then worker on the way up; the reverse on the way down.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	shutdownOnce sync.Once
}

func New(cfg config.Config, logger *zap.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run blocks until a termination signal or a fatal server error. A store that
// cannot be reached at boot aborts startup; an unreachable queue only disables
// the worker, the read paths keep serving.
func (a *App) Run(ctx context.Context) error {
	pool, err := store.Connect(ctx, a.cfg.DSN())
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap store: %w", err)
	}

	api, err := queue.Connect(ctx, a.cfg.Queue.Region)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	q := queue.NewClient(api, a.cfg.Queue)

	c, err := cache.New(a.cfg.CacheCap)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	c.Warm(ctx, st)

	metrics := observability.NewInmem(256)

	handler := httpapi.NewHandler(st, q, c, a.logger.Named("http"), metrics)
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	w := worker.New(q, st, c, a.logger.Named("worker"), metrics)
	if err := w.Start(ctx); err != nil {
		a.logger.Warn("worker not started, serving reads only", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		a.logger.Info("signal received", zap.String("signal", sig.String()))
	case err := <-serveErr:
		a.logger.Error("http server failed", zap.Error(err))
		runErr = err
	case <-ctx.Done():
	}

	a.shutdown(srv, w)
	return runErr
}

// shutdown is idempotent: whichever exit path fires first wins, later
// invocations are no-ops. The pool closes after Run returns, once the worker
// has stopped writing.
func (a *App) shutdown(srv *http.Server, w *worker.Worker) {
	a.shutdownOnce.Do(func() {
		httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(httpCtx); err != nil {
			a.logger.Warn("http shutdown", zap.Error(err))
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), a.cfg.Worker.DrainTimeout)
		defer cancelDrain()
		if err := w.Stop(drainCtx); err != nil {
			a.logger.Warn("worker stop", zap.Error(err))
		}

		a.logger.Info("shutdown complete")
	})
}
