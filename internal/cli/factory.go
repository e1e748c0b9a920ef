package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/limpopo/internal/config"
	"github.com/aretw0/limpopo/pkg/adapters/memory"
	"github.com/aretw0/limpopo/pkg/adapters/postgres"
	redisstore "github.com/aretw0/limpopo/pkg/adapters/redis"
	"github.com/aretw0/limpopo/pkg/adapters/sqlite"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/observability"
	"github.com/aretw0/limpopo/pkg/persistence/middleware"
	"github.com/aretw0/limpopo/pkg/ports"
	"github.com/aretw0/limpopo/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend is an opened storage driver plus its optional distributed locker.
type Backend struct {
	Storage ports.Storage
	Locker  ports.DistributedLocker
	LockTTL time.Duration

	close func() error
}

// Close releases the driver's connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend opens the storage driver selected by cfg and applies the configured
// storage middlewares.
func OpenBackend(ctx context.Context, cfg config.Storage, logger *slog.Logger) (*Backend, error) {
	mws, err := storageMiddlewares(cfg)
	if err != nil {
		return nil, err
	}

	b, err := openDriver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(mws) > 0 {
		b.Storage = middleware.Chain(b.Storage, mws...)
		logger.Info("Storage middlewares enabled", "encryption", cfg.EncryptionKey != "", "redact", len(cfg.Redact))
	}
	return b, nil
}

func storageMiddlewares(cfg config.Storage) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(cfg.Redact) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.Redact)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	if cfg.EncryptionKey != "" {
		active, err := decodeKey(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		enc := middleware.EncryptionConfig{ActiveKey: active}
		for _, k := range cfg.FallbackKeys {
			key, err := decodeKey(k)
			if err != nil {
				return nil, err
			}
			enc.FallbackKeys = append(enc.FallbackKeys, key)
		}
		mw, err := middleware.NewEncryptionMiddleware(enc)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	return mws, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key is not valid base64: %w", domain.ErrInvalidSettings, err)
	}
	return key, nil
}

func openDriver(ctx context.Context, cfg config.Storage, logger *slog.Logger) (*Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Warn("Using in-memory storage; dialogs will not survive a restart")
		return &Backend{Storage: memory.NewStore()}, nil

	case config.DriverRedis:
		opts, err := cfg.RedisOptions()
		if err != nil {
			return nil, err
		}
		store := redisstore.New(opts.Addr, opts.Password, opts.DB, redisstore.WithPrefix(opts.Prefix))
		b := &Backend{Storage: store, close: store.Close}
		if opts.Lock {
			b.Locker = redisstore.NewLocker(store.Client(), opts.Prefix)
			b.LockTTL = opts.LockTTL
		}
		logger.Info("Using redis storage", "addr", opts.Addr, "db", opts.DB, "lock", opts.Lock)
		return b, nil

	case config.DriverPostgres:
		opts, err := cfg.PostgresOptions()
		if err != nil {
			return nil, err
		}
		store, err := postgres.Open(ctx, opts.DSN, opts.MaxConns)
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("failed to create postgres schema: %w", err)
			}
		}
		logger.Info("Using postgres storage", "max_conns", opts.MaxConns)
		return &Backend{Storage: store, close: store.Close}, nil

	case config.DriverSQLite:
		opts, err := cfg.SQLiteOptions()
		if err != nil {
			return nil, err
		}
		store, err := sqlite.Open(opts.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("Using sqlite storage", "path", opts.Path)
		return &Backend{Storage: store, close: store.Close}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// Runtime holds what every transport command shares: configuration, logger,
// storage and metrics.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Backend  *Backend
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	halted   chan struct{}
	haltOnce sync.Once
}

// Bootstrap builds the Runtime. Logs go to logOut (stderr when nil).
func Bootstrap(ctx context.Context, cfg *config.Config, logOut io.Writer) (*Runtime, error) {
	logger, err := NewLogger(cfg, logOut)
	if err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Backend:  backend,
		Registry: reg,
		Metrics:  observability.NewMetrics(reg),
		halted:   make(chan struct{}),
	}, nil
}

// NewService wires a session service for one transport.
func (rt *Runtime) NewService(quiz session.QuizFunc, transport ports.Transport, settings session.Settings, renderer ports.QuestionRenderer) (*session.Service, error) {
	opts := []session.Option{
		session.WithSettings(settings),
		session.WithRetryPolicy(rt.Config.Retry.Policy()),
		session.WithLogger(rt.Logger),
		session.WithMetrics(rt.Metrics),
		session.WithEscalation(rt.escalate),
	}
	if renderer != nil {
		opts = append(opts, session.WithRenderer(renderer))
	}
	if rt.Backend.Locker != nil {
		opts = append(opts, session.WithLocker(rt.Backend.Locker, rt.Backend.LockTTL))
	}
	return session.NewService(quiz, rt.Backend.Storage, transport, opts...)
}

// escalate reports a storage call that exhausted its retries and, unless
// retry.halt_on_exhausted is off, halts the runtime.
func (rt *Runtime) escalate(_ context.Context, op string, err error) {
	rt.Logger.Error("Storage is unavailable, operator attention required", "op", op, "err", err)
	if !rt.Config.Retry.HaltOnExhausted {
		return
	}
	rt.haltOnce.Do(func() {
		rt.Logger.Warn("Halting after storage exhaustion", "op", op)
		close(rt.halted)
	})
}

// Halted is closed once the runtime halts.
func (rt *Runtime) Halted() <-chan struct{} {
	return rt.halted
}

// Guard derives a context that is also cancelled when the runtime halts.
func (rt *Runtime) Guard(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-rt.halted:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Close releases the backend.
func (rt *Runtime) Close() {
	if err := rt.Backend.Close(); err != nil {
		rt.Logger.Warn("Failed to close storage", "err", err)
	}
}

// ServeMetrics exposes the registry on addr until ctx ends. An empty addr is a no-op.
func (rt *Runtime) ServeMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		rt.Logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error("Metrics server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
