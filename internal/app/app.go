// Package app assembles subsyncd from configuration: store, Stripe ledger,
// reconciler, rate limiter, metrics and the HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/subsync/internal/config"
	"github.com/mihaimyh/subsync/pkg/api"
	"github.com/mihaimyh/subsync/pkg/billing"
	billinglog "github.com/mihaimyh/subsync/pkg/billing/logger/zerolog"
	prommetrics "github.com/mihaimyh/subsync/pkg/billing/metrics/prometheus"
	billingstripe "github.com/mihaimyh/subsync/pkg/billing/stripe"
	"github.com/mihaimyh/subsync/pkg/ratelimit"
	redislimit "github.com/mihaimyh/subsync/pkg/ratelimit/redis"
	firestorestore "github.com/mihaimyh/subsync/storage/firestore"
	"github.com/mihaimyh/subsync/storage/memory"
	"github.com/mihaimyh/subsync/storage/postgres"
	redisstore "github.com/mihaimyh/subsync/storage/redis"
	"github.com/mihaimyh/subsync/storage/tiered"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Store      billing.Store
	Ledger     billing.Ledger
	Reconciler *billing.Reconciler
	Limiter    ratelimit.Limiter
	Registry   *prometheus.Registry

	metrics billing.Metrics
	redis   redis.UniversalClient
	closers []func() error
}

// Option overrides a component New would otherwise build from config.
type Option func(*App)

// WithLogger sets the process logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *App) { a.Logger = logger }
}

// WithStore supplies the subscription store.
func WithStore(store billing.Store) Option {
	return func(a *App) { a.Store = store }
}

// WithLedger supplies the billing provider. No circuit breaker is added.
func WithLedger(ledger billing.Ledger) Option {
	return func(a *App) { a.Ledger = ledger }
}

// WithLimiter supplies the rate limiter.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(a *App) { a.Limiter = limiter }
}

// New builds an App. Components not supplied through options are created
// from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg, Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}

	a.Registry = prometheus.NewRegistry()
	a.metrics = &billing.NoopMetrics{}
	if cfg.Metrics.Enabled {
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = prommetrics.NewMetrics(a.Registry, cfg.Metrics.Namespace)
	}

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	logger := billinglog.NewLogger(&a.Logger)

	if a.Store == nil {
		store, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if cfg.Store.Cache.Enabled {
			store, err = a.withCache(store)
			if err != nil {
				return err
			}
		}
		a.Store = store
	}

	if a.Ledger == nil {
		if err := cfg.RequireStripe(); err != nil {
			return err
		}
		ledger, err := billingstripe.NewLedger(billingstripe.Config{
			StripeAPIKey: cfg.Stripe.APIKey,
			HTTPClient:   &http.Client{Timeout: cfg.Stripe.HTTPTimeout},
			Metrics:      a.metrics,
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create stripe ledger: %w", err)
		}
		a.Ledger = ledger
		if cfg.CircuitBreaker.Enabled {
			cb := billing.NewDefaultCircuitBreaker(
				cfg.CircuitBreaker.FailureThreshold,
				cfg.CircuitBreaker.ResetTimeout,
				func(state billing.CircuitBreakerState) {
					a.Logger.Warn().Str("state", string(state)).Msg("stripe circuit breaker state changed")
				},
			)
			a.Ledger = billing.NewCircuitBreakerLedger(ledger, cb)
		}
	}

	reconciler, err := billing.NewReconciler(billing.Config{
		Store:              a.Store,
		Ledger:             a.Ledger,
		MaxEmailCandidates: cfg.Reconcile.MaxEmailCandidates,
		StrictWrites:       cfg.Reconcile.StrictWrites,
		Logger:             logger,
		Metrics:            a.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}
	a.Reconciler = reconciler

	if a.Limiter == nil {
		limiter, err := a.openLimiter()
		if err != nil {
			return err
		}
		a.Limiter = limiter
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (billing.Store, error) {
	cfg := a.Config.Store
	switch cfg.Driver {
	case config.StorePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.ConnectionString = cfg.Postgres.DSN
		if cfg.Postgres.MaxConns > 0 {
			pgCfg.MaxConns = cfg.Postgres.MaxConns
		}
		if cfg.Postgres.MinConns > 0 {
			pgCfg.MinConns = cfg.Postgres.MinConns
		}
		store, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil

	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return firestorestore.New(client, firestorestore.Config{
			SubscriptionsCollection: cfg.Firestore.SubscriptionsCollection,
			ProfilesCollection:      cfg.Firestore.ProfilesCollection,
		})

	default:
		a.Logger.Warn().Msg("using in-memory store; state is lost on restart")
		return memory.New(), nil
	}
}

// withCache puts a Redis hot tier in front of the durable store.
func (a *App) withCache(cold billing.Store) (billing.Store, error) {
	cfg := a.Config.Store.Cache
	hot, err := redisstore.New(a.redisClient(), redisstore.Config{
		KeyPrefix: cfg.KeyPrefix,
		RecordTTL: cfg.RecordTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return tiered.New(tiered.Config{
		Hot:  hot,
		Cold: cold,
		ErrorHandler: func(err error) {
			a.Logger.Warn().Err(err).Msg("store cache out of sync")
		},
	})
}

// redisClient returns the shared client, dialing lazily on first use.
func (a *App) redisClient() redis.UniversalClient {
	if a.redis == nil {
		cfg := a.Config.Redis
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		a.closers = append(a.closers, a.redis.Close)
	}
	return a.redis
}

func (a *App) openLimiter() (ratelimit.Limiter, error) {
	cfg := a.Config.RateLimit
	switch cfg.Backend {
	case config.RateLimitRedis:
		limiter, err := redislimit.New(a.redisClient(), redislimit.Config{KeyPrefix: cfg.KeyPrefix})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter: %w", err)
		}
		return limiter, nil

	case config.RateLimitMemory:
		limiter := ratelimit.NewMemoryLimiter()
		a.closers = append(a.closers, func() error { limiter.Stop(); return nil })
		return limiter, nil

	default:
		return nil, nil
	}
}

// Handler builds the sync handler with the given authenticator.
func (a *App) Handler(authenticate api.Authenticator) (*api.Handler, error) {
	cfg := a.Config
	return api.NewHandler(api.Config{
		Reconciler:     a.Reconciler,
		Authenticate:   authenticate,
		RateLimiter:    a.Limiter,
		RateLimit:      ratelimit.Policy{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window},
		RequestTimeout: cfg.Server.RequestTimeout,
		Coalesce:       cfg.Reconcile.Coalesce,
		Logger:         billinglog.NewLogger(&a.Logger),
	})
}

// Ping checks the store and the limiter when they support it.
func (a *App) Ping(ctx context.Context) error {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := a.Store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	if p, ok := a.Limiter.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	return nil
}

// Close releases resources opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Authenticator builds the JWT bearer authenticator from the auth section.
func (a *App) Authenticator() (api.Authenticator, error) {
	if err := a.Config.RequireAuth(); err != nil {
		return nil, err
	}
	verifier, err := api.NewJWTVerifier(api.JWTConfig{
		Secret:   []byte(a.Config.Auth.JWTSecret),
		Issuer:   a.Config.Auth.Issuer,
		Audience: a.Config.Auth.Audience,
		Leeway:   a.Config.Auth.Leeway,
	})
	if err != nil {
		return nil, err
	}
	return verifier.Authenticate, nil
}
