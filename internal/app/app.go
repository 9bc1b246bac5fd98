// Package app wires all edualign subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithOracle,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/edualign/internal/api"
	"github.com/MrWong99/edualign/internal/config"
	"github.com/MrWong99/edualign/internal/health"
	"github.com/MrWong99/edualign/internal/observe"
	"github.com/MrWong99/edualign/internal/oracle"
	"github.com/MrWong99/edualign/internal/pipeline"
	"github.com/MrWong99/edualign/internal/resilience"
	"github.com/MrWong99/edualign/internal/store"
	"github.com/MrWong99/edualign/pkg/provider/llm"
)

// ErrNoLLM is returned by [New] when neither a primary LLM provider nor an
// oracle override is available.
var ErrNoLLM = errors.New("app: no LLM provider configured")

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// NamedLLM pairs a provider with the registry name it was created from.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the LLM providers built from the config registry. Populated
// by the CLI via [config.Registry].
type Providers struct {
	// LLM is the primary provider. Nil means none is configured.
	LLM     llm.Provider
	LLMName string

	// Fallbacks are tried in order when the primary fails or its circuit
	// breaker is open.
	Fallbacks []NamedLLM
}

// App owns all subsystem lifetimes and serves the realignment API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics  *observe.Metrics
	llm      *resilience.LLMFallback
	oracle   oracle.Oracle
	runner   *Runner
	store    store.Store
	pool     *pgxpool.Pool
	health   *health.Handler
	handler  http.Handler
	server   *http.Server
	levelVar *slog.LevelVar
	tel      *observe.Telemetry

	// cfgMu guards cfg against concurrent reloads.
	cfgMu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a job store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithOracle injects a segmentation oracle, bypassing the LLM providers.
func WithOracle(o oracle.Oracle) Option {
	return func(a *App) { a.oracle = o }
}

// WithMetrics injects the metrics instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry uses tel's instruments, tracer provider and Prometheus
// registry. It takes precedence over [WithMetrics].
func WithTelemetry(tel *observe.Telemetry) Option {
	return func(a *App) {
		a.tel = tel
		a.metrics = tel.Metrics
	}
}

// WithLevelVar lets [App.Reload] adjust the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from the CLI (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: provider failover, oracle
// and pipeline construction, store connection and migration, and HTTP route
// registration. It does not start listening; see [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 2. LLM failover ──────────────────────────────────────────────────
	if err := a.initLLM(); err != nil {
		return nil, err
	}

	// ── 3. Pipeline ──────────────────────────────────────────────────────
	a.runner = NewRunner(a.buildPipeline(cfg.Pipeline))

	// ── 4. Job store ─────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 5. HTTP routes ───────────────────────────────────────────────────
	a.initHTTP()

	slog.Info("app initialised",
		"llm", a.providers.LLMName,
		"fallbacks", len(a.providers.Fallbacks),
		"postgres", a.pool != nil,
	)
	return a, nil
}

// initLLM wraps the configured providers in a circuit-breaking failover
// group. Skipped when an oracle override is injected.
func (a *App) initLLM() error {
	if a.oracle != nil {
		return nil
	}
	fb, err := NewLLM(a.providers, a.cfg.Resilience, a.metrics)
	if err != nil {
		return err
	}
	a.llm = fb
	return nil
}

// NewLLM puts the primary provider and its fallbacks behind per-provider
// circuit breakers tuned by rc. Breaker transitions are counted on m when it
// is non-nil. Returns [ErrNoLLM] when ps has no primary.
func NewLLM(ps *Providers, rc config.ResilienceConfig, m *observe.Metrics) (*resilience.LLMFallback, error) {
	if ps == nil || ps.LLM == nil {
		return nil, ErrNoLLM
	}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  rc.MaxFailures,
			ResetTimeout: rc.ResetTimeout,
			HalfOpenMax:  rc.HalfOpenProbes,
		},
	}
	if m != nil {
		fbCfg.CircuitBreaker.OnStateChange = func(tr resilience.Transition) {
			m.RecordBreakerTransition(context.Background(), tr.Name, tr.To.String())
		}
	}
	fb := resilience.NewLLMFallback(ps.LLM, ps.LLMName, fbCfg)
	for _, p := range ps.Fallbacks {
		fb.AddFallback(p.Name, p.Provider)
	}
	return fb, nil
}

// initStore opens PostgreSQL when a DSN is configured and falls back to the
// in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = store.NewMemStore()
		slog.Info("using in-memory job store")
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping: %w", err)
	}
	ps := store.NewPostgresStore(pool)
	if err := ps.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.pool = pool
	a.store = ps
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("using postgres job store")
	return nil
}

// initHTTP registers the job API, the probes and the Prometheus scrape
// endpoint on one mux behind the observability middleware.
func (a *App) initHTTP() {
	var checkers []health.Checker
	if a.llm != nil {
		checkers = append(checkers, health.ProviderChecker(a.llm))
	}
	if a.pool != nil {
		checkers = append(checkers, health.PingChecker("store", a.pool.Ping))
	}
	a.health = health.New(checkers)

	mux := http.NewServeMux()
	api.New(a.runner, a.store, api.WithMetrics(a.metrics)).Register(mux)
	a.health.Register(mux)
	var mwOpts []observe.MiddlewareOption
	if a.tel != nil {
		mux.Handle("GET /metrics", a.tel.Handler())
		mwOpts = append(mwOpts, observe.WithTracerProvider(a.tel.TracerProvider))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	a.handler = observe.Middleware(a.metrics, mwOpts...)(mux)
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// buildPipeline assembles a pipeline for pc on top of the injected oracle or
// the LLM failover group.
func (a *App) buildPipeline(pc config.PipelineConfig) *pipeline.Pipeline {
	o := a.oracle
	if o == nil {
		o = NewOracle(a.llm, a.providers.LLMName, pc, a.metrics)
	}
	return NewPipeline(o, pc, a.metrics)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wired HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Runner returns the hot-swappable pipeline runner.
func (a *App) Runner() *Runner { return a.runner }

// Store returns the job store in use.
func (a *App) Store() store.Store { return a.store }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves HTTP until ctx is
// cancelled or the server fails. On cancellation it returns ctx.Err(); the
// caller is expected to call [App.Shutdown] afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like [App.Run] but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies a changed configuration. The log level and the pipeline
// block take effect immediately; in-flight jobs finish on the pipeline they
// started with. Changes to providers, the listen address, resilience or the
// store are logged and need a restart.
func (a *App) Reload(newCfg *config.Config) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()

	diff := config.Diff(a.cfg, newCfg)

	if diff.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.PipelineChanged {
		a.runner.Swap(a.buildPipeline(newCfg.Pipeline))
		slog.Info("pipeline reconfigured",
			"paragraph_attempts", newCfg.Pipeline.ParagraphAttempts,
			"unit_attempts", newCfg.Pipeline.UnitAttempts,
			"max_concurrent_paragraphs", newCfg.Pipeline.MaxConcurrentParagraphs,
			"spacing_collapse_threshold", newCfg.Pipeline.SpacingThreshold(),
		)
	}
	if diff.RequiresRestart() {
		slog.Warn("config changes require a restart to take effect",
			"providers", diff.ProvidersChanged,
			"listen_addr", diff.ListenAddrChanged,
			"resilience", diff.ResilienceChanged,
			"store", diff.StoreChanged,
		)
	}

	a.cfg = newCfg
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the service as draining, stops accepting requests, waits for
// in-flight jobs and then runs the closers in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.health.SetDraining(true)
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
