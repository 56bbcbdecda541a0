package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	tracker "github.com/OptimusRahul/covid19-tracker"
	"github.com/OptimusRahul/covid19-tracker/config"
	"github.com/OptimusRahul/covid19-tracker/covid"
	"github.com/OptimusRahul/covid19-tracker/prefs"
)

// memoryStorePath selects an in-memory store.
const memoryStorePath = ":memory:"

// app holds the wired dependencies of one command invocation.
type app struct {
	cfg       *config.Config
	logger    tracker.Logger
	metrics   *tracker.MetricsCollector
	fetcher   *tracker.Fetcher
	service   *covid.Service
	cache     *tracker.SafeStore
	favorites *prefs.Favorites
	prefs     *prefs.Store[prefs.Preferences]

	closers []func() error
}

// newApp builds the fetch stack described by cfg. Callers must Close it.
// On error everything opened so far is released.
func newApp(cfg *config.Config, stderr io.Writer) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.open(stderr); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(stderr io.Writer) error {
	cfg := a.cfg
	logger, err := a.openLogger(stderr)
	if err != nil {
		return err
	}
	a.logger = logger

	registry := prometheus.NewRegistry()
	a.metrics = tracker.NewMetricsCollectorWithRegistry(registry)
	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(registry); err != nil {
			return err
		}
	}

	source, err := a.openSource()
	if err != nil {
		return err
	}

	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	opts := []tracker.FetcherOption{
		tracker.WithDefaultTTL(cfg.Cache.TTL),
		tracker.WithMaxAttempts(cfg.Retry.MaxAttempts),
		tracker.WithRetryPolicy(policy),
		tracker.WithLogger(a.logger),
		tracker.WithMetrics(a.metrics),
	}
	if !cfg.Cache.Coalesce {
		opts = append(opts, tracker.WithoutCoalescing())
	}
	a.fetcher = tracker.NewFetcher(opts...)
	a.service = covid.NewService(source, a.fetcher, cfg.Cache.TTL)

	kv, err := a.openStore()
	if err != nil {
		return err
	}
	a.cache = tracker.NewSafeStore(kv, cfg.Storage.CachePrefix, a.logger)
	prefsStore := tracker.NewSafeStore(kv, cfg.Storage.PrefsPrefix, a.logger)
	a.favorites = prefs.NewFavorites(prefsStore)
	a.prefs = prefs.NewPreferences(prefsStore)
	return nil
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) openLogger(stderr io.Writer) (tracker.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	w := stderr
	if a.cfg.Log.File != "" {
		f, err := os.OpenFile(a.cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		w = f
	}
	return tracker.NewSimpleLogger(w, level), nil
}

func (a *app) serveMetrics(registry *prometheus.Registry) error {
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())

	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return nil
}

func (a *app) openSource() (covid.DataSource, error) {
	if a.cfg.Source.Mode == config.SourceSynthetic {
		return covid.NewSyntheticDataSource(covid.SyntheticOptions{
			Seed:         a.cfg.Source.Seed,
			LatencyScale: a.cfg.Source.LatencyScale,
			FailureRate:  a.cfg.Source.FailureRate,
		}), nil
	}

	options := []tracker.ClientOption{
		tracker.WithBaseURL(a.cfg.API.BaseURL),
		tracker.WithRequestTimeout(a.cfg.API.Timeout),
		tracker.WithClientLogger(a.logger),
		tracker.WithClientMetrics(a.metrics),
	}
	if a.cfg.API.Key != "" {
		options = append(options, tracker.WithAPIKey(a.cfg.API.KeyHeader, a.cfg.API.Key))
	}
	if rpm := a.cfg.API.RequestsPerMinute; rpm > 0 {
		options = append(options, tracker.WithRateLimiter(tracker.NewRateLimiter(rpm, time.Minute/time.Duration(rpm), tracker.SystemClock)))
	}
	if b := a.cfg.API.CircuitBreaker; b.FailureThreshold > 0 {
		options = append(options, tracker.WithCircuitBreaker(tracker.NewCircuitBreaker(tracker.CircuitBreakerConfig{
			FailureThreshold: b.FailureThreshold,
			RecoveryTimeout:  b.RecoveryTimeout,
			SuccessThreshold: b.SuccessThreshold,
		}, tracker.SystemClock)))
	}
	client := tracker.NewHTTPClient(options...)
	if err := client.ValidateConfiguration(); err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}
	return covid.NewRemoteDataSource(client, tracker.SystemClock), nil
}

func (a *app) openStore() (tracker.KVStore, error) {
	path := a.cfg.Storage.Path
	if path == memoryStorePath {
		return tracker.NewMemoryStore(), nil
	}
	if path == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		path = filepath.Join(dir, "covidtrack", "store.db")
	}
	store, err := tracker.OpenBoltStore(path, a.cfg.Storage.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// retryPolicy maps the retry config onto a per-kind policy.
func retryPolicy(r config.Retry) (*tracker.KindRetryPolicy, error) {
	def := tracker.BackoffConfig{
		BaseDelay: r.BaseDelay,
		MaxDelay:  r.MaxDelay,
		Jitter:    r.Jitter,
		Strategy:  r.Strategy,
	}
	var perKind map[tracker.ErrorKind]tracker.BackoffConfig
	if r.RateLimit.BaseDelay > 0 {
		rl := def
		rl.BaseDelay = r.RateLimit.BaseDelay
		rl.MaxDelay = r.RateLimit.MaxDelay
		perKind = map[tracker.ErrorKind]tracker.BackoffConfig{tracker.KindRateLimit: rl}
	}
	return tracker.NewKindRetryPolicy(def, perKind)
}
