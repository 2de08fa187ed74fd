package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"prefab-loader/internal/telemetry"
	"prefab-loader/prefab"
	"prefab-loader/prefab/application"
	"prefab-loader/prefab/domain"
	"prefab-loader/prefab/infra"
)

type config struct {
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080"`
	ContentURL      string        `env:"CONTENT_URL,required"`
	Platform        string        `env:"PLATFORM"`
	AllowPreRelease bool          `env:"ALLOW_PRERELEASE" envDefault:"false"`
	AllowedHosts    string        `env:"ALLOWED_HOSTS"`
	MaxBundleBytes  int64         `env:"MAX_BUNDLE_BYTES" envDefault:"67108864"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	LoadTimeout     time.Duration `env:"LOAD_TIMEOUT" envDefault:"60s"`
	PoolCooldown    time.Duration `env:"POOL_COOLDOWN" envDefault:"5s"`

	DownloadMax     int           `env:"DOWNLOAD_MAX" envDefault:"4"`
	DownloadTimeout time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"0s"`
	DownloadRPS     float64       `env:"DOWNLOAD_RPS" envDefault:"0"`
	DownloadBurst   int           `env:"DOWNLOAD_BURST" envDefault:"1"`

	// ex: "cdn.example.com=20:40,slow.example.com=0.5"
	DownloadHostRates string `env:"DOWNLOAD_HOST_RATES"`

	APIRPS             float64       `env:"API_RPS" envDefault:"0"`
	APIBurst           int           `env:"API_BURST" envDefault:"20"`
	APIConcurrency     int           `env:"API_CONCURRENCY" envDefault:"100"`
	APIAcquireTimeout  time.Duration `env:"API_ACQUIRE_TIMEOUT" envDefault:"0s"`
	KeyHeader          string        `env:"KEY_HEADER"`
	TrustXFF           bool          `env:"TRUST_XFF" envDefault:"false"`
	RetryAfter         time.Duration `env:"RETRY_AFTER" envDefault:"1s"`
	AddRateLimitHeader bool          `env:"ADD_RATELIMIT_HEADERS" envDefault:"false"`

	StatsEnabled       bool          `env:"STATS_ENABLED" envDefault:"false"`
	StatsRedisAddr     string        `env:"STATS_REDIS_ADDR"`
	StatsRedisPassword string        `env:"STATS_REDIS_PASSWORD"`
	StatsRedisDB       int           `env:"STATS_REDIS_DB" envDefault:"0"`
	StatsPrefix        string        `env:"STATS_PREFIX" envDefault:"prefab:stats"`
	StatsTTL           time.Duration `env:"STATS_TTL" envDefault:"24h"`
	StatsBucket        string        `env:"STATS_BUCKET" envDefault:"minute"`
	StatsTrackIDs      bool          `env:"STATS_TRACK_IDS" envDefault:"false"`
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	otelCfg, err := telemetry.ConfigFromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	shutdownTracing, err := telemetry.Setup(ctx, "prefabd", otelCfg)
	if err != nil {
		log.Fatalf("telemetry error: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("telemetry shutdown error: %v", err)
		}
	}()

	store, err := infra.NewHTTPStore(cfg.ContentURL,
		infra.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		infra.WithMaxBundleBytes(cfg.MaxBundleBytes),
	)
	if err != nil {
		log.Fatalf("content store error: %v", err)
	}

	memStats := infra.NewMemoryStatsStore(infra.WithTrackIDs(cfg.StatsTrackIDs))
	stats := infra.MultiStats{memStats}
	if cfg.StatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.StatsRedisAddr,
			Password: cfg.StatsRedisPassword,
			DB:       cfg.StatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			log.Fatalf("redis stats ping error: %v", err)
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.StatsPrefix),
			infra.WithStatsTTL(cfg.StatsTTL),
			infra.WithStatsBucket(cfg.StatsBucket),
			infra.WithStatsTrackIDs(cfg.StatsTrackIDs),
		))
	}

	gate := application.DownloadGate{
		Slots:          infra.NewSlotPool(cfg.DownloadMax),
		AcquireTimeout: cfg.DownloadTimeout,
	}
	if cfg.DownloadRPS > 0 || cfg.DownloadHostRates != "" {
		hostRates, err := infra.ParseKeyRates(cfg.DownloadHostRates)
		if err != nil {
			log.Fatalf("config error: DOWNLOAD_HOST_RATES: %v", err)
		}
		// sem DOWNLOAD_RPS, hosts fora da lista não são limitados
		rps, burst := cfg.DownloadRPS, cfg.DownloadBurst
		if rps <= 0 {
			rps, burst = float64(rate.Inf), 1
		}
		limiters := infra.NewLimiterStore(rps, burst, hostRates...)
		limiters.StartJanitor(ctx)
		gate.Limiters = limiters
	}

	var security domain.SecurityPolicy = infra.AllowAll{}
	if strings.TrimSpace(cfg.AllowedHosts) != "" {
		security = infra.NewHostAllowList(cfg.AllowedHosts)
	}

	logger := log.Default()
	ready := application.NewReadiness(false)
	loader := application.NewLoader(store, &infra.SceneInstantiator{},
		infra.PlatformResolver{Platform: domain.Platform(cfg.Platform), AllowPreRelease: cfg.AllowPreRelease},
		application.WithPool(application.NewPool(
			application.WithCooldown(cfg.PoolCooldown),
			application.WithPoolLogger(logger),
			application.WithPoolStats(stats),
		)),
		application.WithReadiness(ready),
		application.WithGate(gate),
		application.WithStats(stats),
		application.WithSecurity(security),
		application.WithLogger(logger),
	)
	go func() {
		if err := waitForContent(ctx, cfg.ContentURL, ready, originBackOff()); err != nil && ctx.Err() == nil {
			log.Printf("content origin probe stopped: %v", err)
		}
	}()

	scopes := prefab.NewScopes()
	defer scopes.CloseAll()

	api := &prefab.API{
		Loader:      loader,
		Scopes:      scopes,
		Stats:       memStats,
		LoadTimeout: cfg.LoadTimeout,
		Logger:      logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/", api.Routes())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Ready() {
			http.Error(w, "content origin not reachable yet", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := http.Handler(mux)
	h = prefab.Concurrency(prefab.ConcurrencyOptions{
		Max:            cfg.APIConcurrency,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.APIAcquireTimeout,
	})(h)
	if cfg.APIRPS > 0 {
		apiLimiters := infra.NewLimiterStore(cfg.APIRPS, cfg.APIBurst)
		apiLimiters.StartJanitor(ctx)
		h = prefab.Throttle(prefab.ThrottleOptions{
			Store:               apiLimiters,
			KeyHeader:           cfg.KeyHeader,
			TrustXForwardedFor:  cfg.TrustXFF,
			RejectStatus:        http.StatusTooManyRequests,
			RetryAfter:          cfg.RetryAfter,
			AddRateLimitHeaders: cfg.AddRateLimitHeader,
			Exempt:              func(r *http.Request) bool { return r.URL.Path == "/healthz" },
		})(h)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.LoadTimeout + 10*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// cancela loads pendentes antes de fechar as conexões
		loader.Lifetime().Reset()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("prefabd listening on %s -> %s", cfg.ListenAddr, cfg.ContentURL)
	log.Printf("pool: cooldown=%s platform=%q prerelease=%v allowedHosts=%q", cfg.PoolCooldown, cfg.Platform, cfg.AllowPreRelease, cfg.AllowedHosts)
	log.Printf("downloads: max=%d rps=%.3f burst=%d hostRates=%q acquireTimeout=%s", cfg.DownloadMax, cfg.DownloadRPS, cfg.DownloadBurst, cfg.DownloadHostRates, cfg.DownloadTimeout)
	log.Printf("api: rps=%.3f burst=%d concurrency=%d keyHeader=%q trustXFF=%v", cfg.APIRPS, cfg.APIBurst, cfg.APIConcurrency, cfg.KeyHeader, cfg.TrustXFF)
	log.Printf("stats: redis=%v addr=%q bucket=%q ttl=%s trackIDs=%v", cfg.StatsEnabled, cfg.StatsRedisAddr, cfg.StatsBucket, cfg.StatsTTL, cfg.StatsTrackIDs)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func readConfig() (config, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return config{}, err
	}

	u, err := url.Parse(cfg.ContentURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return config{}, fmt.Errorf("CONTENT_URL must be an absolute URL, got %q", cfg.ContentURL)
	}
	if cfg.StatsEnabled && strings.TrimSpace(cfg.StatsRedisAddr) == "" {
		return config{}, errors.New("STATS_REDIS_ADDR is required when STATS_ENABLED=true")
	}
	if cfg.PoolCooldown < 0 {
		return config{}, errors.New("POOL_COOLDOWN must be >= 0")
	}
	if cfg.DownloadMax < 0 {
		return config{}, errors.New("DOWNLOAD_MAX must be >= 0")
	}
	if cfg.DownloadRPS < 0 || cfg.APIRPS < 0 {
		return config{}, errors.New("DOWNLOAD_RPS and API_RPS must be >= 0")
	}
	// IMPORTANTE: com RPS baixo (ex: 0.02) um burst alto deixa passar a rajada
	// inicial inteira e parece que o limiter não funciona.
	if cfg.DownloadRPS > 0 && cfg.DownloadBurst <= 0 {
		return config{}, errors.New("DOWNLOAD_BURST must be > 0")
	}
	if cfg.APIRPS > 0 && cfg.APIBurst <= 0 {
		return config{}, errors.New("API_BURST must be > 0")
	}
	if _, err := infra.ParseKeyRates(cfg.DownloadHostRates); err != nil {
		return config{}, fmt.Errorf("DOWNLOAD_HOST_RATES: %w", err)
	}
	if cfg.MaxBundleBytes <= 0 {
		return config{}, errors.New("MAX_BUNDLE_BYTES must be > 0")
	}
	return cfg, nil
}

// waitForContent marca o loader como pronto quando a origem responde.
// Até lá os loads ficam bloqueados na barreira de prontidão.
func waitForContent(ctx context.Context, contentURL string, ready *application.Readiness, b backoff.BackOff) error {
	client := &http.Client{Timeout: 2 * time.Second}
	probe := func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, contentURL, nil)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp.StatusCode, fmt.Errorf("content origin answered %d", resp.StatusCode)
		}
		return resp.StatusCode, nil
	}

	_, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("content origin not ready (%v), retrying in %s", err, next)
		}),
	)
	if err != nil {
		return err
	}
	ready.MarkReady()
	log.Printf("content origin reachable: %s", contentURL)
	return nil
}

func originBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}
