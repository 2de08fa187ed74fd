package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"prefab-loader/prefab/domain"

	"golang.org/x/time/rate"
)

// KeyRate é a taxa de um token bucket.
type KeyRate struct {
	RPS   float64
	Burst int
}

// LimiterStore guarda um token bucket (x/time/rate) por chave. Chaves sem
// uso por idleTTL são descartadas pelo janitor.
//
// A fila de downloads usa o host do documento como chave; o throttle da API
// usa o cliente.
type LimiterStore struct {
	mu        sync.Mutex
	buckets   map[domain.Key]*bucket
	def       KeyRate
	overrides map[domain.Key]KeyRate

	idleTTL time.Duration
	sweep   time.Duration
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	used time.Time
}

type LimiterOption func(*LimiterStore)

func WithIdleTTL(d time.Duration) LimiterOption {
	return func(s *LimiterStore) { s.idleTTL = d }
}

// WithCleanupEvery define o intervalo do janitor; <= 0 desliga.
func WithCleanupEvery(d time.Duration) LimiterOption {
	return func(s *LimiterStore) { s.sweep = d }
}

// WithKeyRate dá a key uma taxa própria, diferente da padrão.
func WithKeyRate(key domain.Key, r KeyRate) LimiterOption {
	return func(s *LimiterStore) { s.overrides[key] = r }
}

func withClock(now func() time.Time) LimiterOption {
	return func(s *LimiterStore) { s.now = now }
}

func NewLimiterStore(rps float64, burst int, opts ...LimiterOption) *LimiterStore {
	s := &LimiterStore{
		buckets:   make(map[domain.Key]*bucket),
		def:       KeyRate{RPS: rps, Burst: burst},
		overrides: make(map[domain.Key]KeyRate),
		idleTTL:   15 * time.Minute,
		sweep:     2 * time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LimiterStore) RPS() float64 { return s.def.RPS }
func (s *LimiterStore) Burst() int { return s.def.Burst }

// RateFor retorna a taxa efetiva de key.
func (s *LimiterStore) RateFor(key domain.Key) KeyRate {
	if r, ok := s.overrides[key]; ok {
		return r
	}
	return s.def
}

// Get implementa domain.LimiterStore.
func (s *LimiterStore) Get(key domain.Key) domain.Limiter {
	return s.limiter(key)
}

func (s *LimiterStore) limiter(key domain.Key) *rate.Limiter {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[key]; ok {
		b.used = now
		return b.lim
	}
	r := s.RateFor(key)
	b := &bucket{lim: rate.NewLimiter(rate.Limit(r.RPS), r.Burst), used: now}
	s.buckets[key] = b
	return b.lim
}

// Delay diz quanto falta para key ter uma ficha, sem consumi-la.
func (s *LimiterStore) Delay(key domain.Key) time.Duration {
	lim := s.limiter(key)
	now := s.now()
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return 0
	}
	d := res.DelayFrom(now)
	res.CancelAt(now)
	return d
}

func (s *LimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Cleanup remove os buckets sem uso há mais de idleTTL e retorna quantos saíram.
func (s *LimiterStore) Cleanup() int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, b := range s.buckets {
		if b.used.Before(cutoff) {
			delete(s.buckets, k)
			n++
		}
	}
	return n
}

// StartJanitor roda Cleanup periodicamente até ctx ser cancelado.
func (s *LimiterStore) StartJanitor(ctx context.Context) {
	if s.sweep <= 0 {
		return
	}

	t := time.NewTicker(s.sweep)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// ParseKeyRates lê "host=rps:burst,host2=rps" em opções WithKeyRate.
// Sem ":burst", o burst é 1.
func ParseKeyRates(csv string) ([]LimiterOption, error) {
	var opts []LimiterOption
	for _, item := range strings.Split(csv, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, val, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("key rate %q: expected key=rps[:burst]", item)
		}
		rpsStr, burstStr, hasBurst := strings.Cut(val, ":")
		rps, err := strconv.ParseFloat(strings.TrimSpace(rpsStr), 64)
		if err != nil || rps <= 0 {
			return nil, fmt.Errorf("key rate %q: invalid rps", item)
		}
		burst := 1
		if hasBurst {
			if burst, err = strconv.Atoi(strings.TrimSpace(burstStr)); err != nil || burst <= 0 {
				return nil, fmt.Errorf("key rate %q: invalid burst", item)
			}
		}
		opts = append(opts, WithKeyRate(domain.Key(strings.TrimSpace(key)), KeyRate{RPS: rps, Burst: burst}))
	}
	return opts, nil
}
