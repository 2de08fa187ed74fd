package prefab

import (
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"prefab-loader/prefab/domain"
)

// KeyFunc extrai a identidade do cliente de uma requisição.
type KeyFunc func(r *http.Request) string

type ThrottleOptions struct {
	Store domain.LimiterStore
	KeyFn KeyFunc
	// KeyHeader e TrustXForwardedFor só valem quando KeyFn é nil.
	KeyHeader          string
	TrustXForwardedFor bool
	// Exempt deixa passar requisições sem consumir ficha (ex: health check).
	Exempt       func(r *http.Request) bool
	RejectStatus int
	// RetryAfter é o mínimo anunciado; se Store souber o atraso real, ele vence.
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

type delayer interface {
	Delay(key domain.Key) time.Duration
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}
		if trustXFF {
			// primeiro IP do X-Forwarded-For = cliente original
			first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		return remoteHost(r.RemoteAddr)
	}
}

func remoteHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}

// Throttle limita requisições por cliente com o token bucket de opts.Store.
// Store nil desliga o middleware.
func Throttle(opts ThrottleOptions) func(next http.Handler) http.Handler {
	if opts.Store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	info, _ := opts.Store.(rateInfo)
	delays, _ := opts.Store.(delayer)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Exempt != nil && opts.Exempt(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := domain.Key(opts.KeyFn(r))
			if opts.AddRateLimitHeaders {
				h := w.Header()
				h.Set("X-RateLimit-Key", string(key))
				if info != nil {
					h.Set("X-RateLimit-RPS", formatFloat(info.RPS()))
					h.Set("X-RateLimit-Burst", formatInt(info.Burst()))
				}
			}

			lim := opts.Store.Get(key)
			if lim == nil || lim.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			wait := opts.RetryAfter
			if delays != nil {
				wait = max(wait, delays.Delay(key))
			}
			w.Header().Set("Retry-After", formatInt(int(math.Ceil(wait.Seconds()))))
			http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
		})
	}
}
