package infra

import (
	"context"
	"strings"
	"time"

	"prefab-loader/prefab/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava os contadores do loader em hashes do Redis:
//
//	<prefix>:total            hit/loaded/failed/evicted (cumulativo)
//	<prefix>:<bucket>:<slot>  idem, por minuto ou hora, com TTL
//	<prefix>:failed           falhas por tipo de erro
//	<prefix>:id:<id>          contadores por prefab (opcional, com TTL)
type RedisStatsStore struct {
	rdb      redis.UniversalClient
	prefix   string
	ttl      time.Duration
	bucket   string
	trackIDs bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithStatsTTL define a expiração das chaves por bucket e por id.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket escolhe a série temporal: "minute", "hour" ou "none".
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackIDs(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackIDs = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "prefab:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// increment é um HINCRBY planejado; expire > 0 acompanha um EXPIRE na chave.
type increment struct {
	key    string
	field  string
	expire time.Duration
}

func (s *RedisStatsStore) plan(ev domain.StatsEvent) []increment {
	field := string(ev.Outcome)
	if field == "" {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	incs := []increment{{key: s.prefix + ":total", field: field}}
	if layout, ok := bucketLayouts[s.bucket]; ok {
		incs = append(incs, increment{
			key:    s.prefix + ":" + s.bucket + ":" + at.UTC().Format(layout),
			field:  field,
			expire: s.ttl,
		})
	}
	if ev.Outcome == domain.OutcomeFailed {
		incs = append(incs, increment{key: s.prefix + ":failed", field: ev.Kind.String()})
	}
	if id := strings.TrimSpace(string(ev.ID)); s.trackIDs && id != "" {
		incs = append(incs, increment{key: s.prefix + ":id:" + id, field: field, expire: s.ttl})
	}
	return incs
}

var bucketLayouts = map[string]string{
	"minute": "200601021504",
	"hour":   "2006010215",
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	incs := s.plan(ev)
	if len(incs) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, inc := range incs {
		pipe.HIncrBy(ctx, inc.key, inc.field, 1)
		if inc.expire > 0 {
			pipe.Expire(ctx, inc.key, inc.expire)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}
