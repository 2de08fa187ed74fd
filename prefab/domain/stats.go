package domain

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeLoaded  Outcome = "loaded"
	OutcomeFailed  Outcome = "failed"
	OutcomeEvicted Outcome = "evicted"
)

// StatsEvent representa um evento do ciclo de vida de um prefab.
//
// Observação: cuidado com cardinalidade ao guardar ID por evento em bases
// como Redis.
type StatsEvent struct {
	ID      ID
	Outcome Outcome
	// Kind só é preenchido para OutcomeFailed.
	Kind ErrorKind

	At time.Time
}

// StatsStore é a estratégia de persistência das estatísticas.
// Quem registra trata erro como best-effort.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
