package domain

import "context"

type Key string

// Limiter decide se uma ação é permitida agora (Allow) ou espera até ser (Wait).
//
// A camada de infra usa golang.org/x/time/rate, cujo *rate.Limiter já
// satisfaz esta interface.
type Limiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// LimiterStore obtém um limiter por chave (ex: host de download, IP do cliente).
type LimiterStore interface {
	Get(Key) Limiter
}

// SlotPool representa um recurso com capacidade finita (ex: downloads simultâneos).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
