package application

import (
	"context"
	"errors"
	"sync"
)

// ErrLifetimeReset é a causa de cancelamento das requisições pendentes quando
// o contexto hospedeiro reinicia.
var ErrLifetimeReset = errors.New("process lifetime reset")

// Lifetime é o token de vida do processo. Reset cancela o token atual e o
// substitui, derrubando juntas todas as requisições em andamento.
type Lifetime struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewLifetime() *Lifetime {
	l := &Lifetime{}
	l.ctx, l.cancel = context.WithCancelCause(context.Background())
	return l
}

func (l *Lifetime) Reset() {
	l.mu.Lock()
	old := l.cancel
	l.ctx, l.cancel = context.WithCancelCause(context.Background())
	l.mu.Unlock()

	old(ErrLifetimeReset)
}

func (l *Lifetime) current() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx
}

// Bind combina ctx com o token de vida atual: o resultado é cancelado quando
// qualquer um dos dois for.
func (l *Lifetime) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	life := l.current()
	bound, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(life, func() { cancel(context.Cause(life)) })
	return bound, func() {
		stop()
		cancel(context.Canceled)
	}
}
