package application

import (
	"context"
	"sync"
)

// Readiness é a barreira única de inicialização externa. Requisições
// esperam nela antes de buscar descritores.
type Readiness struct {
	once sync.Once
	ch   chan struct{}
}

func NewReadiness(ready bool) *Readiness {
	r := &Readiness{ch: make(chan struct{})}
	if ready {
		r.MarkReady()
	}
	return r
}

func (r *Readiness) MarkReady() {
	r.once.Do(func() { close(r.ch) })
}

func (r *Readiness) Ready() bool {
	select {
	case <-r.ch:
		return true
	default:
		return false
	}
}

func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
