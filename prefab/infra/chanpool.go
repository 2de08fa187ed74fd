package infra

import (
	"context"

	"prefab-loader/prefab/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewSlotPool cria um pool simples baseado em channel com capacidade `max`.
// max <= 0 devolve nil (sem limite), o que DownloadGate trata como desligado.
func NewSlotPool(max int) domain.SlotPool {
	if max <= 0 {
		return nil
	}
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}
