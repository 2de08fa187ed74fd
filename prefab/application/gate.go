package application

import (
	"context"
	"net/url"
	"time"

	"prefab-loader/prefab/domain"
)

// DownloadGate concentra a fila de downloads: uma vaga no SlotPool e uma
// ficha no limiter do host do documento, nessa ordem.
//
// Campos nil desligam a respectiva etapa.
type DownloadGate struct {
	Slots          domain.SlotPool
	Limiters       domain.LimiterStore
	AcquireTimeout time.Duration
}

// Acquire espera a vez de doc.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, nil) ou um erro; em caso de erro nenhuma vaga fica presa.
func (g DownloadGate) Acquire(ctx context.Context, doc domain.Document) (func(), error) {
	acqCtx := ctx
	if g.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, g.AcquireTimeout)
		defer cancel()
	}

	release := func() {}
	if g.Slots != nil {
		rel, ok := g.Slots.Acquire(acqCtx)
		if !ok {
			if err := acqCtx.Err(); err != nil {
				return nil, err
			}
			return nil, context.DeadlineExceeded
		}
		release = rel
	}

	if g.Limiters != nil {
		if lim := g.Limiters.Get(LimiterKey(doc)); lim != nil {
			if err := lim.Wait(acqCtx); err != nil {
				release()
				return nil, err
			}
		}
	}
	return release, nil
}

// LimiterKey agrupa documentos pelo host de origem.
func LimiterKey(doc domain.Document) domain.Key {
	if u, err := url.Parse(doc.URL); err == nil && u.Host != "" {
		return domain.Key(u.Host)
	}
	return domain.Key("default")
}
