package application

import (
	"context"
	"time"

	"prefab-loader/prefab/domain"
)

// Register incrementa a contagem da raiz de id e cancela um despejo pendente.
func (p *Pool) Register(id domain.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	root := p.resolveRootLocked(id)
	p.counts[root]++
	if pe, ok := p.pending[root]; ok {
		pe.stop()
		delete(p.pending, root)
	}
	return p.counts[root]
}

// Unregister decrementa a contagem. Ao chegar a zero, agenda a elegibilidade
// de despejo para depois do cooldown.
func (p *Pool) Unregister(id domain.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	root := p.resolveRootLocked(id)
	n, ok := p.counts[root]
	if !ok {
		p.logger.Printf("prefab pool: unregister without register for %s", root)
		return 0
	}
	if n > 1 {
		p.counts[root] = n - 1
		return n - 1
	}

	delete(p.counts, root)
	if pe, ok := p.pending[root]; ok {
		pe.stop()
	}
	p.gen++
	gen := p.gen
	stop := p.afterFunc(p.cooldown, func() { p.expire(root, gen) })
	p.pending[root] = pendingEviction{gen: gen, stop: stop}
	return 0
}

// RefCount retorna a contagem atual da raiz de id (0 quando ausente).
func (p *Pool) RefCount(id domain.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[p.resolveRootLocked(id)]
}

// PendingEviction indica se a raiz de id está no cooldown.
func (p *Pool) PendingEviction(id domain.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[p.resolveRootLocked(id)]
	return ok
}

func (p *Pool) expire(root domain.ID, gen uint64) {
	p.mu.Lock()
	pe, ok := p.pending[root]
	if !ok || pe.gen != gen {
		p.mu.Unlock()
		return
	}
	delete(p.pending, root)
	p.mu.Unlock()

	p.TryEvict(root)
}

// TryEvict remove id do pool se ninguém o referencia, se o cooldown já passou
// e se o scope dono ainda é válido (scopes fechados são limpos em bloco).
func (p *Pool) TryEvict(id domain.ID) bool {
	p.mu.Lock()
	root := p.resolveRootLocked(id)
	if _, counted := p.counts[root]; counted {
		p.mu.Unlock()
		return false
	}
	if _, cooling := p.pending[root]; cooling {
		p.mu.Unlock()
		return false
	}
	e, ok := p.entries[root]
	if !ok || !e.container.scope.Valid() {
		p.mu.Unlock()
		return false
	}
	p.removeLocked(e)
	p.mu.Unlock()

	destroy(e.inst)
	if p.stats != nil {
		ev := domain.StatsEvent{ID: root, Outcome: domain.OutcomeEvicted, At: time.Now()}
		if err := p.stats.Record(context.Background(), ev); err != nil {
			p.logger.Printf("prefab pool: stats error: %v", err)
		}
	}
	return true
}

func (p *Pool) forgetCountLocked(root domain.ID) {
	delete(p.counts, root)
	if pe, ok := p.pending[root]; ok {
		pe.stop()
		delete(p.pending, root)
	}
}
