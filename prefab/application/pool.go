package application

import (
	"log"
	"sync"
	"time"

	"prefab-loader/prefab/domain"
)

const DefaultCooldown = 5 * time.Second

// Container agrupa as instâncias de um scope.
type Container struct {
	ref     domain.ContainerRef
	scope   *domain.Scope
	members map[domain.ID]struct{}
}

func (c *Container) Ref() domain.ContainerRef { return c.ref }

type entry struct {
	id        domain.ID
	inst      domain.Instance
	container *Container
	children  []domain.ID
}

type pendingEviction struct {
	gen  uint64
	stop func() bool
}

// Pool mapeia identificadores para instâncias vivas, particionadas por
// container (um por scope), e mantém o mapa filho → fonte.
//
// A contagem de referências (tracker.go) vive no mesmo struct e sob o mesmo
// lock, para que toda resolução de raiz seja consistente.
type Pool struct {
	mu         sync.Mutex
	containers map[string]*Container
	entries    map[domain.ID]*entry
	children   map[domain.ID]domain.ID

	counts  map[domain.ID]int
	pending map[domain.ID]pendingEviction
	gen     uint64

	cooldown  time.Duration
	afterFunc func(time.Duration, func()) func() bool
	logger    *log.Logger
	stats     domain.StatsStore
}

type PoolOption func(*Pool)

// WithCooldown define a janela entre o último Unregister e a remoção.
func WithCooldown(d time.Duration) PoolOption {
	return func(p *Pool) { p.cooldown = d }
}

// WithAfterFunc troca o agendador do cooldown (padrão: time.AfterFunc).
// A função retornada cancela o agendamento, como Timer.Stop.
func WithAfterFunc(fn func(time.Duration, func()) func() bool) PoolOption {
	return func(p *Pool) { p.afterFunc = fn }
}

func WithPoolLogger(l *log.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

func WithPoolStats(s domain.StatsStore) PoolOption {
	return func(p *Pool) { p.stats = s }
}

func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		containers: make(map[string]*Container),
		entries:    make(map[domain.ID]*entry),
		children:   make(map[domain.ID]domain.ID),
		counts:     make(map[domain.ID]int),
		pending:    make(map[domain.ID]pendingEviction),
		cooldown:   DefaultCooldown,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ResolveRoot retorna o id da fonte para um filho conhecido, ou o próprio id.
func (p *Pool) ResolveRoot(id domain.ID) domain.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolveRootLocked(id)
}

func (p *Pool) resolveRootLocked(id domain.ID) domain.ID {
	if src, ok := p.children[id]; ok {
		return src
	}
	return id
}

// Lookup devolve a instância viva de id (ou o sub-objeto, para um filho).
// Entradas cujo objeto foi destruído por fora são removidas.
func (p *Pool) Lookup(id domain.ID) (domain.Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	root := p.resolveRootLocked(id)
	e, ok := p.entries[root]
	if !ok {
		return nil, false
	}
	if !e.inst.Alive() {
		p.logger.Printf("prefab pool: purging destroyed instance %s", root)
		p.removeLocked(e)
		return nil, false
	}
	if root == id {
		return e.inst, true
	}
	return e.inst.Find(id)
}

// Adopt resolve um filho a partir da instância já pooled da fonte e grava o
// vínculo filho → fonte.
func (p *Pool) Adopt(child, source domain.ID) (domain.Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[source]
	if !ok || !e.inst.Alive() {
		return nil, false
	}
	sub, ok := e.inst.Find(child)
	if !ok {
		return nil, false
	}
	if p.children[child] != source {
		p.children[child] = source
		e.children = append(e.children, child)
	}
	return sub, true
}

// EnsureContainer cria (uma vez por scope) o container do pool.
// O container é destruído em bloco quando o scope fecha.
func (p *Pool) EnsureContainer(scope *domain.Scope) (domain.ContainerRef, error) {
	if !scope.Valid() {
		return domain.ContainerRef{}, domain.Fail(domain.KindStale, "", "scope is no longer valid")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.containers[scope.ID()]; ok {
		return c.ref, nil
	}
	c := &Container{
		ref:     domain.ContainerRef{ScopeID: scope.ID(), Name: "prefab-pool:" + scope.Name()},
		scope:   scope,
		members: make(map[domain.ID]struct{}),
	}
	p.containers[scope.ID()] = c
	go func() {
		<-scope.Done()
		p.DestroyScope(scope.ID())
	}()
	return c.ref, nil
}

// Add registra a instância raiz e os ids filhos que ela contém.
// Se já existir uma instância viva para root, a nova é destruída e a
// existente é retornada.
func (p *Pool) Add(scope *domain.Scope, root domain.ID, inst domain.Instance, children []domain.ID) (domain.Instance, error) {
	p.mu.Lock()
	c, ok := p.containers[scope.ID()]
	if !ok || !scope.Valid() {
		p.mu.Unlock()
		destroy(inst)
		return nil, domain.Fail(domain.KindStale, root, "scope closed before registration")
	}
	if prev, ok := p.entries[root]; ok && prev.inst.Alive() {
		p.mu.Unlock()
		destroy(inst)
		return prev.inst, nil
	}

	e := &entry{id: root, inst: inst, container: c, children: append([]domain.ID(nil), children...)}
	p.entries[root] = e
	c.members[root] = struct{}{}
	for _, child := range children {
		p.children[child] = root
	}
	p.mu.Unlock()
	return inst, nil
}

// Has indica se há entrada (viva ou não) para a raiz de id.
func (p *Pool) Has(id domain.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[p.resolveRootLocked(id)]
	return ok
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// DestroyScope remove o container do scope e destrói tudo que ele contém.
func (p *Pool) DestroyScope(scopeID string) int {
	p.mu.Lock()
	c, ok := p.containers[scopeID]
	if !ok {
		p.mu.Unlock()
		return 0
	}
	delete(p.containers, scopeID)

	// snapshot antes de mexer nos mapas
	victims := make([]*entry, 0, len(c.members))
	for id := range c.members {
		if e, ok := p.entries[id]; ok {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		p.removeLocked(e)
		p.forgetCountLocked(e.id)
	}
	p.mu.Unlock()

	for _, e := range victims {
		destroy(e.inst)
	}
	return len(victims)
}

// ForceDeallocate remove id do pool independente da contagem de referências.
func (p *Pool) ForceDeallocate(id domain.ID) bool {
	p.mu.Lock()
	root := p.resolveRootLocked(id)
	e, ok := p.entries[root]
	if !ok {
		p.mu.Unlock()
		return false
	}
	p.removeLocked(e)
	p.forgetCountLocked(root)
	p.mu.Unlock()

	destroy(e.inst)
	return true
}

func (p *Pool) removeLocked(e *entry) {
	delete(p.entries, e.id)
	delete(e.container.members, e.id)
	for _, child := range e.children {
		if p.children[child] == e.id {
			delete(p.children, child)
		}
	}
}

// destroy libera os recursos auxiliares que a destruição genérica não cobre
// (exceto os compartilhados) e depois destrói a instância.
func destroy(inst domain.Instance) {
	if !inst.Alive() {
		return
	}
	for _, r := range inst.Resources() {
		if r == nil || r.Shared() {
			continue
		}
		r.Release()
	}
	inst.Destroy()
}
