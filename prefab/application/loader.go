package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prefab-loader/prefab/domain"
)

const tracerName = "prefab-loader/prefab/application"

// Request é uma requisição lógica de carregamento.
type Request struct {
	ID    domain.ID
	Scope *domain.Scope
	// Descriptor pré-carregado (opcional). Só é usado se Descriptor.ID == ID.
	Descriptor *domain.Descriptor
	OnProgress domain.ProgressFunc
}

// Result é o objeto entregue ao chamador.
type Result struct {
	ID     domain.ID
	Root   domain.ID
	Object domain.Instance
	// FromPool indica que nenhum download foi feito para esta requisição.
	FromPool bool
}

// Callbacks é a forma assíncrona de receber o resultado: exatamente um dos
// dois é chamado por requisição.
type Callbacks struct {
	OnLoaded func(Result)
	OnFailed func(error)
}

// Loader é a porta de entrada: descritor → de-pool → segurança → download
// (deduplicado) → registro no pool.
type Loader struct {
	store        domain.ContentStore
	instantiator domain.Instantiator
	resolver     domain.DocumentResolver
	security     domain.SecurityPolicy
	gate         DownloadGate

	pool     *Pool
	ledger   *Ledger
	lifetime *Lifetime
	ready    *Readiness

	stats  domain.StatsStore
	logger *log.Logger
	tracer trace.Tracer
}

type LoaderOption func(*Loader)

func WithPool(p *Pool) LoaderOption { return func(l *Loader) { l.pool = p } }
func WithLedger(ld *Ledger) LoaderOption { return func(l *Loader) { l.ledger = ld } }
func WithLifetime(lt *Lifetime) LoaderOption { return func(l *Loader) { l.lifetime = lt } }
func WithReadiness(r *Readiness) LoaderOption { return func(l *Loader) { l.ready = r } }
func WithGate(g DownloadGate) LoaderOption { return func(l *Loader) { l.gate = g } }
func WithStats(s domain.StatsStore) LoaderOption { return func(l *Loader) { l.stats = s } }
func WithLogger(lg *log.Logger) LoaderOption { return func(l *Loader) { l.logger = lg } }
func WithTracer(t trace.Tracer) LoaderOption { return func(l *Loader) { l.tracer = t } }
func WithSecurity(s domain.SecurityPolicy) LoaderOption {
	return func(l *Loader) { l.security = s }
}

// NewLoader monta o Loader. Sem opções, usa um pool/ledger próprios, uma
// política de segurança que permite tudo e considera a inicialização pronta.
func NewLoader(store domain.ContentStore, inst domain.Instantiator, resolver domain.DocumentResolver, opts ...LoaderOption) *Loader {
	l := &Loader{
		store:        store,
		instantiator: inst,
		resolver:     resolver,
		security:     allowAll{},
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.pool == nil {
		l.pool = NewPool(WithPoolLogger(l.logger), WithPoolStats(l.stats))
	}
	if l.ledger == nil {
		l.ledger = NewLedger()
	}
	if l.lifetime == nil {
		l.lifetime = NewLifetime()
	}
	if l.ready == nil {
		l.ready = NewReadiness(true)
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(tracerName)
	}
	return l
}

func (l *Loader) Pool() *Pool { return l.pool }
func (l *Loader) Ledger() *Ledger { return l.ledger }
func (l *Loader) Lifetime() *Lifetime { return l.lifetime }
func (l *Loader) Readiness() *Readiness { return l.ready }

type allowAll struct{}

func (allowAll) Check(context.Context, domain.Descriptor) error { return nil }

// LoadAsync executa Load em outra goroutine e entrega o resultado por callback.
func (l *Loader) LoadAsync(ctx context.Context, req Request, cb Callbacks) {
	go func() {
		res, err := l.Load(ctx, req)
		if err != nil {
			if cb.OnFailed != nil {
				cb.OnFailed(err)
			}
			return
		}
		if cb.OnLoaded != nil {
			cb.OnLoaded(res)
		}
	}()
}

// Load carrega req.ID para req.Scope. Toda falha volta como *domain.LoadError.
func (l *Loader) Load(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := l.tracer.Start(ctx, "prefab.Load", trace.WithAttributes(
		attribute.String("prefab.id", string(req.ID)),
	))
	defer func() {
		if r := recover(); r != nil {
			err = domain.Fail(domain.KindTransport, req.ID, "panic: %v", r)
		}
		l.finish(ctx, span, req.ID, res, err)
	}()

	if !req.ID.Valid() {
		return Result{}, domain.Fail(domain.KindInvalid, req.ID, "empty identifier")
	}
	if req.Scope == nil {
		return Result{}, domain.Fail(domain.KindInvalid, req.ID, "missing scope")
	}

	ctx, cancel := l.lifetime.Bind(ctx)
	defer cancel()

	for {
		res, wait, err := l.attempt(ctx, req)
		if wait == nil {
			return res, err
		}

		span.AddEvent("prefab.wait")
		l.ledger.Enqueue(req.ID)
		select {
		case <-wait.Done():
			l.ledger.Dequeue(req.ID)
			// o desfecho do dono vale para todos; sem falha publicada, refaz
			if err := wait.Err(); err != nil {
				return Result{}, err
			}
		case <-ctx.Done():
			l.ledger.Dequeue(req.ID)
			return Result{}, l.stale(ctx, req.ID)
		}
	}
}

// attempt faz uma passada completa. Um Flight não-nil significa que outro
// download segura o id e a requisição deve esperar por ele.
func (l *Loader) attempt(ctx context.Context, req Request) (Result, *Flight, error) {
	if err := l.checkStale(ctx, req); err != nil {
		return Result{}, nil, err
	}

	if inst, ok := l.pool.Lookup(req.ID); ok {
		return Result{ID: req.ID, Root: l.pool.ResolveRoot(req.ID), Object: inst, FromPool: true}, nil, nil
	}

	if err := l.ready.Wait(ctx); err != nil {
		return Result{}, nil, l.stale(ctx, req.ID)
	}

	desc, err := l.describe(ctx, req)
	if err != nil {
		return Result{}, nil, err
	}
	if err := l.checkStale(ctx, req); err != nil {
		return Result{}, nil, err
	}

	if err := l.security.Check(ctx, desc); err != nil {
		return Result{}, nil, domain.Wrap(domain.KindSecurityDenied, desc.ID, "rejected by security policy", err)
	}

	root := desc
	if desc.IsChild() {
		if wait := l.ledger.Wait(desc.SourceID); wait != nil {
			return Result{}, wait, nil
		}
		if inst, ok := l.pool.Adopt(desc.ID, desc.SourceID); ok {
			return Result{ID: req.ID, Root: desc.SourceID, Object: inst, FromPool: true}, nil, nil
		}
		// a fonte está viva no pool mas não contém o filho: baixar de novo não muda isso
		if _, ok := l.pool.Lookup(desc.SourceID); ok {
			return Result{}, nil, domain.Fail(domain.KindNotFound, desc.ID, "child not present in source %s", desc.SourceID)
		}
		root, err = l.fetchDescriptor(ctx, desc.SourceID)
		if err != nil {
			return Result{}, nil, err
		}
	}

	return l.download(ctx, req, root, desc.ID)
}

func (l *Loader) describe(ctx context.Context, req Request) (domain.Descriptor, error) {
	if req.Descriptor != nil && req.Descriptor.ID == req.ID {
		return *req.Descriptor, nil
	}
	return l.fetchDescriptor(ctx, req.ID)
}

func (l *Loader) fetchDescriptor(ctx context.Context, id domain.ID) (domain.Descriptor, error) {
	desc, err := l.store.FetchDescriptor(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Descriptor{}, l.stale(ctx, id)
		}
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Descriptor{}, domain.Wrap(domain.KindNotFound, id, "descriptor not found", err)
		}
		return domain.Descriptor{}, domain.Wrap(domain.KindTransport, id, "fetch descriptor", err)
	}
	if !desc.ID.Valid() {
		return domain.Descriptor{}, domain.Fail(domain.KindInvalid, id, "empty descriptor")
	}
	return desc, nil
}

func (l *Loader) checkStale(ctx context.Context, req Request) error {
	if ctx.Err() != nil {
		return l.stale(ctx, req.ID)
	}
	if !req.Scope.Valid() {
		return domain.Fail(domain.KindStale, req.ID, "scope is no longer valid")
	}
	return nil
}

func (l *Loader) stale(ctx context.Context, id domain.ID) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return &domain.LoadError{Kind: domain.KindStale, ID: id, Reason: "request cancelled", Err: cause}
}

func (l *Loader) finish(ctx context.Context, span trace.Span, id domain.ID, res Result, err error) {
	defer span.End()

	ev := domain.StatsEvent{ID: id, At: time.Now()}
	switch {
	case err != nil:
		ev.Outcome = domain.OutcomeFailed
		ev.Kind = domain.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, ev.Kind.String())
		l.logger.Printf("prefab load failed: %v", err)
	case res.FromPool:
		ev.Outcome = domain.OutcomeHit
		span.SetAttributes(attribute.Bool("prefab.from_pool", true))
	default:
		ev.Outcome = domain.OutcomeLoaded
	}

	if l.stats == nil {
		return
	}
	if serr := l.stats.Record(context.WithoutCancel(ctx), ev); serr != nil {
		l.logger.Printf("prefab stats error: %v", serr)
	}
}

func (r Result) String() string {
	if r.Root != "" && r.Root != r.ID {
		return fmt.Sprintf("%s (source %s)", r.ID, r.Root)
	}
	return string(r.ID)
}
