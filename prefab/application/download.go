package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"prefab-loader/prefab/domain"
)

// download baixa root e registra no pool. target é o id pedido originalmente
// (igual a root.ID, ou um filho de root).
func (l *Loader) download(ctx context.Context, req Request, root domain.Descriptor, target domain.ID) (res Result, wait *Flight, err error) {
	if err := l.checkStale(ctx, req); err != nil {
		return Result{}, nil, err
	}
	if root.IsChild() {
		return Result{}, nil, domain.Fail(domain.KindInvalid, root.ID, "child descriptor cannot be downloaded as root (source %s)", root.SourceID)
	}

	ok, wait := l.ledger.TryReserve(root.ID)
	if !ok {
		return Result{}, wait, nil
	}
	held := &reservation{ledger: l.ledger, ids: []domain.ID{root.ID}}
	pooled := false
	defer func() { held.release(sharedFailure(err, pooled)) }()

	if target != root.ID {
		ok, wait := l.ledger.TryReserve(target)
		if !ok {
			return Result{}, wait, nil
		}
		held.add(target)
	}
	// os filhos ficam marcados enquanto o download da fonte durar
	for _, child := range root.ChildIDs() {
		if child == target {
			continue
		}
		if ok, _ := l.ledger.TryReserve(child); ok {
			held.add(child)
		}
	}

	// outro download pode ter terminado entre o de-pool e a reserva
	if inst, ok := l.pool.Lookup(target); ok {
		return Result{ID: req.ID, Root: root.ID, Object: inst, FromPool: true}, nil, nil
	}

	doc, ok := l.resolver.Resolve(root)
	if !ok {
		return Result{}, nil, domain.Fail(domain.KindUnsupported, root.ID, "no document for this platform")
	}

	ctx, span := l.tracer.Start(ctx, "prefab.download", trace.WithAttributes(
		attribute.String("prefab.root", string(root.ID)),
		attribute.String("prefab.document", doc.ID),
	))
	defer span.End()

	releaseSlot, err := l.gate.Acquire(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, nil, l.stale(ctx, req.ID)
		}
		return Result{}, nil, domain.Wrap(domain.KindTransport, root.ID, "download queue", err)
	}
	defer releaseSlot()

	l.logger.Printf("prefab download: root=%s target=%s document=%s", root.ID, target, doc.ID)
	bundle, err := l.store.Download(ctx, doc, l.progress(req))
	if bundle.Handle != nil {
		defer bundle.Handle.Release()
	}
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, nil, l.stale(ctx, req.ID)
		}
		return Result{}, nil, domain.Wrap(domain.KindTransport, root.ID, "download", err)
	}
	if err := l.checkStale(ctx, req); err != nil {
		return Result{}, nil, err
	}
	if bundle.Object == nil {
		return Result{}, nil, domain.Fail(domain.KindInvalid, root.ID, "download returned a null object")
	}

	ref, err := l.pool.EnsureContainer(req.Scope)
	if err != nil {
		return Result{}, nil, err
	}
	inst, err := l.instantiator.Instantiate(bundle.Object, ref)
	if err != nil {
		return Result{}, nil, domain.Wrap(domain.KindInvalid, root.ID, "instantiate", err)
	}
	if inst == nil {
		return Result{}, nil, domain.Fail(domain.KindInvalid, root.ID, "instantiate returned a null object")
	}

	inst, err = l.pool.Add(req.Scope, root.ID, inst, root.ChildIDs())
	if err != nil {
		return Result{}, nil, err
	}
	pooled = true

	out := inst
	if target != root.ID {
		sub, ok := inst.Find(target)
		if !ok {
			return Result{}, nil, domain.Fail(domain.KindNotFound, target, "child not present in source %s", root.ID)
		}
		out = sub
	}
	return Result{ID: req.ID, Root: root.ID, Object: out}, nil, nil
}

// sharedFailure decide o que os que esperam herdam do dono. Stale é do
// chamador (ctx ou scope dele) e falhas depois do registro no pool não valem
// para a raiz: nesses casos quem espera refaz a requisição.
func sharedFailure(err error, pooled bool) error {
	if err == nil || pooled || domain.KindOf(err) == domain.KindStale {
		return nil
	}
	return err
}

func (l *Loader) progress(req Request) domain.ProgressFunc {
	if req.OnProgress == nil {
		return func(domain.Progress) {}
	}
	return func(p domain.Progress) {
		p.ID = req.ID
		req.OnProgress(p)
	}
}
