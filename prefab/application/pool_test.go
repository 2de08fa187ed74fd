package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"prefab-loader/prefab/domain"
)

func newTestPool(t *testing.T, opts ...PoolOption) (*Pool, *manualClock, *domain.Scope) {
	t.Helper()
	clock := &manualClock{}
	all := append([]PoolOption{WithAfterFunc(clock.AfterFunc), WithPoolLogger(quietLogger)}, opts...)
	scope := domain.NewScope("scene")
	t.Cleanup(scope.Close)
	return NewPool(all...), clock, scope
}

func addRoot(t *testing.T, p *Pool, scope *domain.Scope, d domain.Descriptor) *fakeObject {
	t.Helper()
	ref, err := p.EnsureContainer(scope)
	if err != nil {
		t.Fatalf("ensure container: %v", err)
	}
	obj := newFakeObject(d, ref)
	inst, err := p.Add(scope, d.ID, obj, d.ChildIDs())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return inst.(*fakeObject)
}

func TestPool_UnregisterDoesNotEvictBeforeCooldown(t *testing.T) {
	p, clock, scope := newTestPool(t)
	obj := addRoot(t, p, scope, rootDescriptor("a"))

	p.Register("a")
	p.Unregister("a")

	if !p.Has("a") || !obj.Alive() {
		t.Fatalf("expected instance to survive until the cooldown elapses")
	}
	if !p.PendingEviction("a") {
		t.Fatalf("expected a pending eviction")
	}
	if p.TryEvict("a") {
		t.Fatalf("expected TryEvict to refuse while cooling down")
	}

	clock.Fire()

	if p.Has("a") || obj.Alive() {
		t.Fatalf("expected instance to be evicted after the cooldown")
	}
	if !obj.resources[0].released.Load() {
		t.Fatalf("expected non-shared resource to be released")
	}
	if obj.resources[1].released.Load() {
		t.Fatalf("expected shared resource to be kept")
	}
}

func TestPool_RegisterDuringCooldownCancelsEviction(t *testing.T) {
	p, clock, scope := newTestPool(t)
	obj := addRoot(t, p, scope, rootDescriptor("a"))

	p.Register("a")
	p.Unregister("a")
	p.Register("a")

	if clock.Pending() != 0 {
		t.Fatalf("expected pending eviction to be cancelled")
	}
	clock.Fire()
	if !p.Has("a") || !obj.Alive() {
		t.Fatalf("expected instance to stay pooled")
	}
	if p.RefCount("a") != 1 {
		t.Fatalf("expected refcount 1, got %d", p.RefCount("a"))
	}
}

func TestPool_StaleTimerDoesNotEvictReRegisteredRoot(t *testing.T) {
	p, _, scope := newTestPool(t)

	var (
		mu    sync.Mutex
		fires []func()
	)
	p.afterFunc = func(_ time.Duration, f func()) func() bool {
		mu.Lock()
		fires = append(fires, f)
		mu.Unlock()
		// simula um timer que já disparou: Stop não consegue cancelar
		return func() bool { return false }
	}
	addRoot(t, p, scope, rootDescriptor("a"))

	p.Register("a")
	p.Unregister("a")
	p.Register("a")
	fires[0]()

	if !p.Has("a") {
		t.Fatalf("expected stale cooldown callback to be ignored")
	}
}

func TestPool_CountNeverGoesNegative(t *testing.T) {
	p, clock, scope := newTestPool(t)
	addRoot(t, p, scope, rootDescriptor("a"))

	if got := p.Unregister("a"); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no eviction scheduled for an unregistered root")
	}

	p.Register("a")
	p.Register("a")
	if got := p.Unregister("a"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no eviction while count > 0")
	}
}

func TestPool_ChildRegistrationCountsOnRoot(t *testing.T) {
	p, clock, scope := newTestPool(t)
	addRoot(t, p, scope, rootDescriptor("ship", "mast"))

	p.Register("mast")
	if p.RefCount("ship") != 1 {
		t.Fatalf("expected child register to count on its source")
	}
	if p.TryEvict("ship") {
		t.Fatalf("expected referenced root to survive TryEvict")
	}
	p.Unregister("mast")
	clock.Fire()
	if p.Has("ship") || p.Has("mast") {
		t.Fatalf("expected root and child mapping to be gone")
	}
	if p.ResolveRoot("mast") != "mast" {
		t.Fatalf("expected child mapping to be removed")
	}
}

func TestPool_TryEvictWithoutCount(t *testing.T) {
	p, _, scope := newTestPool(t)
	addRoot(t, p, scope, rootDescriptor("a"))

	if !p.TryEvict("a") {
		t.Fatalf("expected an unreferenced root to be evictable")
	}
	if p.TryEvict("a") {
		t.Fatalf("expected second TryEvict to fail")
	}
}

func TestPool_LookupPurgesDestroyedInstance(t *testing.T) {
	p, _, scope := newTestPool(t)
	obj := addRoot(t, p, scope, rootDescriptor("a", "a1"))

	if _, ok := p.Lookup("a1"); !ok {
		t.Fatalf("expected child lookup to resolve")
	}
	obj.Destroy()

	if _, ok := p.Lookup("a"); ok {
		t.Fatalf("expected destroyed instance to miss")
	}
	if p.Has("a") || p.ResolveRoot("a1") != "a1" {
		t.Fatalf("expected purged entry and child mapping")
	}
}

func TestPool_AdoptUnlistedChild(t *testing.T) {
	p, _, scope := newTestPool(t)
	d := rootDescriptor("ship")
	ref, _ := p.EnsureContainer(scope)
	obj := newFakeObject(d, ref)
	obj.children = append(obj.children, &fakeObject{id: "flag"})
	if _, err := p.Add(scope, "ship", obj, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	sub, ok := p.Adopt("flag", "ship")
	if !ok || sub.(*fakeObject).id != "flag" {
		t.Fatalf("expected flag to be adopted from ship")
	}
	if p.ResolveRoot("flag") != "ship" {
		t.Fatalf("expected flag to resolve to ship")
	}
	if _, ok := p.Adopt("flag", "ship"); !ok {
		t.Fatalf("expected repeated adopt to succeed")
	}
	if n := len(p.entries["ship"].children); n != 1 {
		t.Fatalf("expected flag to be linked once, got %d links", n)
	}
	if _, ok := p.Adopt("missing", "ship"); ok {
		t.Fatalf("expected unknown child to fail")
	}
}

func TestPool_ScopeCloseDestroysContainer(t *testing.T) {
	p, _, scope := newTestPool(t)
	a := addRoot(t, p, scope, rootDescriptor("a"))
	b := addRoot(t, p, scope, rootDescriptor("b"))
	p.Register("a")

	other := domain.NewScope("other")
	defer other.Close()
	c := addRoot(t, p, other, rootDescriptor("c"))

	scope.Close()
	if !waitUntil(func() bool { return p.Len() == 1 }) {
		t.Fatalf("expected scope container to be destroyed, %d entries left", p.Len())
	}
	if a.Alive() || b.Alive() {
		t.Fatalf("expected instances of the closed scope to be destroyed")
	}
	if !c.Alive() {
		t.Fatalf("expected instances of other scopes to survive")
	}
	if p.RefCount("a") != 0 {
		t.Fatalf("expected counts to be dropped with the scope")
	}
	if _, err := p.EnsureContainer(scope); err == nil {
		t.Fatalf("expected closed scope to be rejected")
	}
}

func TestPool_AddKeepsExistingLiveInstance(t *testing.T) {
	p, _, scope := newTestPool(t)
	first := addRoot(t, p, scope, rootDescriptor("a"))

	dup := newFakeObject(rootDescriptor("a"), domain.ContainerRef{})
	got, err := p.Add(scope, "a", dup, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != first {
		t.Fatalf("expected the existing instance to win")
	}
	if dup.Alive() {
		t.Fatalf("expected duplicate to be destroyed")
	}
}

func TestPool_ForceDeallocateIgnoresCount(t *testing.T) {
	p, clock, scope := newTestPool(t)
	obj := addRoot(t, p, scope, rootDescriptor("a"))
	p.Register("a")

	if !p.ForceDeallocate("a") {
		t.Fatalf("expected forced deallocation to succeed")
	}
	if obj.Alive() || p.Has("a") || p.RefCount("a") != 0 {
		t.Fatalf("expected instance and count to be gone")
	}
	if clock.Fire() != 0 {
		t.Fatalf("expected no leftover eviction")
	}
}

func TestPool_EvictionRecordsStats(t *testing.T) {
	stats := &recordingStats{}
	p, clock, scope := newTestPool(t, WithPoolStats(stats))
	addRoot(t, p, scope, rootDescriptor("a"))

	p.Register("a")
	p.Unregister("a")
	clock.Fire()

	if len(stats.events) != 1 || stats.events[0].Outcome != domain.OutcomeEvicted {
		t.Fatalf("expected one eviction event, got %+v", stats.events)
	}
}

type recordingStats struct {
	mu     sync.Mutex
	events []domain.StatsEvent
}

func (s *recordingStats) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}
