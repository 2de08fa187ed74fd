package application

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"prefab-loader/prefab/domain"
)

var quietLogger = log.New(io.Discard, "", 0)

// fakeStore serve descritores de um mapa e "baixa" o próprio descritor raiz,
// que o fakeInstantiator transforma em árvore de objetos.
type fakeStore struct {
	mu        sync.Mutex
	descs     map[domain.ID]domain.Descriptor
	fetches   map[domain.ID]int
	downloads map[string]int
	handles   []*fakeHandle

	// block, quando não-nil, segura Download até ser fechado (ou o ctx cancelar).
	block   chan struct{}
	started chan domain.Document
	err     error
}

func newFakeStore(descs ...domain.Descriptor) *fakeStore {
	s := &fakeStore{
		descs:     make(map[domain.ID]domain.Descriptor),
		fetches:   make(map[domain.ID]int),
		downloads: make(map[string]int),
		started:   make(chan domain.Document, 64),
	}
	for _, d := range descs {
		s.descs[d.ID] = d
	}
	return s
}

func (s *fakeStore) FetchDescriptor(ctx context.Context, id domain.ID) (domain.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[id]++
	d, ok := s.descs[id]
	if !ok {
		return domain.Descriptor{}, domain.Fail(domain.KindNotFound, id, "unknown")
	}
	return d, nil
}

func (s *fakeStore) Download(ctx context.Context, doc domain.Document, progress domain.ProgressFunc) (domain.Bundle, error) {
	h := &fakeHandle{}
	s.mu.Lock()
	s.downloads[doc.ID]++
	s.handles = append(s.handles, h)
	block := s.block
	err := s.err
	root := s.descs[domain.ID(doc.ID)]
	s.mu.Unlock()

	s.started <- doc
	progress(domain.Progress{Received: 0, Total: 10})

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.Bundle{Handle: h}, ctx.Err()
		}
	}
	if err != nil {
		return domain.Bundle{Handle: h}, err
	}
	progress(domain.Progress{Received: 10, Total: 10})
	return domain.Bundle{Object: root, Handle: h}, nil
}

func (s *fakeStore) downloadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.downloads {
		n += c
	}
	return n
}

func (s *fakeStore) allHandlesReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		if h.released.Load() == 0 {
			return false
		}
	}
	return true
}

type fakeHandle struct {
	released atomic.Int32
}

func (h *fakeHandle) Release() { h.released.Add(1) }

type fakeResource struct {
	name     string
	shared   bool
	released atomic.Bool
}

func (r *fakeResource) Name() string { return r.name }
func (r *fakeResource) Shared() bool { return r.shared }
func (r *fakeResource) Release()     { r.released.Store(true) }

type fakeObject struct {
	id        domain.ID
	parent    domain.ContainerRef
	children  []*fakeObject
	resources []*fakeResource
	destroyed atomic.Bool
}

func (o *fakeObject) Alive() bool { return !o.destroyed.Load() }

func (o *fakeObject) Find(id domain.ID) (domain.Instance, bool) {
	for _, c := range o.children {
		if c.id == id {
			return c, true
		}
		if found, ok := c.Find(id); ok {
			return found, true
		}
	}
	return nil, false
}

func (o *fakeObject) Resources() []domain.Resource {
	out := make([]domain.Resource, 0, len(o.resources))
	for _, r := range o.resources {
		out = append(out, r)
	}
	return out
}

func (o *fakeObject) Destroy() {
	o.destroyed.Store(true)
	for _, c := range o.children {
		c.Destroy()
	}
}

func newFakeObject(d domain.Descriptor, parent domain.ContainerRef) *fakeObject {
	o := &fakeObject{
		id:     d.ID,
		parent: parent,
		resources: []*fakeResource{
			{name: "material:" + string(d.ID)},
			{name: "default-texture", shared: true},
		},
	}
	for _, c := range d.Children {
		o.children = append(o.children, newFakeObject(c, parent))
	}
	return o
}

type fakeInstantiator struct {
	mu      sync.Mutex
	created []*fakeObject
}

func (f *fakeInstantiator) Instantiate(obj any, parent domain.ContainerRef) (domain.Instance, error) {
	d, ok := obj.(domain.Descriptor)
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	o := newFakeObject(d, parent)
	f.mu.Lock()
	f.created = append(f.created, o)
	f.mu.Unlock()
	return o, nil
}

type platformResolver struct {
	platform domain.Platform
}

func (r platformResolver) Resolve(d domain.Descriptor) (domain.Document, bool) {
	for _, doc := range d.Documents {
		if doc.Platform == r.platform || doc.Platform == domain.PlatformAny {
			return doc, true
		}
	}
	return domain.Document{}, false
}

// manualClock substitui time.AfterFunc: as tarefas só rodam em Fire.
type manualClock struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) func() bool {
	t := &manualTask{d: d, f: f}
	c.mu.Lock()
	c.tasks = append(c.tasks, t)
	c.mu.Unlock()
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		active := !t.stopped && !t.fired
		t.stopped = true
		return active
	}
}

// Fire executa as tarefas ainda ativas (como se o cooldown tivesse passado).
func (c *manualClock) Fire() int {
	c.mu.Lock()
	var due []*manualTask
	for _, t := range c.tasks {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.tasks = nil
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func rootDescriptor(id domain.ID, children ...domain.ID) domain.Descriptor {
	d := domain.Descriptor{
		ID:        id,
		Documents: []domain.Document{{ID: string(id), Platform: "linux", URL: "https://cdn.example/" + string(id)}},
	}
	for _, c := range children {
		d.Children = append(d.Children, domain.Descriptor{ID: c, SourceID: id})
	}
	return d
}

func childDescriptor(id, source domain.ID) domain.Descriptor {
	return domain.Descriptor{ID: id, SourceID: source}
}

func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
