package application

import (
	"sync"

	"prefab-loader/prefab/domain"
)

// Flight é a reserva de um id em andamento. Done fecha quando o dono libera;
// depois disso Err devolve a falha que o dono publicou (nil se não houve).
type Flight struct {
	done chan struct{}
	err  error
}

func (f *Flight) Done() <-chan struct{} { return f.done }

// Err só é válido depois que Done fechou.
func (f *Flight) Err() error { return f.err }

// Ledger registra, por identificador, se há um download em andamento e
// quantas requisições aguardam por ele.
//
// Quem não conseguiu reservar espera no Flight do dono e, ao acordar, ou
// herda a falha publicada ou refaz a requisição desde o início.
type Ledger struct {
	mu       sync.Mutex
	inflight map[domain.ID]*Flight
	queued   map[domain.ID]int
}

func NewLedger() *Ledger {
	return &Ledger{
		inflight: make(map[domain.ID]*Flight),
		queued:   make(map[domain.ID]int),
	}
}

// TryReserve retorna (true, nil) se o chamador passou a ser dono de id.
// Caso contrário retorna (false, f), com f.Done fechado no Release do dono.
func (l *Ledger) TryReserve(id domain.ID) (bool, *Flight) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.inflight[id]; ok {
		return false, f
	}
	l.inflight[id] = &Flight{done: make(chan struct{})}
	return true, nil
}

// Release remove a reserva de id e acorda quem espera, sem falha publicada.
// Retorna false se id não estava reservado.
func (l *Ledger) Release(id domain.ID) bool {
	return l.Finish(id, nil)
}

// Finish é Release publicando err para quem espera em id.
func (l *Ledger) Finish(id domain.ID, err error) bool {
	l.mu.Lock()
	f, ok := l.inflight[id]
	if ok {
		delete(l.inflight, id)
	}
	l.mu.Unlock()

	if ok {
		f.err = err
		close(f.done)
	}
	return ok
}

// Wait retorna o Flight atual de id, ou nil se id está livre.
func (l *Ledger) Wait(id domain.ID) *Flight {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[id]
}

func (l *Ledger) InFlight(id domain.ID) bool {
	return l.Wait(id) != nil
}

func (l *Ledger) Enqueue(id domain.ID) {
	l.mu.Lock()
	l.queued[id]++
	l.mu.Unlock()
}

func (l *Ledger) Dequeue(id domain.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.queued[id]; n > 1 {
		l.queued[id] = n - 1
		return
	}
	delete(l.queued, id)
}

// Queued retorna quantas requisições aguardam por id.
func (l *Ledger) Queued(id domain.ID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queued[id]
}

// reservation agrupa os ids reservados por um download para liberá-los juntos.
type reservation struct {
	ledger *Ledger
	ids    []domain.ID
	once   sync.Once
}

func (r *reservation) add(ids ...domain.ID) { r.ids = append(r.ids, ids...) }

// release libera todos os ids, publicando err (pode ser nil) a quem espera.
func (r *reservation) release(err error) {
	r.once.Do(func() {
		for _, id := range r.ids {
			r.ledger.Finish(id, err)
		}
	})
}
