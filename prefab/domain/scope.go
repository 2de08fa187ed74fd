package domain

import (
	"sync"

	"github.com/google/uuid"
)

// Scope é o contexto dono de um container do pool (ex: uma cena aberta).
// Quando fecha, o container e tudo que ele contém são destruídos em bloco.
type Scope struct {
	id   string
	name string

	once sync.Once
	done chan struct{}
}

func NewScope(name string) *Scope {
	return &Scope{
		id:   uuid.NewString(),
		name: name,
		done: make(chan struct{}),
	}
}

func (s *Scope) ID() string   { return s.id }
func (s *Scope) Name() string { return s.name }

// Valid retorna false depois de Close (ou para um scope nil).
func (s *Scope) Valid() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Scope) Done() <-chan struct{} { return s.done }

// Close invalida o scope. Pode ser chamado mais de uma vez.
func (s *Scope) Close() {
	s.once.Do(func() { close(s.done) })
}

// ContainerRef identifica o container de pool onde uma instância é criada.
type ContainerRef struct {
	ScopeID string
	Name    string
}
