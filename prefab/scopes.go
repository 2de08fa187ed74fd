package prefab

import (
	"strings"
	"sync"

	"prefab-loader/prefab/domain"
)

const DefaultScope = "default"

// Scopes mantém os scopes nomeados abertos pela API.
// Fechar um scope destrói o container do pool associado.
type Scopes struct {
	mu     sync.Mutex
	scopes map[string]*domain.Scope
}

func NewScopes() *Scopes {
	return &Scopes{scopes: make(map[string]*domain.Scope)}
}

// Open retorna o scope válido com esse nome, criando um novo se preciso.
func (s *Scopes) Open(name string) *domain.Scope {
	name = normalizeScope(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if sc, ok := s.scopes[name]; ok && sc.Valid() {
		return sc
	}
	sc := domain.NewScope(name)
	s.scopes[name] = sc
	return sc
}

func (s *Scopes) Close(name string) bool {
	name = normalizeScope(name)

	s.mu.Lock()
	sc, ok := s.scopes[name]
	delete(s.scopes, name)
	s.mu.Unlock()

	if !ok {
		return false
	}
	sc.Close()
	return true
}

// CloseAll fecha todos os scopes (usado no shutdown).
func (s *Scopes) CloseAll() {
	s.mu.Lock()
	all := s.scopes
	s.scopes = make(map[string]*domain.Scope)
	s.mu.Unlock()

	for _, sc := range all {
		sc.Close()
	}
}

func normalizeScope(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return DefaultScope
	}
	return name
}
