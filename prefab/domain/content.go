package domain

import "context"

// ContentStore é o colaborador que conhece a origem do conteúdo.
//
// FetchDescriptor deve retornar um erro que satisfaça errors.Is(err, ErrNotFound)
// quando o identificador não existe.
type ContentStore interface {
	FetchDescriptor(ctx context.Context, id ID) (Descriptor, error)
	Download(ctx context.Context, doc Document, progress ProgressFunc) (Bundle, error)
}

// Bundle é o resultado de um download: o grafo decodificado e o handle bruto.
// O Handle pode vir preenchido mesmo quando Download retorna erro.
type Bundle struct {
	Object any
	Handle RawHandle
}

// RawHandle é o recurso de baixo nível do bundle. Release deve ser idempotente
// e é chamado em todo caminho de saída.
type RawHandle interface {
	Release()
}

// DocumentResolver escolhe o melhor documento para a plataforma em execução.
type DocumentResolver interface {
	Resolve(d Descriptor) (Document, bool)
}

// SecurityPolicy decide se um descritor pode ser carregado.
// Retornar erro nega o carregamento.
type SecurityPolicy interface {
	Check(ctx context.Context, d Descriptor) error
}

// Instantiator materializa um grafo decodificado dentro de um container.
type Instantiator interface {
	Instantiate(obj any, parent ContainerRef) (Instance, error)
}

// Instance é um objeto vivo no pool (ou um sub-objeto dele).
type Instance interface {
	// Alive retorna false se o objeto foi destruído por fora do pool.
	Alive() bool
	// Find localiza o sub-objeto de um filho endereçável.
	Find(id ID) (Instance, bool)
	// Resources lista recursos auxiliares (materiais, texturas, meshes, clips).
	Resources() []Resource
	Destroy()
}

type Resource interface {
	Name() string
	// Shared indica recursos compartilhados/padrão que não devem ser liberados.
	Shared() bool
	Release()
}
