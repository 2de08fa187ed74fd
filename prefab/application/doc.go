// Package application contém o núcleo do carregador de prefabs: o ledger de
// deduplicação, o pool compartilhado com contagem de referências e o Loader
// que orquestra cada requisição.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Loader.Load(ctx, req) retorna um Result ou um *domain.LoadError.
package application
