package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifica as falhas de carregamento.
// Nenhuma delas é refeita internamente: retry é responsabilidade de quem chama.
type ErrorKind int

const (
	KindStale ErrorKind = iota + 1
	KindNotFound
	KindInvalid
	KindUnsupported
	KindSecurityDenied
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindStale:
		return "stale"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindUnsupported:
		return "unsupported"
	case KindSecurityDenied:
		return "security_denied"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// LoadError é o único tipo de erro entregue ao chamador de Load.
type LoadError struct {
	Kind   ErrorKind
	ID     ID
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	msg := e.Kind.String()
	if e.ID != "" {
		msg += " " + string(e.ID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is casa por Kind com os sentinelas (ErrStale, ErrNotFound, ...).
func (e *LoadError) Is(target error) bool {
	t, ok := target.(*LoadError)
	if !ok || t.ID != "" || t.Reason != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrStale          = &LoadError{Kind: KindStale}
	ErrNotFound       = &LoadError{Kind: KindNotFound}
	ErrInvalid        = &LoadError{Kind: KindInvalid}
	ErrUnsupported    = &LoadError{Kind: KindUnsupported}
	ErrSecurityDenied = &LoadError{Kind: KindSecurityDenied}
	ErrTransport      = &LoadError{Kind: KindTransport}
)

// Fail monta um LoadError com motivo formatado.
func Fail(kind ErrorKind, id ID, format string, args ...any) *LoadError {
	return &LoadError{Kind: kind, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// Wrap monta um LoadError preservando a causa. Se err já é um LoadError,
// ele é devolvido como está.
func Wrap(kind ErrorKind, id ID, reason string, err error) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	return &LoadError{Kind: kind, ID: id, Reason: reason, Err: err}
}

// KindOf retorna o Kind de err, ou 0 quando não é um LoadError.
func KindOf(err error) ErrorKind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}
