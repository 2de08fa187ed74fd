package domain

import "strings"

// ID identifica um bundle (raiz) ou um objeto filho dentro de um bundle.
type ID string

func (id ID) String() string { return string(id) }

// Valid indica se o identificador não é vazio.
func (id ID) Valid() bool { return strings.TrimSpace(string(id)) != "" }

// Platform nomeia a plataforma alvo de um documento (ex: "linux", "webgl").
// PlatformAny casa com qualquer plataforma.
type Platform string

const PlatformAny Platform = "any"

// Document é a referência a um documento específico de plataforma.
type Document struct {
	ID         string   `json:"id"`
	Platform   Platform `json:"platform"`
	URL        string   `json:"url"`
	Version    int      `json:"version"`
	PreRelease bool     `json:"pre_release,omitempty"`
}

// Descriptor são os metadados de um identificador.
//
// SourceID só é preenchido quando o identificador é um filho cujo bundle
// pertence a outro identificador.
type Descriptor struct {
	ID        ID           `json:"id"`
	SourceID  ID           `json:"source_id,omitempty"`
	Children  []Descriptor `json:"children,omitempty"`
	Documents []Document   `json:"documents,omitempty"`
}

func (d Descriptor) IsChild() bool { return d.SourceID != "" }

// ChildIDs retorna todos os descendentes (profundidade primeiro).
func (d Descriptor) ChildIDs() []ID {
	var out []ID
	var walk func(children []Descriptor)
	walk = func(children []Descriptor) {
		for _, c := range children {
			out = append(out, c.ID)
			walk(c.Children)
		}
	}
	walk(d.Children)
	return out
}

// Progress reporta o andamento de um download.
// Total pode ser -1 quando o tamanho é desconhecido.
type Progress struct {
	ID       ID
	Received int64
	Total    int64
}

type ProgressFunc func(Progress)
