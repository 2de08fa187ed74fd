package infra

import (
	"runtime"

	"prefab-loader/prefab/domain"
)

// PlatformResolver escolhe o documento de um descritor para a plataforma em
// execução. Documentos da plataforma exata ganham de PlatformAny; entre eles
// vence a maior versão. Com AllowPreRelease, uma variante pre-release da
// mesma versão (ou mais nova) substitui a estável.
type PlatformResolver struct {
	Platform        domain.Platform
	AllowPreRelease bool
}

// HostPlatform é a plataforma do binário atual (GOOS).
func HostPlatform() domain.Platform { return domain.Platform(runtime.GOOS) }

func (r PlatformResolver) Resolve(d domain.Descriptor) (domain.Document, bool) {
	platform := r.Platform
	if platform == "" {
		platform = HostPlatform()
	}

	var (
		best  domain.Document
		found bool
	)
	for _, doc := range d.Documents {
		if doc.Platform != platform && doc.Platform != domain.PlatformAny {
			continue
		}
		if doc.PreRelease && !r.AllowPreRelease {
			continue
		}
		if !found || r.better(doc, best, platform) {
			best, found = doc, true
		}
	}
	return best, found
}

func (r PlatformResolver) better(a, b domain.Document, platform domain.Platform) bool {
	aExact, bExact := a.Platform == platform, b.Platform == platform
	if aExact != bExact {
		return aExact
	}
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.PreRelease && !b.PreRelease
}
