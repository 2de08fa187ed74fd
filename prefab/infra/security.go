package infra

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"prefab-loader/prefab/domain"
)

// AllowAll é a política permissiva (nenhuma verificação).
type AllowAll struct{}

func (AllowAll) Check(context.Context, domain.Descriptor) error { return nil }

// HostAllowList só permite documentos servidos pelos hosts listados.
// URLs relativas (servidas pelo próprio content store) são sempre permitidas.
type HostAllowList struct {
	Hosts []string
}

func NewHostAllowList(csv string) HostAllowList {
	var hosts []string
	for _, h := range strings.Split(csv, ",") {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return HostAllowList{Hosts: hosts}
}

func (p HostAllowList) Check(_ context.Context, d domain.Descriptor) error {
	for _, doc := range d.Documents {
		u, err := url.Parse(doc.URL)
		if err != nil {
			return fmt.Errorf("document %s: invalid url: %w", doc.ID, err)
		}
		if u.Host == "" {
			continue
		}
		if !p.allowed(strings.ToLower(u.Hostname())) {
			return fmt.Errorf("document %s: host %q is not allowed", doc.ID, u.Hostname())
		}
	}
	return nil
}

func (p HostAllowList) allowed(host string) bool {
	for _, h := range p.Hosts {
		if h == host {
			return true
		}
	}
	return false
}
