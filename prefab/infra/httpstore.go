package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"prefab-loader/prefab/domain"

	"golang.org/x/sync/singleflight"
)

const defaultMaxBundleBytes = 64 << 20

// HTTPStore é um content store servido por HTTP:
//
//	GET <base>/descriptors/<id>.json  → domain.Descriptor (JSON)
//	GET <document.URL>                → bundle (JSON de SceneNode)
//
// URLs de documento relativas são resolvidas contra a base.
// Buscas simultâneas do mesmo descritor são agrupadas (singleflight).
type HTTPStore struct {
	base     *url.URL
	client   *http.Client
	maxBytes int64

	sf singleflight.Group
}

type HTTPStoreOption func(*HTTPStore)

func WithHTTPClient(c *http.Client) HTTPStoreOption {
	return func(s *HTTPStore) { s.client = c }
}

func WithMaxBundleBytes(n int64) HTTPStoreOption {
	return func(s *HTTPStore) { s.maxBytes = n }
}

func NewHTTPStore(baseURL string, opts ...HTTPStoreOption) (*HTTPStore, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("content base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("content base url %q must be absolute", baseURL)
	}
	s := &HTTPStore{
		base:     base,
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: defaultMaxBundleBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *HTTPStore) FetchDescriptor(ctx context.Context, id domain.ID) (domain.Descriptor, error) {
	// a busca compartilhada não pode morrer com o ctx de quem chegou primeiro
	shared := context.WithoutCancel(ctx)
	ch := s.sf.DoChan(string(id), func() (any, error) {
		return s.fetchDescriptor(shared, id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Descriptor{}, res.Err
		}
		return res.Val.(domain.Descriptor), nil
	case <-ctx.Done():
		return domain.Descriptor{}, ctx.Err()
	}
}

func (s *HTTPStore) fetchDescriptor(ctx context.Context, id domain.ID) (domain.Descriptor, error) {
	u := s.base.ResolveReference(&url.URL{Path: "descriptors/" + url.PathEscape(string(id)) + ".json"})
	resp, err := s.get(ctx, u.String())
	if err != nil {
		return domain.Descriptor{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Descriptor{}, domain.Fail(domain.KindNotFound, id, "descriptor not found")
	case resp.StatusCode != http.StatusOK:
		return domain.Descriptor{}, fmt.Errorf("descriptor %s: unexpected status %d", id, resp.StatusCode)
	}

	var desc domain.Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return domain.Descriptor{}, fmt.Errorf("descriptor %s: decode: %w", id, err)
	}
	if desc.ID == "" {
		desc.ID = id
	}
	if desc.ID != id {
		return domain.Descriptor{}, fmt.Errorf("descriptor %s: origin answered for %s", id, desc.ID)
	}
	return desc, nil
}

func (s *HTTPStore) Download(ctx context.Context, doc domain.Document, progress domain.ProgressFunc) (domain.Bundle, error) {
	ref, err := url.Parse(doc.URL)
	if err != nil {
		return domain.Bundle{}, fmt.Errorf("document %s: invalid url: %w", doc.ID, err)
	}
	resp, err := s.get(ctx, s.base.ResolveReference(ref).String())
	if err != nil {
		return domain.Bundle{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Bundle{}, fmt.Errorf("document %s: unexpected status %d", doc.ID, resp.StatusCode)
	}
	if resp.ContentLength > s.maxBytes {
		return domain.Bundle{}, fmt.Errorf("document %s: %d bytes exceeds limit %d", doc.ID, resp.ContentLength, s.maxBytes)
	}

	handle := &BufferHandle{}
	body := &progressReader{r: io.LimitReader(resp.Body, s.maxBytes+1), total: resp.ContentLength, fn: progress}
	if _, err := handle.buf.ReadFrom(body); err != nil {
		return domain.Bundle{Handle: handle}, fmt.Errorf("document %s: read: %w", doc.ID, err)
	}
	if int64(handle.buf.Len()) > s.maxBytes {
		return domain.Bundle{Handle: handle}, fmt.Errorf("document %s: exceeds limit %d", doc.ID, s.maxBytes)
	}

	node, err := DecodeScene(bytes.NewReader(handle.buf.Bytes()))
	if err != nil {
		return domain.Bundle{Handle: handle}, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	return domain.Bundle{Object: node, Handle: handle}, nil
}

func (s *HTTPStore) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return s.client.Do(req)
}

// BufferHandle segura os bytes crus do bundle até Release.
type BufferHandle struct {
	buf      bytes.Buffer
	once     sync.Once
	released atomic.Bool
}

func (h *BufferHandle) Release() {
	h.once.Do(func() {
		h.buf = bytes.Buffer{}
		h.released.Store(true)
	})
}

func (h *BufferHandle) Released() bool { return h.released.Load() }

type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    domain.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.fn != nil {
			p.fn(domain.Progress{Received: p.read, Total: p.total})
		}
	}
	return n, err
}
