package prefab

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"prefab-loader/prefab/application"
	"prefab-loader/prefab/domain"
	"prefab-loader/prefab/infra"
)

// memStore serve descritores e cenas já decodificadas a partir de mapas.
type memStore struct {
	descs     map[domain.ID]domain.Descriptor
	scenes    map[string]*infra.SceneNode
	downloads atomic.Int32
}

func (m *memStore) FetchDescriptor(_ context.Context, id domain.ID) (domain.Descriptor, error) {
	d, ok := m.descs[id]
	if !ok {
		return domain.Descriptor{}, domain.Fail(domain.KindNotFound, id, "unknown")
	}
	return d, nil
}

func (m *memStore) Download(_ context.Context, doc domain.Document, _ domain.ProgressFunc) (domain.Bundle, error) {
	m.downloads.Add(1)
	return domain.Bundle{Object: m.scenes[doc.ID], Handle: &infra.BufferHandle{}}, nil
}

type apiEnv struct {
	srv    *httptest.Server
	store  *memStore
	loader *application.Loader
	scopes *Scopes
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store := &memStore{
		descs: map[domain.ID]domain.Descriptor{
			"ship": {
				ID:        "ship",
				Children:  []domain.Descriptor{{ID: "mast", SourceID: "ship"}},
				Documents: []domain.Document{{ID: "ship-linux", Platform: "linux"}},
			},
			"mast": {ID: "mast", SourceID: "ship"},
			"statue": {
				ID:        "statue",
				Documents: []domain.Document{{ID: "statue-webgl", Platform: "webgl"}},
			},
		},
		scenes: map[string]*infra.SceneNode{
			"ship-linux": {ID: "ship", Name: "Ship", Children: []infra.SceneNode{{ID: "mast", Name: "Mast"}}},
		},
	}
	stats := infra.NewMemoryStatsStore()
	quiet := log.New(io.Discard, "", 0)
	loader := application.NewLoader(store, &infra.SceneInstantiator{}, infra.PlatformResolver{Platform: "linux"},
		application.WithStats(stats),
		application.WithLogger(quiet),
		application.WithPool(application.NewPool(application.WithCooldown(time.Hour), application.WithPoolLogger(quiet))),
	)
	scopes := NewScopes()
	api := &API{Loader: loader, Scopes: scopes, Stats: stats, LoadTimeout: time.Second, Logger: quiet}
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(func() {
		srv.Close()
		scopes.CloseAll()
	})
	return &apiEnv{srv: srv, store: store, loader: loader, scopes: scopes}
}

func (e *apiEnv) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAPI_LoadThenServeFromPool(t *testing.T) {
	env := newAPIEnv(t)

	var first prefabResponse
	if code := env.do(t, http.MethodGet, "/prefabs/ship?scope=level-1", &first); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if first.FromPool || first.Name != "Ship" || first.Scope != "level-1" {
		t.Fatalf("unexpected response %+v", first)
	}
	if len(first.Children) != 1 || first.Children[0] != "mast" {
		t.Fatalf("expected mast child, got %v", first.Children)
	}

	var child prefabResponse
	if code := env.do(t, http.MethodGet, "/prefabs/mast?scope=level-1", &child); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !child.FromPool || child.Root != "ship" || child.Name != "Mast" {
		t.Fatalf("unexpected child response %+v", child)
	}
	if env.store.downloads.Load() != 1 {
		t.Fatalf("expected one download, got %d", env.store.downloads.Load())
	}

	var stats statsResponse
	env.do(t, http.MethodGet, "/stats", &stats)
	if stats.Pooled != 1 || stats.Total.Loaded != 1 || stats.Total.Hits != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAPI_ErrorStatuses(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		path string
		code int
		kind string
	}{
		{path: "/prefabs/ghost", code: http.StatusNotFound, kind: "not_found"},
		{path: "/prefabs/statue", code: http.StatusUnprocessableEntity, kind: "unsupported"},
	}
	for _, tc := range tests {
		var out errorResponse
		if code := env.do(t, http.MethodGet, tc.path, &out); code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.code, code)
		}
		if out.Kind != tc.kind {
			t.Fatalf("%s: expected kind %s, got %+v", tc.path, tc.kind, out)
		}
	}
}

func TestAPI_AcquireReleaseAndDeallocate(t *testing.T) {
	env := newAPIEnv(t)

	var out prefabResponse
	if code := env.do(t, http.MethodPost, "/prefabs/ship/acquire", &out); code != http.StatusNotFound {
		t.Fatalf("expected 404 before load, got %d", code)
	}

	env.do(t, http.MethodGet, "/prefabs/ship", &out)
	env.do(t, http.MethodPost, "/prefabs/mast/acquire", &out)
	if out.RefCount != 1 || out.Root != "ship" {
		t.Fatalf("expected child acquire to count on ship, got %+v", out)
	}
	env.do(t, http.MethodPost, "/prefabs/ship/release", &out)
	if out.RefCount != 0 {
		t.Fatalf("expected ref count 0, got %+v", out)
	}
	if !env.loader.Pool().PendingEviction("ship") {
		t.Fatalf("expected ship to be cooling down")
	}

	if code := env.do(t, http.MethodDelete, "/prefabs/ship", nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code := env.do(t, http.MethodDelete, "/prefabs/ship", &out); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestAPI_CloseScopeDestroysContainer(t *testing.T) {
	env := newAPIEnv(t)

	var out prefabResponse
	env.do(t, http.MethodGet, "/prefabs/ship?scope=level-1", &out)
	if code := env.do(t, http.MethodDelete, "/scopes/level-1", nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}

	deadline := time.Now().Add(time.Second)
	for env.loader.Pool().Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if env.loader.Pool().Len() != 0 {
		t.Fatalf("expected pool to be emptied with the scope")
	}
	if code := env.do(t, http.MethodDelete, "/scopes/level-1", &errorResponse{}); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown scope, got %d", code)
	}

	env.do(t, http.MethodGet, "/prefabs/ship?scope=level-1", &out)
	if out.FromPool {
		t.Fatalf("expected a fresh load in the reopened scope")
	}
}

func TestAPI_LifetimeReset(t *testing.T) {
	env := newAPIEnv(t)
	if code := env.do(t, http.MethodPost, "/lifetime/reset", nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	var out prefabResponse
	if code := env.do(t, http.MethodGet, "/prefabs/ship", &out); code != http.StatusOK {
		t.Fatalf("expected loads to keep working after reset, got %d", code)
	}
}

func TestScopes_OpenReusesValidScope(t *testing.T) {
	s := NewScopes()
	a := s.Open("")
	b := s.Open(" default ")
	if a != b || a.Name() != DefaultScope {
		t.Fatalf("expected the default scope to be reused")
	}
	a.Close()
	if c := s.Open("default"); c == a || !c.Valid() {
		t.Fatalf("expected a fresh scope after the old one was closed")
	}
}
