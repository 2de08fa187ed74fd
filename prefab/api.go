package prefab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"prefab-loader/prefab/application"
	"prefab-loader/prefab/domain"
	"prefab-loader/prefab/infra"
)

// API é o adapter HTTP sobre o Loader e o Pool.
type API struct {
	Loader      *application.Loader
	Scopes      *Scopes
	Stats       *infra.MemoryStatsStore
	LoadTimeout time.Duration
	Logger      *log.Logger
}

type prefabResponse struct {
	ID       domain.ID   `json:"id"`
	Root     domain.ID   `json:"root"`
	Scope    string      `json:"scope,omitempty"`
	Name     string      `json:"name,omitempty"`
	FromPool bool        `json:"from_pool"`
	Children []domain.ID `json:"children,omitempty"`
	RefCount int         `json:"ref_count"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type statsResponse struct {
	Pooled   int              `json:"pooled"`
	Total    infra.Counters   `json:"total"`
	Failures map[string]int64 `json:"failures,omitempty"`
}

func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prefabs/{id}", a.handleLoad)
	mux.HandleFunc("POST /prefabs/{id}/acquire", a.handleAcquire)
	mux.HandleFunc("POST /prefabs/{id}/release", a.handleRelease)
	mux.HandleFunc("DELETE /prefabs/{id}", a.handleDeallocate)
	mux.HandleFunc("DELETE /scopes/{scope}", a.handleCloseScope)
	mux.HandleFunc("POST /lifetime/reset", a.handleReset)
	mux.HandleFunc("GET /stats", a.handleStats)
	return mux
}

func (a *API) handleLoad(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(r.PathValue("id"))
	scope := a.Scopes.Open(r.URL.Query().Get("scope"))

	ctx := r.Context()
	if a.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.LoadTimeout)
		defer cancel()
	}

	res, err := a.Loader.Load(ctx, application.Request{ID: id, Scope: scope})
	if err != nil {
		a.writeError(w, err)
		return
	}

	out := prefabResponse{
		ID:       res.ID,
		Root:     res.Root,
		Scope:    scope.Name(),
		FromPool: res.FromPool,
		RefCount: a.Loader.Pool().RefCount(res.ID),
	}
	if named, ok := res.Object.(interface{ Name() string }); ok {
		out.Name = named.Name()
	}
	if tree, ok := res.Object.(interface{ ChildIDs() []domain.ID }); ok {
		out.Children = tree.ChildIDs()
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleAcquire(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(r.PathValue("id"))
	pool := a.Loader.Pool()
	if !pool.Has(id) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "prefab is not pooled", Kind: domain.KindNotFound.String()})
		return
	}
	n := pool.Register(id)
	writeJSON(w, http.StatusOK, prefabResponse{ID: id, Root: pool.ResolveRoot(id), RefCount: n})
}

func (a *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(r.PathValue("id"))
	pool := a.Loader.Pool()
	n := pool.Unregister(id)
	writeJSON(w, http.StatusOK, prefabResponse{ID: id, Root: pool.ResolveRoot(id), RefCount: n})
}

func (a *API) handleDeallocate(w http.ResponseWriter, r *http.Request) {
	if !a.Loader.Pool().ForceDeallocate(domain.ID(r.PathValue("id"))) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "prefab is not pooled", Kind: domain.KindNotFound.String()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCloseScope(w http.ResponseWriter, r *http.Request) {
	if !a.Scopes.Close(r.PathValue("scope")) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "scope not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	a.Loader.Lifetime().Reset()
	a.logf("lifetime reset: outstanding loads cancelled")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	out := statsResponse{Pooled: a.Loader.Pool().Len()}
	if a.Stats != nil {
		out.Total = a.Stats.Total()
		out.Failures = a.Stats.FailuresByKind()
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusFor(kind), errorResponse{Error: err.Error(), Kind: kind.String()})
}

func (a *API) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}

// statusFor traduz o tipo de falha para status HTTP.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindUnsupported:
		return http.StatusUnprocessableEntity
	case domain.KindSecurityDenied:
		return http.StatusForbidden
	case domain.KindStale:
		return http.StatusConflict
	case domain.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		log.Printf("write response: %v", err)
	}
}
