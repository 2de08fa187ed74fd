package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"prefab-loader/prefab"
	"prefab-loader/prefab/infra"
)

// Origem de conteúdo para desenvolvimento: serve descriptors/<id>.json e
// bundles/ a partir de DIR, com o mesmo throttle do prefabd.
func main() {
	dir := "cmd/content-server/sample"
	if v := os.Getenv("DIR"); v != "" {
		dir = v
	}
	if st, err := os.Stat(filepath.Join(dir, "descriptors")); err != nil || !st.IsDir() {
		log.Fatalf("DIR %q must contain a descriptors/ directory", dir)
	}

	store := infra.NewLimiterStore(50, 100)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	h := contentHandler(dir)
	h = prefab.Throttle(prefab.ThrottleOptions{
		Store:               store,
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
	})(h)

	addr := ":8090"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("content server listening on %s (dir=%s)", addr, dir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func contentHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /descriptors/", jsonContent(files))
	mux.Handle("GET /bundles/", jsonContent(files))
	return mux
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if filepath.Ext(r.URL.Path) == ".json" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}
