// Package ops holds the probe, stats and API documentation routes shared by
// pickup-api and pickup-worker.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	SwaggerPath string
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
	// Stats backs /stats; nil leaves the route out.
	Stats func() any
}

// CheckSwagger fails when the documentation file is not configured or missing.
func CheckSwagger(path string) error {
	if path == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", path)
	}
	return nil
}

func Mount(r chi.Router, o Options) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if o.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := o.Ready(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if o.Stats != nil {
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, o.Stats())
		})
	}

	if o.SwaggerPath == "" {
		return
	}
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, o.SwaggerPath)
	})
	// cachebuster, so the UI never shows a stale document after a deploy
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(o.SwaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
}

// Serve runs h on lis until ctx is done, then shuts down within two seconds.
// It returns ctx.Err() after a clean shutdown.
func Serve(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", lis.Addr().String()).Msg("HTTP server listening")
	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		return ctx.Err()
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
