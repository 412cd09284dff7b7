package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/BearBump/PickupBox/config"
	"github.com/BearBump/PickupBox/internal/api/ops"
	"github.com/go-chi/chi/v5"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	stats *workerStats
	cfg   *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if err := ops.CheckSwagger(opts.swaggerPath); err != nil {
		return err
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()
	o := ops.Options{SwaggerPath: opts.swaggerPath}
	if opts.stats != nil {
		o.Stats = func() any { return opts.stats.Snapshot() }
	}
	ops.Mount(r, o)

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// operational settings only, no credentials
		_ = json.NewEncoder(w).Encode(map[string]any{
			"topic":         workerTopic(opts.cfg),
			"consumerGroup": workerGroup(opts.cfg),
			"store":         opts.cfg.PickupBox.Store,
			"brokers":       opts.cfg.KafkaBrokers(),
		})
	})

	return ops.Serve(ctx, lis, r)
}
