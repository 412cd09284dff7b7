package main

import (
	"context"
	"net"
	"net/http"

	"github.com/BearBump/PickupBox/internal/api/ops"
	pickupapi "github.com/BearBump/PickupBox/internal/api/pickup_api"
	"github.com/BearBump/PickupBox/internal/feed"
	"github.com/BearBump/PickupBox/internal/services/lifecycle"
	"github.com/BearBump/PickupBox/internal/services/tracking"
	"github.com/go-chi/chi/v5"
)

type pickupAPIOpts struct {
	httpAddr    string
	swaggerPath string

	onListen func(httpAddr string)
}

// services is everything runPickupAPI serves and drives.
type services struct {
	api       *pickupapi.PickupAPI
	lifecycle *lifecycle.Manager
	runner    *tracking.Runner
	hub       *feed.Hub
	ready     func(ctx context.Context) error
}

type apiStats struct {
	Lifecycle lifecycle.Stats `json:"lifecycle"`
	Tracking  tracking.Stats  `json:"tracking"`
	Feed      feed.Stats      `json:"feed"`
}

// runPickupAPI drives the tracking runner and serves HTTP until ctx is done.
func runPickupAPI(ctx context.Context, opts pickupAPIOpts, svc *services) error {
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

	runnerErr := make(chan error, 1)
	go func() {
		runnerErr <- svc.runner.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- ops.Serve(ctx, lis, newRouter(opts.swaggerPath, svc))
	}()

	select {
	case <-ctx.Done():
		<-runnerErr
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func newRouter(swaggerPath string, svc *services) http.Handler {
	r := chi.NewRouter()
	ops.Mount(r, ops.Options{
		SwaggerPath: swaggerPath,
		Ready:       svc.ready,
		Stats: func() any {
			return apiStats{
				Lifecycle: svc.lifecycle.Stats(),
				Tracking:  svc.runner.Stats(),
				Feed:      svc.hub.Stats(),
			}
		},
	})
	// re-scan ON_THE_WAY requests, e.g. after a store failover
	r.Post("/tracking/resume", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		svc.runner.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})
	svc.api.Mount(r)
	return r
}
