package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BearBump/PickupBox/config"
	pickupapi "github.com/BearBump/PickupBox/internal/api/pickup_api"
	"github.com/BearBump/PickupBox/internal/auth"
	"github.com/BearBump/PickupBox/internal/broker/kafka"
	"github.com/BearBump/PickupBox/internal/broker/messages"
	"github.com/BearBump/PickupBox/internal/cache"
	"github.com/BearBump/PickupBox/internal/cache/rediscache"
	"github.com/BearBump/PickupBox/internal/feed"
	"github.com/BearBump/PickupBox/internal/logging"
	"github.com/BearBump/PickupBox/internal/services/assignment"
	"github.com/BearBump/PickupBox/internal/services/enrichment"
	"github.com/BearBump/PickupBox/internal/services/lifecycle"
	"github.com/BearBump/PickupBox/internal/services/notifier"
	"github.com/BearBump/PickupBox/internal/services/reports"
	"github.com/BearBump/PickupBox/internal/services/tracking"
	"github.com/BearBump/PickupBox/internal/services/users"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/BearBump/PickupBox/internal/storage/memstore"
	"github.com/BearBump/PickupBox/internal/storage/pgstore"
	"github.com/rs/zerolog/log"
)

type producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// infra is the external plumbing services are built on. Nil cache, limiter
// or producer switch the matching feature off.
type infra struct {
	store    storage.Store
	cache    cache.BytesCache
	limiter  tracking.RateLimiter
	producer producer
	ping     func(ctx context.Context) error
}

type pickupAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    pickupAPIOpts
	svc     *services
	closers []func()
}

func mustBootstrapPickupAPI() *pickupAPIApp {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}
	logging.Setup(cfg.PickupBox.LogLevel, cfg.PickupBox.LogFormat, "pickup-api")

	httpAddr := cfg.PickupBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	var (
		in      infra
		closers []func()
	)
	switch strings.ToLower(cfg.PickupBox.Store) {
	case "memory":
		st := memstore.New()
		if cfg.PickupBox.Seed {
			st = st.WithSeed()
		}
		in.store = st
		log.Warn().Msg("using in-memory store, data is lost on restart")
	default:
		st := mustOpenPostgresWithRetry(cfg.PostgresConnString(), 60*time.Second)
		if cfg.PickupBox.Seed {
			if err := st.Seed(context.Background()); err != nil {
				panic(fmt.Sprintf("seed postgres: %v", err))
			}
		}
		in.store = st
		closers = append(closers, st.Close)
	}

	if cfg.Redis.Host != "" {
		rc := rediscache.New(cfg.RedisAddr())
		in.cache = rc
		in.limiter = rc.RateLimiter()
		in.ping = rc.Ping
		closers = append(closers, func() { _ = rc.Close() })
	}

	if cfg.Kafka.Host != "" {
		p := kafka.NewProducer(cfg.KafkaBrokers())
		in.producer = p
		closers = append(closers, func() { _ = p.Close() })
	}

	svc := wire(cfg, in)
	closers = append([]func(){svc.runner.Close}, closers...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &pickupAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: pickupAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		svc:     svc,
		closers: closers,
	}
}

// wire builds the service graph from configuration and infrastructure.
func wire(cfg *config.Config, in infra) *services {
	pb := cfg.PickupBox

	feedBuffer := pb.FeedBuffer
	if feedBuffer <= 0 {
		feedBuffer = 32
	}
	hub := feed.NewHub(feedBuffer)

	listenerTimeout := time.Duration(pb.ListenerTimeoutMillis) * time.Millisecond
	lc := lifecycle.New(in.store, hub).WithSettings(listenerTimeout)

	trackingTopic := cfg.Kafka.TrackingUpdatedTopicName
	if trackingTopic == "" {
		trackingTopic = messages.TopicTrackingUpdated
	}
	statusTopic := cfg.Kafka.StatusChangedTopicName
	if statusTopic == "" {
		statusTopic = messages.TopicRequestStatusChanged
	}

	var trackingProducer tracking.Producer
	if in.producer != nil {
		trackingProducer = in.producer
	}
	tick := time.Duration(pb.TrackingTickMillis) * time.Millisecond
	positionTTL := time.Duration(pb.PositionTTLSeconds) * time.Second
	runner := tracking.NewRunner(in.store, trackingProducer, in.cache, hub, in.limiter, trackingTopic).
		WithSettings(tick, positionTTL, int64(pb.TrackingPostLimitPerMinute)).
		WithSimulator(tracking.Config{
			StepFraction:   pb.TrackingStepFraction,
			Epsilon:        pb.TrackingEpsilon,
			MaxStartOffset: pb.TrackingMaxStartOffset,
		})
	lc.AddListener(runner)

	notes := notifier.New(in.store)
	switch mode := strings.ToLower(pb.Notifications); {
	case mode == "off":
	case mode == "inline" || in.producer == nil:
		lc.AddListener(notifier.NewInline(notes))
	default:
		lc.AddListener(notifier.NewPublisher(in.producer, statusTopic))
	}

	profileTTL := time.Duration(pb.ProfileTTLSeconds) * time.Second
	if profileTTL <= 0 {
		profileTTL = 10 * time.Minute
	}
	enrich := enrichment.New(in.store, in.cache, profileTTL)

	secret := pb.JWTSecret
	if secret == "" {
		secret = "pickupbox-dev-secret"
		log.Warn().Msg("jwt_secret is not set, using the development secret")
	}
	issuer := pb.JWTIssuer
	if issuer == "" {
		issuer = "pickupbox"
	}
	tokens := auth.NewTokenManager(secret, issuer, time.Duration(pb.TokenTTLMinutes)*time.Minute)

	api := pickupapi.New(pickupapi.Deps{
		Lifecycle:     lc,
		Assignment:    assignment.New(in.store, lc),
		Tracking:      runner,
		Enrichment:    enrich,
		Users:         users.New(in.store, tokens, enrich),
		Reports:       reports.New(in.store),
		Notifications: notes,
		Tokens:        tokens,
	}).WithRateLimit(pb.HTTPRateLimitPerSecond, pb.HTTPRateLimitBurst)

	return &services{
		api:       api,
		lifecycle: lc,
		runner:    runner,
		hub:       hub,
		ready:     in.ping,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		log.Warn().Err(err).Msg("postgres is not ready, retrying")
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *pickupAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closers {
		c()
	}
}

func (a *pickupAPIApp) Run() error {
	return runPickupAPI(a.ctx, a.opts, a.svc)
}
