package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	audithandler "govconsent/internal/audit/handler"
	auditmetrics "govconsent/internal/audit/metrics"
	"govconsent/internal/audit/publisher"
	auditservice "govconsent/internal/audit/service"
	auditmemory "govconsent/internal/audit/store/memory"
	auditpostgres "govconsent/internal/audit/store/postgres"
	"govconsent/internal/audit/stream"
	citizenhandler "govconsent/internal/citizendata/handler"
	citizenservice "govconsent/internal/citizendata/service"
	citizenstore "govconsent/internal/citizendata/store"
	consenthandler "govconsent/internal/consent/handler"
	consentmetrics "govconsent/internal/consent/metrics"
	consentservice "govconsent/internal/consent/service"
	consentstore "govconsent/internal/consent/store"
	httpapi "govconsent/internal/http"
	identityhandler "govconsent/internal/identity/handler"
	identityservice "govconsent/internal/identity/service"
	identitystore "govconsent/internal/identity/store"
	"govconsent/internal/platform/config"
	"govconsent/internal/platform/memtx"
	platformmetrics "govconsent/internal/platform/metrics"
	"govconsent/internal/platform/postgres"
	platformredis "govconsent/internal/platform/redis"
	ratelimitmetrics "govconsent/internal/ratelimit/metrics"
	ratelimitmw "govconsent/internal/ratelimit/middleware"
	ratelimitstore "govconsent/internal/ratelimit/store"
	sessionhandler "govconsent/internal/session/handler"
	sessionservice "govconsent/internal/session/service"
	sessionstore "govconsent/internal/session/store"
	"govconsent/internal/session/token"
	workflowhandler "govconsent/internal/workflow/handler"
	workflowmetrics "govconsent/internal/workflow/metrics"
	workflowservice "govconsent/internal/workflow/service"
	workflowstore "govconsent/internal/workflow/store"
	authmw "govconsent/pkg/platform/middleware/auth"
)

type revocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type auditStore interface {
	publisher.Store
	auditservice.Store
}

// infrastructure holds connections to backing services. Every field except
// the stores may be nil in in-memory mode.
type infrastructure struct {
	DB    *sql.DB
	Pool  *pgxpool.Pool
	Redis *goredis.Client
	Sink  *stream.KafkaSink

	Identities  identityservice.Store
	Consents    consentservice.Store
	Cases       workflowservice.Store
	Records     citizenservice.Store
	Audit       auditStore
	Revocations revocationList
	Purger      revocationPurger
	Limiter     ratelimitmw.Limiter

	// ConsentTx serializes consent writes per owner when the store has no
	// row locks. CaseTx runs coverage check plus case insert atomically.
	ConsentTx consentservice.TxRunner
	CaseTx    workflowservice.TxRunner
}

func openInfrastructure(ctx context.Context, cfg config.Config, log *slog.Logger) (*infrastructure, error) {
	infra := &infrastructure{}
	ok := false
	defer func() {
		if !ok {
			infra.Close()
		}
	}()

	if cfg.Database.URL == "" {
		shared := memtx.NewSharded()
		infra.Identities = identitystore.NewInMemory()
		infra.Consents = consentstore.NewInMemory()
		infra.Cases = workflowstore.NewInMemory()
		infra.Records = citizenstore.NewInMemory()
		infra.Audit = auditmemory.NewInMemoryStore()
		infra.ConsentTx = shared
		infra.CaseTx = shared
	} else {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		infra.DB = db
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		pool, err := postgres.OpenPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		infra.Pool = pool
		infra.Identities = identitystore.NewPostgres(db)
		infra.Consents = consentstore.NewPostgres(db)
		infra.Cases = workflowstore.NewPostgres(db)
		infra.Records = citizenstore.NewPostgres(db)
		infra.Audit = auditpostgres.New(pool)
		infra.CaseTx = postgres.NewTxRunner(db)
	}

	client, err := platformredis.Open(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	switch {
	case client != nil:
		infra.Redis = client
		infra.Revocations = sessionstore.NewRedis(client)
		infra.Limiter = ratelimitstore.NewRedis(client)
	case infra.DB != nil:
		trl := sessionstore.NewPostgres(infra.DB, nil)
		infra.Revocations = trl
		infra.Purger = trl
	default:
		infra.Revocations = sessionstore.NewInMemory()
	}
	if infra.Limiter == nil {
		infra.Limiter = ratelimitstore.NewInMemory()
	}

	if cfg.Kafka.Enabled() {
		sink, err := stream.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic,
			stream.WithLogger(log),
			stream.WithProduceTimeout(cfg.Kafka.ProduceTimeout),
		)
		if err != nil {
			return nil, err
		}
		infra.Sink = sink
		if err := sink.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("audit topic bootstrap failed, streaming stays best-effort", "error", err)
		}
	}

	ok = true
	return infra, nil
}

func (i *infrastructure) Mode() string {
	if i.DB != nil {
		return "postgres"
	}
	return "memory"
}

func (i *infrastructure) Close() {
	if i.Sink != nil {
		i.Sink.Close()
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
	if i.DB != nil {
		_ = i.DB.Close()
	}
}

func (i *infrastructure) healthChecks() map[string]httpapi.HealthCheck {
	checks := map[string]httpapi.HealthCheck{}
	if i.DB != nil {
		checks["postgres"] = i.DB.PingContext
	}
	if i.Pool != nil {
		checks["audit_pool"] = i.Pool.Ping
	}
	if i.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return i.Redis.Ping(ctx).Err() }
	}
	return checks
}

type application struct {
	Router    http.Handler
	publisher *publisher.Publisher
}

func (a *application) Close() {
	a.publisher.Close()
}

func buildApp(cfg config.Config, infra *infrastructure, log *slog.Logger) *application {
	pubOpts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithMetrics(auditmetrics.New()),
		publisher.WithAsyncBuffer(cfg.Audit.AsyncBuffer),
	}
	if infra.Sink != nil {
		pubOpts = append(pubOpts, publisher.WithSink(infra.Sink))
	}
	auditPublisher := publisher.NewPublisher(infra.Audit, pubOpts...)

	identities := identityservice.New(infra.Identities,
		identityservice.WithLogger(log),
		identityservice.WithAuditPublisher(auditPublisher),
	)

	consentOpts := []consentservice.Option{
		consentservice.WithLogger(log),
		consentservice.WithAuditPublisher(auditPublisher),
		consentservice.WithMetrics(consentmetrics.New()),
		consentservice.WithIdentities(infra.Identities),
		consentservice.WithDefaultDuration(cfg.Consent.DefaultDurationDays),
		consentservice.WithMinPurposeLength(cfg.Consent.MinPurposeLength),
	}
	if infra.ConsentTx != nil {
		consentOpts = append(consentOpts, consentservice.WithTx(infra.ConsentTx))
	}
	consents := consentservice.New(infra.Consents, consentOpts...)

	records := citizenservice.New(infra.Records, consents, citizenservice.WithLogger(log))
	auditQueries := auditservice.New(infra.Audit, auditservice.WithLogger(log))
	cases := workflowservice.New(infra.Cases, consents,
		workflowservice.WithLogger(log),
		workflowservice.WithAuditPublisher(auditPublisher),
		workflowservice.WithMetrics(workflowmetrics.New()),
		workflowservice.WithTx(infra.CaseTx),
	)

	tokens := token.New(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	sessions := sessionservice.New(tokens, infra.Revocations, identities,
		sessionservice.WithLogger(log),
		sessionservice.WithAuditPublisher(auditPublisher),
		sessionservice.WithTTL(cfg.Auth.SessionTTL),
	)

	var rateLimit func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled() {
		limiter := ratelimitmw.New(infra.Limiter, cfg.RateLimit.Requests, cfg.RateLimit.Window, log,
			ratelimitmw.WithMetrics(ratelimitmetrics.New()),
		)
		rateLimit = limiter.Limit
	}

	router := httpapi.NewRouter(httpapi.Handlers{
		Identity:    identityhandler.New(identities, log),
		Session:     sessionhandler.New(sessions, log),
		Consent:     consenthandler.New(consents, log),
		CitizenData: citizenhandler.New(records, log),
		Audit:       audithandler.New(auditQueries, log),
		Workflow:    workflowhandler.New(cases, log),
	}, httpapi.Options{
		Logger:         log,
		AdminToken:     cfg.Auth.AdminToken,
		RequestTimeout: cfg.Server.RequestTimeout,
		Authenticate:   authmw.RequireAuth(token.NewMiddlewareAdapter(tokens), infra.Revocations, identities, log),
		RateLimit:      rateLimit,
		Latency:        platformmetrics.New(),
		Health:         infra.healthChecks(),
	})

	return &application{Router: router, publisher: auditPublisher}
}

