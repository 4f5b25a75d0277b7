package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"idbroker/internal/audit"
	"idbroker/internal/exchange"
	"idbroker/internal/federation"
	"idbroker/internal/idp"
	jwttoken "idbroker/internal/jwt_token"
	"idbroker/internal/op"
	"idbroker/internal/platform/config"
	"idbroker/internal/platform/httpserver"
	"idbroker/internal/platform/logger"
	platformredis "idbroker/internal/platform/redis"
	"idbroker/internal/profile"
	"idbroker/internal/ratelimit"
	"idbroker/internal/statestore"
	"idbroker/internal/token"
	httptransport "idbroker/internal/transport/http"

	"github.com/go-jose/go-jose/v3"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.New("error").Error("configuration invalide", "error", err)
		return err
	}
	log := logger.New(cfg.LogLevel)

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("connexion redis impossible", "error", err)
		return err
	}
	defer rdb.Close()

	idpRouter, err := idp.NewRouter(cfg.Providers)
	if err != nil {
		log.Error("configuration des fournisseurs invalide", "error", err)
		return err
	}

	// Audit pipeline: events fan through a buffered channel into the
	// configured store; a missing database keeps an in-memory sink.
	var auditStore audit.Store = audit.NewInMemoryStore()
	if cfg.Postgres.URL != "" {
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			log.Error("connexion postgres impossible", "error", err)
			return err
		}
		defer db.Close()
		auditStore = audit.NewPostgresStore(db)
	}
	publisher := audit.NewChannelPublisher(1024, audit.WithLogger(log))
	worker := audit.NewWorker(auditStore, publisher.Inbox(), log)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("arrêt anormal du worker d'audit", "error", err)
		}
	}()

	stateStore := statestore.NewStore(rdb.Client, statestore.WithLogger(log))
	engine := op.NewRedisEngine(stateStore, op.WithAudit(publisher))

	tokens := token.NewStore(rdb.Client)
	configs := token.NewConfigStore(rdb.Client)
	refresher := token.NewRefresher(tokens, configs,
		token.WithLogger(log), token.WithAudit(publisher))

	profiles := profile.NewClient(cfg.Profile.BaseURL, cfg.Profile.APIKey)

	registry, err := federation.NewRegistry(ctx, idpRouter, federation.Deps{
		Engine:   engine,
		Profiles: profiles,
		Tokens:   tokens,
		Configs:  configs,
		ResourceServer: federation.ResourceServer{
			URL:   cfg.Resource.URL,
			Scope: cfg.Resource.Scope,
		},
		Audit:  publisher,
		Logger: log,
	})
	if err != nil {
		log.Error("construction des clients de fédération impossible", "error", err)
		return err
	}

	verifier, err := localVerifier()
	if err != nil {
		log.Error("clés de vérification invalides", "error", err)
		return err
	}
	grants := op.NewGrantRegistry()
	grants.Register(exchange.GrantType, exchange.NewHandler(verifier, refresher,
		exchange.WithAudit(publisher), exchange.WithLogger(log)))

	limiter := ratelimit.NewLimiter(rdb.Client, cfg.RateLimit.Requests, cfg.RateLimit.Window,
		ratelimit.WithLogger(log))

	router := httptransport.NewRouter(httptransport.Deps{
		Registry:     registry,
		Router:       idpRouter,
		Grants:       grants,
		Logger:       log,
		Health:       rdb.Health,
		ErrorPageURL: os.Getenv("IDBROKER_ERROR_PAGE_URL"),
		Limiter:      limiter,
	})

	srv := httpserver.New(cfg.Server.Addr, router)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("démarrage du broker", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		log.Error("erreur serveur", "error", err)
		return err
	}

	if err := httpserver.Shutdown(srv, cfg.Server.ShutdownTimeout); err != nil {
		log.Error("arrêt gracieux échoué", "error", err)
		return err
	}
	<-workerDone
	return nil
}

// localVerifier loads the JWKS the broker's own access tokens are verified
// against, from the IDBROKER_JWKS environment variable.
func localVerifier() (*jwttoken.Verifier, error) {
	raw := os.Getenv("IDBROKER_JWKS")
	if raw == "" {
		return nil, errors.New("IDBROKER_JWKS is required")
	}
	var keySet jose.JSONWebKeySet
	if err := json.Unmarshal([]byte(raw), &keySet); err != nil {
		return nil, err
	}
	return jwttoken.NewVerifier(keySet), nil
}
