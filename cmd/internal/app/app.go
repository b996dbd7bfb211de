// Package app wires the Speranza server runtime: config, logging, HTTP
// routes, storage backends, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"speranza/cmd/internal/chat"
	"speranza/cmd/internal/realtime"
)

// runtimeDeps groups the backend handles the app owns. Each field is nil
// when the corresponding backend is not configured.
type runtimeDeps struct {
	mongoClient *mongo.Client
	dbPool      *pgxpool.Pool
	rdb         *redis.Client

	store    chat.Store
	presence realtime.PresenceRegistry
}

// storeBacked reports whether messages persist beyond process lifetime.
func (r *runtimeDeps) storeBacked() bool {
	return r.mongoClient != nil || r.dbPool != nil
}

func (r *runtimeDeps) Close(ctx context.Context) error {
	var errs []error

	if r.store != nil {
		if err := r.store.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.mongoClient != nil {
		if err := r.mongoClient.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.dbPool != nil {
		r.dbPool.Close()
	}
	if r.rdb != nil {
		if err := r.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// App is the Speranza server runtime: it owns HTTP server wiring and the
// realtime gateway's dependencies.
type App struct {
	cfg Config
	log Logger

	rt *runtimeDeps

	ws     *realtime.WSGateway
	notify *realtime.NotificationRelay
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	rt, err := newRuntimeDeps(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	verifier, err := newVerifier(cfg, log)
	if err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}

	ws := realtime.NewWSGateway(log, realtime.NewHub(log), rt.store, rt.presence, verifier)

	return &App{
		cfg:    cfg,
		log:    log,
		rt:     rt,
		ws:     ws,
		notify: ws.Notifications(),
	}, nil
}

// Notifications exposes the live-notification relay for other subsystems
// (and the internal push endpoint).
func (a *App) Notifications() *realtime.NotificationRelay {
	return a.notify
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.rt, a.ws)
	registerNotifyEndpoint(mux, a.cfg, a.notify)

	var handler http.Handler = mux
	handler = WithSecurityHeaders(handler)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store_backed", a.rt.storeBacked())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.rt.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newRuntimeDeps selects and connects backends:
// message store Mongo > Postgres > in-memory, presence Redis > in-memory.
func newRuntimeDeps(ctx context.Context, cfg Config, log Logger) (*runtimeDeps, error) {
	rt := &runtimeDeps{}

	switch {
	case cfg.MongoURI != "":
		client, err := NewMongoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.mongoClient = client

		store, err := chat.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		rt.store = store
		log.Info("store.mongo", "database", cfg.MongoDatabase)

	case cfg.DatabaseURL != "":
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.dbPool = pool

		store, err := chat.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		rt.store = store
		log.Info("store.postgres")

	default:
		rt.store = chat.NewInMemoryStore()
		log.Info("store.inmemory")
	}

	if cfg.RedisAddr != "" {
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			_ = rt.Close(context.Background())
			return nil, err
		}
		rt.rdb = rdb

		presence, err := realtime.NewRedisPresence(rdb, realtime.PresenceGrace)
		if err != nil {
			_ = rt.Close(context.Background())
			return nil, err
		}
		rt.presence = presence
		log.Info("presence.redis", "addr", cfg.RedisAddr)
	} else {
		rt.presence = realtime.NewMemoryPresence(realtime.PresenceGrace)
		log.Info("presence.inmemory")
	}

	return rt, nil
}

// newVerifier builds the handshake token verifier. A missing token secret
// is fatal unless the insecure dev mode is explicitly enabled.
func newVerifier(cfg Config, log Logger) (realtime.TokenVerifier, error) {
	if cfg.TokenSecret != "" {
		return realtime.NewJWTVerifier([]byte(cfg.TokenSecret), cfg.TokenIssuer)
	}

	if cfg.DevInsecureAuth {
		log.Warn("auth.insecure_dev_mode")
		return realtime.InsecureDevVerifier{}, nil
	}

	return nil, errors.New("SPERANZA_TOKEN_SECRET is required (or set SPERANZA_DEV_INSECURE_AUTH=true for local development)")
}
