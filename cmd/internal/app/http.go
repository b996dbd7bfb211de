package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"speranza/cmd/internal/realtime"
)

func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, rt *runtimeDeps, ws *realtime.WSGateway) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !rt.storeBacked() {
			http.Error(w, "store not configured", http.StatusServiceUnavailable)
			return
		}

		if rt.mongoClient != nil {
			if err := PingMongo(r.Context(), rt.mongoClient, 2*time.Second); err != nil {
				log.Info("readyz.mongo.not_ready", "err", err)
				http.Error(w, "mongo not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if rt.dbPool != nil {
			if err := PingDB(r.Context(), rt.dbPool, 2*time.Second); err != nil {
				log.Info("readyz.db.not_ready", "err", err)
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/ws", ws.HandleWS)
}
