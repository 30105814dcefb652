// Command gateway runs the Cerberus governance gateway: the proxy
// endpoint, health/readiness probes, and the Prometheus metrics endpoint.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/cerberusgw/gateway/internal/audit"
	"github.com/cerberusgw/gateway/internal/authn"
	"github.com/cerberusgw/gateway/internal/config"
	"github.com/cerberusgw/gateway/internal/engine"
	"github.com/cerberusgw/gateway/internal/guardrail"
	"github.com/cerberusgw/gateway/internal/metrics"
	"github.com/cerberusgw/gateway/internal/obslog"
	"github.com/cerberusgw/gateway/internal/policy"
	"github.com/cerberusgw/gateway/internal/policycache"
	"github.com/cerberusgw/gateway/internal/policystore"
	"github.com/cerberusgw/gateway/internal/proxy"
	"github.com/cerberusgw/gateway/internal/ratestore"
	"github.com/cerberusgw/gateway/internal/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	seedPath := flag.String("seed", "", "path to a YAML fixture to seed into Postgres on startup, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obslog.New("gateway")

	if *seedPath != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect to database for seeding: %v", err)
		}
		defer db.Close()
		if err := runSeed(db, *seedPath); err != nil {
			log.Fatalf("seed database: %v", err)
		}
		log.Printf("seeded %s into %s", *seedPath, cfg.DatabaseURL)
		return
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)

	rateStore, err := ratestore.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("connect to redis rate-limit store: %v", err)
	}
	defer rateStore.Close()

	policyCache, err := policycache.New(cfg.RedisURL, logger)
	if err != nil {
		log.Fatalf("connect to redis policy cache: %v", err)
	}
	defer policyCache.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metricsHub := metrics.New(reg)

	auditEmitter := audit.New(db, logger)
	defer auditEmitter.Close()

	authenticator := authn.New(db, auditEmitter)

	resolver := &policy.Resolver{
		Store:    policystore.New(db),
		Cache:    policyCache,
		CacheTTL: cfg.PolicyCacheTTL(),
	}

	guardrailRegistry := guardrail.NewRegistry(rateStore)
	pipeline := engine.New(guardrailRegistry)

	upstreamClient := upstream.New(upstream.Config{
		Timeout:              cfg.UpstreamTimeout(),
		MaxRetries:           cfg.Upstream.MaxRetries,
		MaxKeepaliveConns:    cfg.Upstream.MaxKeepaliveConnections,
		MaxConns:             cfg.Upstream.MaxConnections,
		ForwardAuthorization: cfg.Proxy.ForwardAuthorization,
		BlockedHeaders:       cfg.BlockedHeaderSet(),
	})

	orchestrator := &proxy.Orchestrator{
		Authenticator:   authenticator,
		Resolver:        resolver,
		Pipeline:        pipeline,
		Upstream:        upstreamClient,
		Audit:           auditEmitter,
		Logger:          logger,
		Metrics:         metricsHub,
		DecisionTimeout: cfg.UpstreamTimeout() + cfg.DecisionTimeout(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/governance-plane/api/v1/proxy/{path:.*}", orchestrator.ServeProxy).Methods(http.MethodPost)
	router.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	router.HandleFunc("/readyz", readyzHandler(db, rateStore)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      corsMiddleware.Handler(router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout() + 10*time.Second,
	}

	go func() {
		logger.Info(obslog.Fields{}, "gateway listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func readyzHandler(db *sql.DB, rateStore *ratestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready","reason":"database unreachable"}`))
			return
		}
		if err := rateStore.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready","reason":"redis unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}
