// Command tokad is the process that owns a Handle: it wires the kernel,
// bus, store, and LLM gateway from environment configuration, serves a
// small HTTP surface for health and fleet visibility, accepts
// orchestration session requests, and drains in-flight sessions on
// SIGINT/SIGTERM before exiting.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/toka-systems/toka/internal/auth"
	"github.com/toka-systems/toka/internal/bus"
	"github.com/toka-systems/toka/internal/gateway"
	"github.com/toka-systems/toka/internal/gateway/ratelimit"
	"github.com/toka-systems/toka/internal/gateway/secret"
	"github.com/toka-systems/toka/internal/runtime"
	"github.com/toka-systems/toka/internal/store"
	"github.com/toka-systems/toka/internal/store/kvstore"
	"github.com/toka-systems/toka/internal/store/memstore"
	"github.com/toka-systems/toka/internal/store/sqlstore"
	"github.com/toka-systems/toka/internal/tools"
	"github.com/toka-systems/toka/internal/types"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	zapLog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokad: construct logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog)

	cfg, err := loadConfig()
	if err != nil {
		log.Error(err, "failed to load config")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eventStore, err := openStore(cfg)
	if err != nil {
		log.Error(err, "failed to open event store")
		os.Exit(1)
	}

	gw, err := gateway.New(gateway.Config{
		Secrets: gateway.SecretConfig{
			ProviderType: cfg.ProviderType,
			Endpoint:     cfg.ProviderEndpoint,
			Region:       cfg.ProviderRegion,
			APIKey:       secret.New(cfg.ProviderAPIKey),
			MaxRetries:   cfg.ProviderMaxRetries,
			Timeout:      cfg.ProviderTimeout,
		},
		RateLimit: ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		},
		Logger: log.WithName("gateway"),
	})
	if err != nil {
		log.Error(err, "failed to construct gateway")
		os.Exit(1)
	}

	h, err := runtime.New(runtime.Config{
		Auth:         auth.NewHMACProvider(cfg.AuthKey),
		Bus:          bus.New(cfg.BusBufferSize),
		Store:        eventStore,
		Gateway:      gw,
		Tools:        tools.NewRegistry(),
		DrainTimeout: cfg.DrainTimeout,
		Logger:       log,
	})
	if err != nil {
		log.Error(err, "failed to construct runtime handle")
		os.Exit(1)
	}

	mux := newMux(h)
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info("starting tokad", "addr", cfg.ListenAddr, "version", version, "commit", commit)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "server error")
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout+10*time.Second)
	defer shutdownCancel()

	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "runtime shutdown error")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "http server shutdown error")
	}
}

func newMux(h *runtime.Handle) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"version":%q,"commit":%q}`+"\n", version, commit)
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"active_sessions": h.ActiveSessions(),
		})
	})

	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var specs []types.AgentSpec
		if err := json.NewDecoder(r.Body).Decode(&specs); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}
		if len(specs) == 0 {
			http.Error(w, "at least one agent spec is required", http.StatusBadRequest)
			return
		}

		session, err := h.RunSession(r.Context(), specs)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{"error": err.Error(), "session": session})
			return
		}
		json.NewEncoder(w).Encode(session)
	})

	return mux
}

// Config is tokad's process configuration, loaded entirely from the
// environment. There is no config file format; every deployment target
// (systemd unit, container, local shell) sets the same variables.
type Config struct {
	ListenAddr string

	AuthKey []byte

	StoreDriver string
	StorePath   string
	StoreDSN    string

	ProviderType       string
	ProviderEndpoint   string
	ProviderRegion     string
	ProviderAPIKey     string
	ProviderMaxRetries int
	ProviderTimeout    time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int

	BusBufferSize int
	DrainTimeout  time.Duration
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		ListenAddr:         envOr("TOKA_LISTEN_ADDR", ":8080"),
		StoreDriver:        envOr("TOKA_STORE_DRIVER", "memory"),
		StorePath:          envOr("TOKA_STORE_PATH", "/var/lib/tokad/events.db"),
		StoreDSN:           os.Getenv("TOKA_STORE_DSN"),
		ProviderType:       envOr("TOKA_PROVIDER_TYPE", "anthropic"),
		ProviderEndpoint:   os.Getenv("TOKA_PROVIDER_ENDPOINT"),
		ProviderRegion:     os.Getenv("TOKA_PROVIDER_REGION"),
		ProviderAPIKey:     os.Getenv("TOKA_PROVIDER_API_KEY"),
		ProviderMaxRetries: envIntOr("TOKA_PROVIDER_MAX_RETRIES", 3),
		ProviderTimeout:    envDurationOr("TOKA_PROVIDER_TIMEOUT", 30*time.Second),
		RateLimitPerMinute: envIntOr("TOKA_RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     envIntOr("TOKA_RATE_LIMIT_BURST", 10),
		BusBufferSize:      envIntOr("TOKA_BUS_BUFFER_SIZE", bus.DefaultBufferSize),
		DrainTimeout:       envDurationOr("TOKA_DRAIN_TIMEOUT", runtime.DefaultDrainTimeout),
	}

	key := os.Getenv("TOKA_AUTH_KEY")
	if len(key) < 32 {
		return nil, fmt.Errorf("TOKA_AUTH_KEY must be set to at least 32 bytes of random key material")
	}
	cfg.AuthKey = []byte(key)

	return cfg, nil
}

func openStore(cfg *Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return memstore.New(), nil
	case "kv":
		return kvstore.Open(cfg.StorePath)
	case "sql":
		dialect := sqlstore.DialectSQLite
		if cfg.StoreDSN == "" {
			return nil, fmt.Errorf("TOKA_STORE_DSN is required for the sql store driver")
		}
		return sqlstore.Open(dialect, cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("unknown TOKA_STORE_DRIVER %q (want memory, kv, or sql)", cfg.StoreDriver)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
