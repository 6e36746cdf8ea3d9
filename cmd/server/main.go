package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/gatekeeper/internal/api"
	"github.com/org/gatekeeper/internal/audit"
	"github.com/org/gatekeeper/internal/challenge"
	"github.com/org/gatekeeper/internal/storage"
	"github.com/org/gatekeeper/internal/store"
	"github.com/org/gatekeeper/internal/token"
	"github.com/org/gatekeeper/internal/trust"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr  string `yaml:"listen_addr"`
	TLSCertFile string `yaml:"tls_cert"`
	TLSKeyFile  string `yaml:"tls_key"`
	// Optional: when set, the decision audit trail goes to Postgres.
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	LogLevel      string `yaml:"log_level"`

	// Signing secret seed; auto-generated when empty.
	SecretSeed string `yaml:"secret_seed"`

	ChallengeTTL     string `yaml:"challenge_ttl"`
	NonceTTL         string `yaml:"nonce_ttl"`
	TokenTTL         string `yaml:"token_ttl"`
	RotationInterval string `yaml:"rotation_interval"`
	DecayWindow      string `yaml:"decay_window"`
	BurstWindow      string `yaml:"burst_window"`

	BaseDifficulty    int     `yaml:"base_difficulty"`
	DifficultyCap     int     `yaml:"difficulty_cap"`
	BurstThreshold    int     `yaml:"burst_threshold"`
	ThrottleThreshold float64 `yaml:"throttle_threshold"`
	DenyThreshold     float64 `yaml:"deny_threshold"`

	RateLimitRPS   int `yaml:"rate_limit_rps"`
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

func mustDuration(name, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatal().Str("option", name).Str("value", value).Msg("invalid duration")
	}
	return d
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("GATEKEEPER_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:        ":8310",
		MigrationsDir:     "migrations",
		LogLevel:          "info",
		ChallengeTTL:      "2m",
		NonceTTL:          "10m",
		TokenTTL:          "5m",
		RotationInterval:  "10m",
		DecayWindow:       "10m",
		BurstWindow:       "10s",
		BaseDifficulty:    3,
		DifficultyCap:     4,
		BurstThreshold:    trust.DefaultBurstThreshold,
		ThrottleThreshold: 2.0,
		DenyThreshold:     6.0,
		RateLimitRPS:      100,
		RateLimitBurst:    200,
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("GATEKEEPER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("GATEKEEPER_SECRET_SEED"); v != "" {
		cfg.SecretSeed = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	// Audit backend: Postgres when configured, volatile memory otherwise.
	var backend storage.AuditBackend
	if cfg.DBUrl != "" {
		pg, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
		backend = pg
	} else {
		log.Info().Msg("no db_url configured, audit trail is in-memory")
		backend = storage.NewMemoryBackend()
	}
	defer backend.Close()

	var seed []byte
	if cfg.SecretSeed != "" {
		seed = []byte(cfg.SecretSeed)
	}
	authority, err := token.NewAuthority(seed, mustDuration("token_ttl", cfg.TokenTTL))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token authority")
	}

	ttl := store.NewMemoryStore()
	defer ttl.Close()
	ledger := trust.NewLedger(mustDuration("decay_window", cfg.DecayWindow), mustDuration("burst_window", cfg.BurstWindow), cfg.BurstThreshold)

	chCfg := challenge.Config{
		BaseDifficulty: cfg.BaseDifficulty,
		DifficultyCap:  cfg.DifficultyCap,
		ChallengeTTL:   mustDuration("challenge_ttl", cfg.ChallengeTTL),
		NonceTTL:       mustDuration("nonce_ttl", cfg.NonceTTL),
	}

	srv := api.NewServer(
		ledger,
		challenge.NewIssuer(ttl, ledger, authority, chCfg),
		challenge.NewVerifier(ttl, ledger, chCfg),
		authority,
		audit.NewLogger(backend),
		api.Config{
			ListenAddr:        cfg.ListenAddr,
			TLSCertFile:       cfg.TLSCertFile,
			TLSKeyFile:        cfg.TLSKeyFile,
			ThrottleThreshold: cfg.ThrottleThreshold,
			DenyThreshold:     cfg.DenyThreshold,
			RateLimitRPS:      cfg.RateLimitRPS,
			RateLimitBurst:    cfg.RateLimitBurst,
		},
	)

	// Secret rotation is process lifecycle, not request handling. A failed
	// rotation means an unverifiable token stream, which is worse than
	// downtime.
	rotation := time.NewTicker(mustDuration("rotation_interval", cfg.RotationInterval))
	defer rotation.Stop()
	go func() {
		for range rotation.C {
			if err := authority.Rotate(); err != nil {
				log.Fatal().Err(err).Msg("signing secret rotation failed")
			}
			log.Info().Int("version", authority.Version()).Msg("signing secret rotated")
		}
	}()

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Int("base_difficulty", cfg.BaseDifficulty).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
