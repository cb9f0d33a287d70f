package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/ranguard/internal/api"
	"github.com/jordanhubbard/ranguard/internal/auth"
	"github.com/jordanhubbard/ranguard/internal/checkpoint"
	"github.com/jordanhubbard/ranguard/internal/config"
	"github.com/jordanhubbard/ranguard/internal/database"
	"github.com/jordanhubbard/ranguard/internal/guardian"
	"github.com/jordanhubbard/ranguard/internal/keymanager"
	"github.com/jordanhubbard/ranguard/internal/logging"
	"github.com/jordanhubbard/ranguard/internal/messagebus"
	"github.com/jordanhubbard/ranguard/internal/reasoner"
	"github.com/jordanhubbard/ranguard/internal/telemetry"
	"github.com/jordanhubbard/ranguard/internal/tools"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ranguard v%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", *configPath, err)
	}
	cfg.ApplyEnv()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credential store holds secrets the config file should not.
	km := keymanager.NewManager(filepath.Join(".", ".credentials.json"))
	if password := loadPassword(); password != "" {
		if err := km.Unlock(password); err != nil {
			log.Fatalf("failed to unlock credential store: %v", err)
		}
		applyCredentials(km, cfg)
	}

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTelemetry(runCtx, "ranguard", cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Printf("Warning: failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	// Postgres
	db, err := database.New(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	var logDB = db.DB()
	if !cfg.Log.Persist {
		logDB = nil
	}
	logManager := logging.NewManager(logDB, cfg.Log.BufferSize)

	// Redis checkpoints, with an in-memory fallback so a Redis outage
	// degrades resumability instead of taking the service down.
	var checkpoints checkpoint.Store
	redisStore, err := checkpoint.NewRedisStore(runCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	if err != nil {
		log.Printf("Warning: Redis unavailable (%v), checkpoints will not survive restarts", err)
		checkpoints = checkpoint.NewMemoryStore()
	} else {
		checkpoints = redisStore
		defer redisStore.Close()
	}

	// NATS notifications are optional.
	var notifier guardian.Notifier
	if cfg.NATS.URL != "" {
		bus, err := messagebus.NewNatsMessageBus(messagebus.Config{
			URL:        cfg.NATS.URL,
			StreamName: cfg.NATS.StreamName,
		})
		if err != nil {
			log.Printf("Warning: NATS unavailable (%v), issue notifications disabled", err)
		} else {
			notifier = bus
			defer bus.Close()
		}
	}

	// Reasoning collaborator. Without an endpoint the service runs in
	// dry-run mode on scripted verdicts.
	var r reasoner.Reasoner
	if cfg.Reasoner.Endpoint != "" {
		r = reasoner.NewLLMReasoner(reasoner.LLMConfig{
			Endpoint:    cfg.Reasoner.Endpoint,
			Model:       cfg.Reasoner.Model,
			APIKey:      cfg.Reasoner.APIKey,
			Temperature: cfg.Reasoner.Temperature,
			Timeout:     cfg.Reasoner.Timeout,
			MaxRetries:  cfg.Reasoner.MaxRetries,
		})
	} else {
		log.Printf("Warning: no reasoner endpoint configured, running in dry-run mode")
		r = reasoner.NewStubReasoner()
	}

	executor := tools.NewExecutor(tools.NoopCommander{})
	g := guardian.New(cfg.Guardian, db, r, executor, checkpoints, notifier, logManager)
	scheduler := guardian.NewScheduler(g)

	if cfg.Guardian.StartOnBoot {
		scheduler.Start()
	}
	defer scheduler.Stop()

	// Hot-reload guardian tunables on config file changes.
	watcher, err := config.NewWatcher(*configPath, g.UpdateTunables)
	if err != nil {
		log.Printf("Warning: config watcher disabled: %v", err)
	} else {
		go watcher.Run(runCtx)
	}

	// Admin API
	var authManager *auth.Manager
	if cfg.Auth.Enabled {
		authManager = auth.NewManager(cfg.Auth.JWTSecret)
		authManager.SetTokenTTL(cfg.Auth.TokenTTL)
		if cfg.Auth.AdminPassword != "" {
			if err := authManager.ChangePassword("user-admin", "admin", cfg.Auth.AdminPassword); err != nil {
				log.Printf("Warning: failed to set admin password: %v", err)
			}
		}
	}

	apiServer := api.NewServer(g, scheduler, db, logManager, authManager, cfg)
	handler := otelhttp.NewHandler(apiServer.SetupRoutes(), "ranguard-http-server")

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("ranguard API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	scheduler.Stop()
}

// applyCredentials fills config secrets from the credential store when
// the file and environment left them empty.
func applyCredentials(km *keymanager.Manager, cfg *config.Config) {
	if cfg.Reasoner.APIKey == "" {
		if key, err := km.Get(keymanager.CredentialReasonerAPIKey); err == nil {
			cfg.Reasoner.APIKey = key
		}
	}
	if cfg.Redis.Password == "" {
		if pwd, err := km.Get(keymanager.CredentialRedisPassword); err == nil {
			cfg.Redis.Password = pwd
		}
	}
	if dsn, err := km.Get(keymanager.CredentialDatabaseDSN); err == nil && dsn != "" {
		cfg.Database.DSN = dsn
	}
}

// loadPassword finds the credential store master password: environment
// first, then a .env file.
func loadPassword() string {
	if pwd := os.Getenv("RANGUARD_PASSWORD"); pwd != "" {
		return pwd
	}

	if envData, err := os.ReadFile(".env"); err == nil {
		for _, line := range strings.Split(string(envData), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if value, ok := strings.CutPrefix(line, "RANGUARD_PASSWORD="); ok {
				return strings.Trim(value, "\"'")
			}
		}
	}

	return ""
}
