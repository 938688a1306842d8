package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-api-guard/internal/application/audit"
	"github.com/go-api-guard/internal/application/insight"
	"github.com/go-api-guard/internal/application/ratelimit"
	"github.com/go-api-guard/internal/application/verification"
	"github.com/go-api-guard/internal/config"
	"github.com/go-api-guard/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-api-guard/internal/infrastructure/jwt"
	"github.com/go-api-guard/internal/infrastructure/memory"
	natsinfra "github.com/go-api-guard/internal/infrastructure/nats"
	redisinfra "github.com/go-api-guard/internal/infrastructure/redis"
	s3infra "github.com/go-api-guard/internal/infrastructure/s3"
	"github.com/go-api-guard/internal/pkg/metrics"
	"github.com/go-api-guard/internal/pkg/token"
	transporthttp "github.com/go-api-guard/internal/transport/http"
	appmiddleware "github.com/go-api-guard/internal/transport/http/middleware"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	slog.SetDefault(newLogger(cfg))
	if envErr != nil {
		slog.Info("no .env file found, reading from environment")
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// backends groups the stores selected at startup.
type backends struct {
	tokens   verification.TokenStore
	users    verification.UserReader
	insights insight.InsightStore
	auditLog audit.Sink
	counter  ratelimit.CounterStore
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var b backends
	var archive audit.Sink
	switch cfg.StoreBackend {
	case config.BackendDynamo:
		awsCfg, err := dynamo.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		client := dynamo.NewClient(awsCfg, cfg)
		if cfg.BootstrapTables {
			dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		}
		users := dynamo.NewUserRepo(client, cfg.DynamoTables.Users)
		b.tokens = dynamo.NewTokenRepo(client, cfg.DynamoTables.VerificationTokens, users)
		b.users = users
		b.insights = dynamo.NewInsightRepo(client, cfg.DynamoTables.Insights)
		b.auditLog = dynamo.NewAuditRepo(client, cfg.DynamoTables.AuditLog)
		if cfg.Audit.ArchiveBucket != "" {
			archive = s3infra.NewAuditArchive(s3infra.NewClient(awsCfg, cfg), cfg.Audit.ArchiveBucket)
		}
	default:
		slog.Warn("using in-memory stores; state is lost on restart")
		accounts := memory.NewAccountStore()
		b.tokens = accounts
		b.users = accounts
		b.insights = memory.NewInsightStore()
		b.auditLog = memory.NewAuditLog()
	}

	switch cfg.RateLimitBackend {
	case config.BackendRedis:
		rdb, err := redisinfra.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		b.counter = redisinfra.NewCounterStore(rdb, cfg.RedisKeyPrefix)
	default:
		b.counter = memory.NewCounter()
	}

	sinks := []audit.Sink{b.auditLog}
	if archive != nil {
		sinks = append(sinks, archive)
	}
	if cfg.Audit.NATSURL != "" {
		pub, err := natsinfra.Connect(cfg.Audit.NATSURL, cfg.Audit.NATSSubject, nats.Name("go-api-guard"))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}
	writer := audit.NewWriter(audit.WriterDeps{
		Sink:         audit.Fanout(sinks...),
		BufferSize:   cfg.Audit.BufferSize,
		Workers:      cfg.Audit.Workers,
		MaxAttempts:  cfg.Audit.MaxAttempts,
		RetryInitial: cfg.Audit.RetryInitial,
		RetryMax:     cfg.Audit.RetryMax,
		Metrics:      m,
	})

	gate := ratelimit.NewGate(ratelimit.GateDeps{Store: b.counter, Metrics: m})

	pepper, err := loadPepper(cfg)
	if err != nil {
		return err
	}
	verifySvc := verification.NewService(verification.ServiceDeps{
		Tokens:      b.tokens,
		Users:       b.users,
		Audit:       writer,
		Gate:        gate,
		Hasher:      token.NewHasher(pepper),
		DefaultTTL:  cfg.Verification.TokenTTL,
		IssuePolicy: ratelimit.Policy{Limit: cfg.Verification.IssueLimit, Window: cfg.Verification.IssueWindow},
		Metrics:     m,
	})
	insightSvc := insight.NewService(insight.ServiceDeps{
		Store:       b.insights,
		Generator:   insight.NewRuleGenerator(b.users, nil),
		Gate:        gate,
		Audit:       writer,
		Policy:      ratelimit.Policy{Limit: cfg.Insights.RefreshLimit, Window: cfg.Insights.RefreshWindow},
		MaxPerRun:   cfg.Insights.MaxPerRun,
		ListDefault: cfg.Insights.ListDefault,
		ListMax:     cfg.Insights.ListMax,
		Metrics:     m,
	})

	deps := &transporthttp.Deps{
		Verification:  verifySvc,
		Insights:      insightSvc,
		PublicLimiter: appmiddleware.NewRateLimiter(rate.Limit(cfg.Verification.PublicRPS), cfg.Verification.PublicBurst),
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}
	defer deps.PublicLimiter.Close()

	// JWT verification is optional; without it authenticated routes reject every request.
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		deps.Verifier = p
	} else {
		slog.Warn("JWT provider not available", "err", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv,
			"store", cfg.StoreBackend, "rate_limit", cfg.RateLimitBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			_ = writer.Close(context.Background())
			return fmt.Errorf("server: %w", err)
		}
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "err", err)
	}
	// Drain queued audit entries after the last request has finished.
	if err := writer.Close(shutdownCtx); err != nil {
		slog.Error("audit writer did not drain", "err", err)
	}
	slog.Info("server stopped")
	return nil
}

// loadPepper accepts a base64 encoded pepper or, failing that, the raw bytes.
// Outside production an empty pepper falls back to a fixed development value.
func loadPepper(cfg *config.Config) ([]byte, error) {
	raw := strings.TrimSpace(cfg.Verification.TokenPepper)
	if raw == "" {
		if cfg.IsProduction() {
			return nil, errors.New("TOKEN_PEPPER is required")
		}
		slog.Warn("TOKEN_PEPPER not set, using development pepper")
		return []byte("development-pepper-do-not-deploy"), nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) >= 32 {
		return b, nil
	}
	return []byte(raw), nil
}
