// The auth service: token issuing, refresh rotation, and identity endpoints.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"skillforge/platform/internal/audit"
	"skillforge/platform/internal/config"
	"skillforge/platform/internal/db"
	identityrepo "skillforge/platform/internal/identity/repository"
	"skillforge/platform/internal/identity/service"
	"skillforge/platform/internal/passwordreset"
	"skillforge/platform/internal/ratelimit"
	"skillforge/platform/internal/security"
	"skillforge/platform/internal/server"
	sessionrepo "skillforge/platform/internal/session/repository"
	"skillforge/platform/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := otel.Setup(ctx, "skillforge-auth", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	signer, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("parse signing key: %v", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("parse verification key: %v", err)
	}
	tokens := security.NewTokenProvider(signer, publicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	verifier := security.NewTokenVerifier(publicKey, cfg.JWTIssuer, cfg.JWTAudience)

	var loginLimiter, registerLimiter *ratelimit.Limiter
	var resets *passwordreset.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		loginLimiter = ratelimit.New(rdb, "login", cfg.LoginMaxAttempts, cfg.LoginLimiterWindow())
		registerLimiter = ratelimit.New(rdb, "register", cfg.RegisterMaxAttempts, cfg.RegisterLimiterWindow())
		resets = passwordreset.New(rdb, cfg.ResetTTL())
	}

	auditor, err := audit.NewKafkaEmitter(cfg.AuditBrokerList(), cfg.AuditKafkaTopic)
	if err != nil {
		log.Fatalf("audit emitter: %v", err)
	}

	auth := service.NewAuthService(
		identityrepo.NewPostgresRepository(database),
		sessionrepo.NewPostgresRepository(database),
		security.NewPasswordHasher(cfg.BcryptCost),
		tokens,
		cfg.RefreshTTL(),
		loginLimiter,
		registerLimiter,
		resets,
		auditor,
	)

	handler := server.New(auth, verifier, server.Options{
		CookieDomain:             cfg.CookieDomain,
		CookieSecure:             cfg.CookieSecure,
		RefreshTTL:               cfg.RefreshTTL(),
		ResetTokenReturnToClient: cfg.ResetTokenReturnToClient,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("auth service listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if auditor != nil {
		// Give in-flight async audit emits a chance before closing the writer.
		time.Sleep(audit.DrainDuration)
		if err := auditor.Close(); err != nil {
			log.Printf("audit close: %v", err)
		}
	}
}
