// The edge gateway: route table, authorization gate, reverse proxy.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skillforge/platform/internal/config"
	"skillforge/platform/internal/gateway"
	"skillforge/platform/internal/security"
	"skillforge/platform/internal/server/middleware"
	"skillforge/platform/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := otel.Setup(ctx, "skillforge-gateway", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("parse verification key: %v", err)
	}
	verifier := security.NewTokenVerifier(publicKey, cfg.JWTIssuer, cfg.JWTAudience)

	authURL := mustParseURL("AUTH_SERVICE_URL", cfg.AuthServiceURL)
	// Collaborators default to the auth service host in single-node setups.
	adminURL := authURL
	if cfg.AdminServiceURL != "" {
		adminURL = mustParseURL("ADMIN_SERVICE_URL", cfg.AdminServiceURL)
	}
	apiURL := authURL
	if cfg.UserServiceURL != "" {
		apiURL = mustParseURL("USER_SERVICE_URL", cfg.UserServiceURL)
	}

	gw := gateway.New(verifier, gateway.DefaultRules(authURL, adminURL, apiURL))
	handler := middleware.Logging(middleware.Tracing("gateway")(gw))

	srv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("gateway listening on %s", cfg.GatewayAddr)
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
}

func mustParseURL(name, raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		log.Fatalf("%s: invalid url %q", name, raw)
	}
	return u
}
