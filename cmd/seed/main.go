// Development seeding: creates the initial admin identity if it does not
// exist yet.
//
//	seed -email admin@example.com -password <password>
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	"skillforge/platform/internal/config"
	"skillforge/platform/internal/db"
	"skillforge/platform/internal/identity/domain"
	identityrepo "skillforge/platform/internal/identity/repository"
	"skillforge/platform/internal/security"
)

func main() {
	email := flag.String("email", "admin@skillforge.local", "admin email")
	password := flag.String("password", "", "admin password (required)")
	name := flag.String("name", "Platform Admin", "admin display name")
	flag.Parse()

	if *password == "" {
		log.Fatal("-password is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo := identityrepo.NewPostgresRepository(database)
	normalized := domain.NormalizeEmail(*email)
	existing, err := repo.GetByEmail(ctx, normalized)
	if err != nil {
		log.Fatalf("lookup admin: %v", err)
	}
	if existing != nil {
		log.Printf("admin %s already exists (%s)", normalized, existing.ID)
		return
	}

	hash, err := security.NewPasswordHasher(cfg.BcryptCost).Hash(*password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	now := time.Now().UTC()
	admin := &domain.Identity{
		ID:           uuid.NewString(),
		Email:        normalized,
		Name:         *name,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := admin.Validate(); err != nil {
		log.Fatalf("validate admin: %v", err)
	}
	if err := repo.Create(ctx, admin); err != nil {
		log.Fatalf("create admin: %v", err)
	}
	log.Printf("created admin %s (%s)", normalized, admin.ID)
}
