package main

// Apply library blob migrations:
//   go run ./cmd/migrate

import (
	"context"
	"log"
	"os"

	"civicease-backend/internal/shared/config"
	pgblob "civicease-backend/internal/shared/storage/blob/pg"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := pgblob.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("failed to connect database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := pgblob.RunMigrations(ctx, db); err != nil {
		log.Printf("failed to run migrations: %v", err)
		os.Exit(1)
	}
}
