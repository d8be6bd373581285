package bootstrap

import (
	"context"
	"database/sql"
	"log"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"civicease-backend/internal/library"
	"civicease-backend/internal/llm"
	"civicease-backend/internal/llm/gemini"
	"civicease-backend/internal/session"
	"civicease-backend/internal/shared/config"
	"civicease-backend/internal/shared/server"
	"civicease-backend/internal/shared/storage/blob"
	localblob "civicease-backend/internal/shared/storage/blob/local"
	pgblob "civicease-backend/internal/shared/storage/blob/pg"
	s3blob "civicease-backend/internal/shared/storage/blob/s3"
)

// App holds the shared dependency graph.
type App struct {
	Config         config.Config
	Router         *gin.Engine
	DB             *sql.DB
	Blob           blob.Store
	Library        *library.Store
	LLM            llm.Client
	Controller     *session.Controller
	SessionHandler *session.Handler
}

// Build prepares the app with the model client chosen from config.
func Build(cfg config.Config) (*App, error) {
	return BuildWith(cfg, nil)
}

// BuildWith prepares the app with an explicit model client; tests pass a
// scripted double here. A nil client falls back to config-driven selection.
func BuildWith(cfg config.Config, model llm.Client) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.LibraryStore) == "" {
		cfg.LibraryStore = "local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	ctx := context.Background()

	blobStore, sqlDB, err := buildBlob(ctx, cfg)
	if err != nil {
		return nil, err
	}
	lib := library.NewStore(blobStore)

	if model == nil {
		model = buildLLM(cfg)
	}

	ctrl := session.NewController(lib, model, filepath.Join(cfg.DataDir, "previews"))
	handler := session.NewHandler(ctrl, lib)
	router := server.NewRouter(cfg, handler)

	return &App{
		Config:         cfg,
		Router:         router,
		DB:             sqlDB,
		Blob:           blobStore,
		Library:        lib,
		LLM:            model,
		Controller:     ctrl,
		SessionHandler: handler,
	}, nil
}

// buildBlob selects the library persistence medium. A Postgres that cannot be
// reached falls back to the local file so the app still comes up.
func buildBlob(ctx context.Context, cfg config.Config) (blob.Store, *sql.DB, error) {
	switch cfg.LibraryStore {
	case "s3":
		store, err := s3blob.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Key)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "postgres":
		db, err := pgblob.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("failed to connect database, falling back to local store: %v", err)
			return localBlob(cfg), nil, nil
		}
		if err := pgblob.RunMigrations(ctx, db); err != nil {
			log.Printf("failed to run migrations, falling back to local store: %v", err)
			_ = db.Close()
			return localBlob(cfg), nil, nil
		}
		return pgblob.New(db), db, nil
	default:
		return localBlob(cfg), nil, nil
	}
}

func localBlob(cfg config.Config) blob.Store {
	return localblob.New(filepath.Join(cfg.DataDir, "library.json"))
}

func buildLLM(cfg config.Config) llm.Client {
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		log.Printf("GEMINI_API_KEY is not set; analysis and chat will fail until configured")
		return llm.PlaceholderClient{}
	}
	client, err := gemini.NewClient(cfg.GeminiAPIKey, cfg.LLMModel)
	if err != nil {
		log.Printf("failed to build gemini client: %v", err)
		return llm.PlaceholderClient{}
	}
	return client
}
