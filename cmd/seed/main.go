// Package main loads a JSON seed file into the Postgres document store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/google/uuid"

	"github.com/onnwee/nearby/internal/config"
	"github.com/onnwee/nearby/internal/middleware"
	"github.com/onnwee/nearby/internal/store"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	seedPath := flag.String("file", "", "seed file to load (defaults to SEED_FILE)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	if *help {
		fmt.Println("Nearby Seed Loader")
		fmt.Println()
		fmt.Println("Usage: seed [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := middleware.NewLogger(os.Getenv("NEARBY_ENV"))

	path := *seedPath
	if path == "" {
		path = os.Getenv("SEED_FILE")
	}
	databaseURL := os.Getenv("DATABASE_URL")
	if path == "" || databaseURL == "" {
		logger.Error("both a seed file and DATABASE_URL are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seed(ctx, databaseURL, path, logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, databaseURL, path string, logger *slog.Logger) error {
	docs, err := store.ReadSeedFile(path)
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	s := store.NewPostgresStore(db, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	collections := make([]string, 0, len(docs))
	for c := range docs {
		collections = append(collections, c)
	}
	sort.Strings(collections)

	for _, collection := range collections {
		for _, d := range docs[collection] {
			if d.ID() == "" {
				d["id"] = uuid.NewString()
			}
			if err := s.Put(ctx, collection, d); err != nil {
				return fmt.Errorf("%s/%s: %w", collection, d.ID(), err)
			}
		}
		logger.Info("seeded collection", "collection", collection, "documents", len(docs[collection]))
	}
	return nil
}
