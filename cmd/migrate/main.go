// Command migrate initializes the database schema.
package main

import (
	"context"
	"os"
	"time"

	"github.com/smilemakc/flowforge/internal/config"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
	"github.com/smilemakc/flowforge/internal/infrastructure/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: "text"})

	store := storage.NewBunStore(cfg.Database.URL)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.InitSchema(ctx); err != nil {
		log.Error("schema init failed", "error", err)
		os.Exit(1)
	}
	log.Info("schema initialized")
}
