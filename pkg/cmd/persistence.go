// Package cmd provides shared construction helpers for the agora binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agoralabs/agora/pkg/persistence"
	"github.com/agoralabs/agora/pkg/persistence/file"
	"github.com/agoralabs/agora/pkg/persistence/memory"
	"github.com/agoralabs/agora/pkg/persistence/postgresql"
)

// NewPersistence builds a persistence layer from a database URL. Supported
// schemes: postgres://, file://, memory://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "memory":
		return memory.NewPersistence(), nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}

// MustPersistence is NewPersistence for binaries that cannot start without storage.
func MustPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	p, err := NewPersistence(ctx, logger, databaseURL)
	if err != nil {
		panic(fmt.Errorf("failed to create persistence layer: %w", err))
	}

	return p
}
