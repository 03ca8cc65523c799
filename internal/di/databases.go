// Package di provides dependency injection for database connections.
package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aristath/botstudio/internal/clientdata"
	"github.com/aristath/botstudio/internal/config"
	"github.com/aristath/botstudio/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the client data cache and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// client_data.db - Remote listing cache, safe to delete at any time
	clientDataDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "client_data.db"),
		Profile: database.ProfileCache,
		Name:    "client_data",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize client_data database: %w", err)
	}

	if err := clientDataDB.Migrate(context.Background(), clientdata.Schema); err != nil {
		clientDataDB.Close()
		return nil, fmt.Errorf("failed to apply schema to %s: %w", clientDataDB.Name(), err)
	}

	container.ClientDataDB = clientDataDB
	container.ClientDataRepo = clientdata.NewRepository(clientDataDB.Conn())

	log.Info().Str("path", clientDataDB.Path()).Msg("Databases initialized and schemas applied")

	return container, nil
}
