package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/botstudio/internal/clientdata"
	"github.com/aristath/botstudio/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDatabases(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.Config{DataDir: tmpDir}

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, container)
	defer container.ClientDataDB.Close()

	assert.NotNil(t, container.ClientDataRepo)
	assert.FileExists(t, filepath.Join(tmpDir, "client_data.db"))

	// Schema is applied and usable
	ctx := context.Background()
	require.NoError(t, container.ClientDataRepo.Store(ctx, clientdata.TableCommunityListing, "k", []string{"v"}, time.Minute))
	var out []string
	found, err := container.ClientDataRepo.GetIfFresh(ctx, clientdata.TableCommunityListing, "k", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"v"}, out)
}

func TestInitializeDatabases_Idempotent(t *testing.T) {
	cfg := &config.Config{DataDir: t.TempDir()}

	first, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.ClientDataDB.Close())

	second, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, second.ClientDataDB.Close())
}
