package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-importer/internal/config"
	"github.com/dvloznov/finance-importer/internal/importer"
)

func TestNewService_MemoryStore(t *testing.T) {
	ctx := context.Background()
	svc, stores, err := NewService(ctx, config.Default(), zerolog.Nop())
	require.NoError(t, err)
	defer stores.Close()

	csv := "Date,Description,Amount\n2024-03-01,Coffee Shop,-4.50\n2024-03-02,Salary,2500.00\n"
	resp, err := svc.Import(ctx, importer.Request{
		UserID:   "u1",
		FileName: "statement.csv",
		Data:     []byte(csv),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Created)

	batches, err := stores.Batches.ListImportBatches(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestOpenStores_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store = "postgres"
	_, err := OpenStores(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewService_SQLiteStorePersists(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "importer.db")

	csv := []byte("Date,Description,Amount\n2024-03-01,Coffee Shop,-4.50\n")
	req := importer.Request{UserID: "u1", FileName: "statement.csv", Data: csv}

	svc, stores, err := NewService(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	resp, err := svc.Import(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Created)
	require.NoError(t, stores.Close())

	// A second run sees the first run's rows as duplicates.
	svc, stores, err = NewService(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer stores.Close()
	resp, err = svc.Import(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Created)

	batches, err := stores.Batches.ListImportBatches(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

func TestNewRegistry_MissingHintsFile(t *testing.T) {
	cfg := config.Default()
	cfg.HintsFile = filepath.Join(t.TempDir(), "absent.yaml")
	_, err := NewRegistry(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewRegistry_CustomHints(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "parser", "institutions.yaml"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "hints.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg := config.Default()
	cfg.HintsFile = path
	reg, err := NewRegistry(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, reg)
}
