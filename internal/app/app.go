// Package app assembles the import service from configuration for the
// binaries.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	bq "github.com/dvloznov/finance-importer/internal/bigquery"
	"github.com/dvloznov/finance-importer/internal/config"
	infraBQ "github.com/dvloznov/finance-importer/internal/infra/bigquery"
	"github.com/dvloznov/finance-importer/internal/infra/inmemory"
	"github.com/dvloznov/finance-importer/internal/infra/sqlite"
	"github.com/dvloznov/finance-importer/internal/importer"
	"github.com/dvloznov/finance-importer/internal/parser"
	"github.com/dvloznov/finance-importer/internal/parsers/pdf"
	"github.com/dvloznov/finance-importer/internal/registry"
)

// Stores are the repositories of one backend.
type Stores struct {
	Accounts     bq.AccountRepository
	Transactions bq.TransactionRepository
	Batches      bq.ImportBatchRepository

	close func() error
}

// Close releases the backend client, if any.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStores connects the backend named by cfg.Store.
func OpenStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	switch cfg.Store {
	case config.StoreMemory:
		store := inmemory.NewStore()
		return &Stores{Accounts: store, Transactions: store, Batches: store}, nil
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("OpenStores: %w", err)
		}
		return &Stores{Accounts: store, Transactions: store, Batches: store, close: store.Close}, nil
	case config.StoreBigQuery:
		repo, err := infraBQ.NewRepository(ctx, infraBQ.Dataset{Project: cfg.GCPProject, Dataset: cfg.BQDataset})
		if err != nil {
			return nil, fmt.Errorf("OpenStores: %w", err)
		}
		return &Stores{Accounts: repo, Transactions: repo, Batches: repo, close: repo.Close}, nil
	default:
		return nil, fmt.Errorf("OpenStores: unknown store %q", cfg.Store)
	}
}

// NewRegistry builds the parser registry, loading custom hints and the
// Gemini fallback when configured.
func NewRegistry(ctx context.Context, cfg config.Config, log zerolog.Logger) (*registry.Registry, error) {
	var hints *parser.Hints
	if cfg.HintsFile != "" {
		h, err := parser.LoadHints(cfg.HintsFile)
		if err != nil {
			return nil, fmt.Errorf("NewRegistry: %w", err)
		}
		hints = h
	}

	var opts []pdf.Option
	if cfg.GeminiFallback {
		extractor, err := pdf.NewGeminiExtractor(ctx, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("NewRegistry: %w", err)
		}
		opts = append(opts, pdf.WithFallback(extractor))
		log.Info().Str("model", cfg.GeminiModel).Msg("Gemini PDF fallback enabled")
	}
	return registry.New(log, hints, opts...), nil
}

// NewService wires the import service over the configured backend. The
// caller closes the returned Stores.
func NewService(ctx context.Context, cfg config.Config, log zerolog.Logger) (*importer.Service, *Stores, error) {
	reg, err := NewRegistry(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	svc := importer.NewService(importer.Deps{
		Parsers:      reg,
		Accounts:     stores.Accounts,
		Transactions: stores.Transactions,
		Batches:      stores.Batches,
	}, log)
	return svc, stores, nil
}
