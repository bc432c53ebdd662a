package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/finance-importer/internal/app"
	"github.com/dvloznov/finance-importer/internal/config"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/parser"
	"github.com/dvloznov/finance-importer/internal/parsers/pdf"
)

// parse prints what the parsers read from a local statement without
// touching any store. It is a debugging aid for new statement layouts.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", os.Getenv("IMPORTER_CONFIG"), "Path to a YAML config file")
		filePath   = flag.String("file", "", "Path to the statement file (required)")
		password   = flag.String("password", "", "Password for encrypted PDFs")
		gemini     = flag.Bool("gemini", false, "Send the PDF straight to Gemini instead of the layout parser")
		model      = flag.String("model", "", "Gemini model (defaults to gemini_model from config)")
	)
	flag.Parse()

	if *filePath == "" {
		return fmt.Errorf("-file is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *model != "" {
		cfg.GeminiModel = *model
	}

	log, err := logger.NewFromConfig(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	data, err := os.ReadFile(*filePath)
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", *filePath, err)
	}
	opts := parser.Options{
		FileName: filepath.Base(*filePath),
		Password: *password,
	}

	var out any
	if *gemini {
		extractor, err := pdf.NewGeminiExtractor(ctx, cfg.GeminiModel)
		if err != nil {
			return err
		}
		txs, err := extractor.ExtractTransactions(ctx, data, opts)
		if err != nil {
			return err
		}
		out = txs
	} else {
		reg, err := app.NewRegistry(ctx, cfg, log)
		if err != nil {
			return err
		}
		p, err := reg.FindParser(opts.FileName, data)
		if err != nil {
			return err
		}
		log.Info().Str("parser", p.Name()).Msg("Parsing statement")

		result, err := p.Parse(ctx, data, opts)
		if err != nil {
			return err
		}
		out = result
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
