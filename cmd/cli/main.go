package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-importer/internal/app"
	"github.com/dvloznov/finance-importer/internal/config"
	"github.com/dvloznov/finance-importer/internal/gcs"
	"github.com/dvloznov/finance-importer/internal/gcsuploader"
	"github.com/dvloznov/finance-importer/internal/importer"
	"github.com/dvloznov/finance-importer/internal/logger"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "preview":
		runPreview(log)
	case "import":
		runImport(log)
	case "upload":
		runUpload(log)
	case "accounts":
		runAccounts(log)
	case "history":
		runHistory(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Importer CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  preview   Show the transactions and duplicates found in a statement")
	fmt.Println("  import    Import a statement from a local file or GCS")
	fmt.Println("  upload    Upload a statement file to GCS")
	fmt.Println("  accounts  List a user's accounts")
	fmt.Println("  history   List a user's recent imports")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// common holds the flags every service command accepts.
type common struct {
	config *string
	store  *string
	user   *string
}

func commonFlags(fs *flag.FlagSet) common {
	return common{
		config: fs.String("config", os.Getenv("IMPORTER_CONFIG"), "Path to a YAML config file"),
		store:  fs.String("store", "", "Storage backend: memory, sqlite or bigquery (overrides config)"),
		user:   fs.String("user", "", "User ID"),
	}
}

// service loads config and builds the import service for a command.
func (c common) service(ctx context.Context, log zerolog.Logger) (*importer.Service, *app.Stores) {
	cfg, err := config.Load(*c.config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *c.store != "" {
		cfg.Store = *c.store
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	if *c.user == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	svc, stores, err := app.NewService(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create import service")
	}
	return svc, stores
}

func parseInclude(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid include index %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func runPreview(log zerolog.Logger) {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	c := commonFlags(fs)
	filePath := fs.String("file", "", "Path to the statement file")
	password := fs.String("password", "", "Password for encrypted PDFs")
	page := fs.Int("page", 0, "Page to show")
	size := fs.Int("page-size", 100, "Transactions per page")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Error: --file is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, stores := c.service(ctx, log)
	defer stores.Close()

	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read file")
	}

	resp, err := svc.Preview(ctx, importer.Request{
		UserID:   *c.user,
		FileName: filepath.Base(*filePath),
		Data:     data,
		Password: *password,
	}, *page, *size)
	if err != nil {
		log.Fatal().Err(err).Msg("Preview failed")
	}

	fmt.Printf("\n=== %s (%d transactions, page %d of %d) ===\n",
		resp.FileName, resp.Total, resp.Page+1, resp.TotalPages)
	if acc := resp.DetectedAccount; acc != nil {
		fmt.Printf("Account:    %s (%s)\n", acc.AccountName, acc.AccountType)
		if acc.AccountNumber != "" {
			fmt.Printf("Number:     %s\n", acc.AccountNumber)
		}
		if acc.MatchedAccountID != "" {
			fmt.Printf("Matched:    %s (%s)\n", acc.MatchedAccountName, acc.MatchedAccountID)
		}
	}
	fmt.Printf("Duplicates: %d\n\n", resp.Duplicates)

	dup := color.New(color.FgYellow)
	warn := color.New(color.FgRed)
	for _, tx := range resp.Transactions {
		amount := "?"
		if tx.Amount != nil {
			amount = tx.Amount.StringFixed(2)
		}
		line := fmt.Sprintf("%4d  %s  %12s  %s", tx.Index, tx.Date, amount, tx.Description)
		if !tx.IsDuplicate {
			fmt.Println("  " + line)
			continue
		}
		similarity := 1.0
		if tx.DuplicateSimilarity != nil {
			similarity = *tx.DuplicateSimilarity
		}
		dup.Printf("D %s  (%.0f%%)\n", line, similarity*100)
	}
	for _, e := range resp.Errors {
		warn.Printf("! %s\n", e)
	}
	fmt.Println()
}

func runImport(log zerolog.Logger) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	c := commonFlags(fs)
	filePath := fs.String("file", "", "Path to the statement file")
	gcsURI := fs.String("gcs-uri", "", "GCS URI of the statement (instead of --file)")
	password := fs.String("password", "", "Password for encrypted PDFs")
	accountID := fs.String("account-id", "", "Import into this account instead of detecting one")
	include := fs.String("include", "", "Comma-separated indices of fuzzy duplicates to import anyway")
	fs.Parse(os.Args[2:])

	if (*filePath == "") == (*gcsURI == "") {
		log.Fatal().Msg("Error: exactly one of --file or --gcs-uri is required")
	}
	indices, err := parseInclude(*include)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --include")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, stores := c.service(ctx, log)
	defer stores.Close()

	var (
		name string
		data []byte
	)
	if *gcsURI != "" {
		gcsService, err := gcsuploader.NewGCSStorageService(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS client")
		}
		defer gcsService.Close()

		data, err = gcsService.FetchFromGCS(ctx, *gcsURI)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to fetch statement")
		}
		name = gcsService.ExtractFilenameFromGCSURI(*gcsURI)
	} else {
		data, err = os.ReadFile(*filePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read file")
		}
		name = filepath.Base(*filePath)
	}

	log.Info().Str("file", name).Str("user_id", *c.user).Msg("Starting import")

	resp, err := svc.Import(ctx, importer.Request{
		UserID:    *c.user,
		FileName:  name,
		Data:      data,
		Password:  *password,
		AccountID: *accountID,
		Include:   indices,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
}

func runUpload(log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("IMPORTER_CONFIG"), "Path to a YAML config file")
	bucketName := fs.String("bucket", "", "GCS bucket name (defaults to gcs_bucket from config)")
	objectName := fs.String("object", "", "GCS object name (defaults to filename)")
	filePath := fs.String("file", "", "Path to local statement file")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *bucketName == "" {
		*bucketName = cfg.GCSBucket
	}
	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}
	if *objectName == "" {
		*objectName = filepath.Base(*filePath)
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	gcsService, err := gcsuploader.NewGCSStorageService(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	defer gcsService.Close()

	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	if err := gcsService.UploadFile(ctx, *bucketName, *objectName, *filePath); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to %s\n", *filePath, gcs.URI(*bucketName, *objectName))
}

func runAccounts(log zerolog.Logger) {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	c := commonFlags(fs)
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)
	_, stores := c.service(ctx, log)
	defer stores.Close()

	accts, err := stores.Accounts.FindAccountsByUser(ctx, *c.user)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list accounts")
	}

	fmt.Printf("\n=== Accounts (%d) ===\n", len(accts))
	for i, a := range accts {
		fmt.Printf("\n%d. %s\n", i+1, a.AccountName)
		fmt.Printf("   ID:          %s\n", a.AccountID)
		fmt.Printf("   Institution: %s\n", a.InstitutionName)
		fmt.Printf("   Type:        %s\n", a.AccountType)
		if a.AccountNumber != "" {
			fmt.Printf("   Number:      %s\n", a.AccountNumber)
		}
		if a.Balance.Valid {
			fmt.Printf("   Balance:     %s %s\n", a.Balance.Decimal.StringFixed(2), a.CurrencyCode)
		}
	}
	fmt.Println()
}

func runHistory(log zerolog.Logger) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	c := commonFlags(fs)
	limit := fs.Int("limit", 20, "Number of imports to show")
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)
	svc, stores := c.service(ctx, log)
	defer stores.Close()

	batches, err := svc.History(ctx, *c.user, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list imports")
	}

	fmt.Printf("\n=== Imports (%d) ===\n", len(batches))
	for _, b := range batches {
		fmt.Printf("%s  %-40s  created=%d duplicates=%d failed=%d\n",
			b.StartedAt.Format(time.RFC3339), b.FileName, b.Created, b.Duplicates, b.Failed)
	}
	fmt.Println()
}
