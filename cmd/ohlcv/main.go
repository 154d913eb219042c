// Data lake CLI.
// This application provides a command-line interface for initializing,
// ingesting into, reading from, and auditing the local Parquet/SQLite data
// lake.
//
// Usage:
//
//	ohlcv init
//	ohlcv download-symbols --exchange coinbase
//	ohlcv download-history --exchange coinbase --symbol BTC-USD --timeframe 1h --full-history true
//	ohlcv ingest --exchange coinbase --symbol BTC-USD --timeframe 1h --file candles.csv
//	ohlcv read --exchange coinbase --symbol BTC-USD --start 2024-01-01 --end 2024-02-01
//	ohlcv verify --exchange coinbase --symbol BTC-USD --timeframe 1h
//	ohlcv delete --exchange coinbase --symbol BTC-USD
//	ohlcv upload-feature --path features.csv --name btc-1h-features
//
// For detailed help on any command, use: ohlcv <command> --help
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/johnayoung/go-ohlcv-collector/internal/collector"
	"github.com/johnayoung/go-ohlcv-collector/internal/config"
	"github.com/johnayoung/go-ohlcv-collector/internal/csv"
	"github.com/johnayoung/go-ohlcv-collector/internal/exchange"
	"github.com/johnayoung/go-ohlcv-collector/internal/httpapi"
	"github.com/johnayoung/go-ohlcv-collector/internal/integrity"
	"github.com/johnayoung/go-ohlcv-collector/internal/logger"
	"github.com/johnayoung/go-ohlcv-collector/internal/metrics"
	"github.com/johnayoung/go-ohlcv-collector/internal/models"
	"github.com/johnayoung/go-ohlcv-collector/internal/storage"
)

const (
	Version    = "1.0.0"
	AppName    = "ohlcv"
	ConfigFile = "ohlcv.json"
)

const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
	ExitInterrupt   = 130
)

// CLI holds every service the subcommands depend on.
type CLI struct {
	cfg        *config.AppConfig
	lm         *logger.LoggerManager
	logger     *slog.Logger
	manifest   storage.Manifest
	store      storage.PartitionStore
	registry   *exchange.Registry
	supervisor *collector.Supervisor
	auditor    *integrity.Auditor
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	if command == "--version" || command == "-v" {
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	}
	if command == "--help" || command == "-h" || command == "help" {
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	}

	cli, err := newCLI(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.manifest.Close()

	var runErr error
	switch command {
	case "init":
		runErr = cli.handleInit(ctx, args)
	case "download-symbols":
		runErr = cli.handleDownloadSymbols(ctx, args)
	case "download-history":
		runErr = cli.handleDownloadHistory(ctx, args)
	case "ingest":
		runErr = cli.handleIngest(ctx, args)
	case "read":
		runErr = cli.handleRead(ctx, args)
	case "verify":
		runErr = cli.handleVerify(ctx, args)
	case "delete":
		runErr = cli.handleDelete(ctx, args)
	case "upload-feature":
		runErr = cli.handleUploadFeature(ctx, args)
	case "serve":
		runErr = cli.handleServe(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", runErr.Error())
		cli.logger.Error("command failed", "command", command, "error", runErr)
		os.Exit(ExitDataError)
	}
}

// newCLI loads configuration and wires every core service, the CLI's
// counterpart to the REST server's service wiring in httpapi.New.
func newCLI(ctx context.Context) (*CLI, error) {
	cm := config.NewConfigManager(findConfigFile(), slog.Default())
	cfg, err := cm.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	lm, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	log := lm.GetLogger()

	manifest, err := storage.NewSQLiteManifest(cfg.Lake.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	store, err := storage.NewParquetStore(cfg.Lake.DataRoot, manifest, log)
	if err != nil {
		manifest.Close()
		return nil, fmt.Errorf("open partition store: %w", err)
	}

	registry := exchange.NewRegistry()
	registry.Register("coinbase", exchange.NewCoinbaseAdapter())

	supervisor := collector.NewSupervisor(cfg.Ingest.WorkerCount, log)
	supervisor.Start()

	auditor := integrity.NewAuditor(manifest, store)

	return &CLI{
		cfg:        cfg,
		lm:         lm,
		logger:     log,
		manifest:   manifest,
		store:      store,
		registry:   registry,
		supervisor: supervisor,
		auditor:    auditor,
	}, nil
}

func findConfigFile() string {
	if _, err := os.Stat(ConfigFile); err == nil {
		return ConfigFile
	}
	return ""
}

// handleInit creates the data root and manifest database, per SPEC_FULL's
// `init` command mapping 1:1 to lake provisioning.
func (cli *CLI) handleInit(ctx context.Context, args []string) error {
	if err := os.MkdirAll(cli.cfg.Lake.DataRoot, 0755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}
	if err := cli.manifest.HealthCheck(ctx); err != nil {
		return fmt.Errorf("manifest health check: %w", err)
	}
	fmt.Printf("initialized data lake at %s (manifest: %s)\n", cli.cfg.Lake.DataRoot, cli.cfg.Lake.ManifestPath)
	return nil
}

// handleDownloadSymbols lists markets and symbols an exchange exposes,
// a read-only discovery command layered over C5's PairProvider.
func (cli *CLI) handleDownloadSymbols(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]string{"--exchange": cli.cfg.Exchange.Default})
	if err != nil {
		return err
	}
	adapter, err := cli.registry.Get(flags["--exchange"])
	if err != nil {
		return err
	}
	markets, err := adapter.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("list markets: %w", err)
	}
	for _, market := range markets {
		pairs, err := adapter.ListSymbols(ctx, market)
		if err != nil {
			return fmt.Errorf("list symbols for market %q: %w", market, err)
		}
		for _, p := range pairs {
			fmt.Printf("%s\t%s\t%s\n", market, p.Symbol, p.BaseAsset+"/"+p.QuoteAsset)
		}
	}
	return nil
}

// handleDownloadHistory runs a synchronous full ingest of one identity
// through the C6 pipeline directly (not via the supervisor queue), the CLI
// equivalent of POST /ingest/download.
func (cli *CLI) handleDownloadHistory(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]string{
		"--exchange": cli.cfg.Exchange.Default,
		"--data-type": string(models.DataTypeOHLCV),
		"--timeframe": "1h",
	})
	if err != nil {
		return err
	}
	if flags["--symbol"] == "" {
		return fmt.Errorf("--symbol is required")
	}

	adapter, err := cli.registry.Get(flags["--exchange"])
	if err != nil {
		return err
	}
	id := models.Identity{Exchange: flags["--exchange"], Market: flags["--market"], Symbol: flags["--symbol"]}

	pipeline := collector.NewPipeline(adapter, cli.store, cli.manifest, cli.logger)
	params := collector.IngestParams{
		Identity:    id,
		DataType:    models.DataType(flags["--data-type"]),
		Period:      flags["--timeframe"],
		FullHistory: flags["--full-history"] == "true",
	}
	if flags["--start"] != "" {
		t, err := time.Parse("2006-01-02", flags["--start"])
		if err != nil {
			return fmt.Errorf("invalid --start date, use YYYY-MM-DD: %w", err)
		}
		params.Start = t.UnixMilli()
	}

	return pipeline.Run(ctx, params, func(cursor int64, recordsCollected int, message string) {
		cli.logger.Info("ingest progress", "cursor", cursor, "records", recordsCollected, "message", message)
	})
}

// handleIngest streams a local CSV file through C7.
func (cli *CLI) handleIngest(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]string{
		"--data-type": string(models.DataTypeOHLCV),
	})
	if err != nil {
		return err
	}
	if flags["--file"] == "" || flags["--symbol"] == "" || flags["--exchange"] == "" {
		return fmt.Errorf("--file, --exchange, and --symbol are required")
	}

	chunkRows := cli.cfg.Ingest.ChunkRows
	if v := flags["--chunk-rows"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			chunkRows = n
		}
	}

	ingestor := csv.NewIngestor(cli.store)
	result, err := ingestor.Ingest(ctx, csv.Params{
		Path: flags["--file"],
		Identity: models.Identity{
			Exchange: flags["--exchange"], Market: flags["--market"], Symbol: flags["--symbol"],
		},
		DataType:  models.DataType(flags["--data-type"]),
		Period:    flags["--timeframe"],
		ChunkRows: chunkRows,
	})
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d rows, skipped %d\n", result.RowsWritten, result.RowsSkipped)
	return nil
}

// handleRead prints records in [start,end) as JSON to stdout.
func (cli *CLI) handleRead(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]string{"--data-type": string(models.DataTypeOHLCV)})
	if err != nil {
		return err
	}
	if flags["--exchange"] == "" || flags["--symbol"] == "" {
		return fmt.Errorf("--exchange and --symbol are required")
	}

	start, end, err := parseRange(flags["--start"], flags["--end"])
	if err != nil {
		return err
	}

	id := models.Identity{Exchange: flags["--exchange"], Market: flags["--market"], Symbol: flags["--symbol"]}
	batch, err := cli.store.Read(ctx, id, flags["--data-type"], flags["--timeframe"], start, end)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(batch)
}

// handleVerify runs the C9 integrity auditor and prints its report.
func (cli *CLI) handleVerify(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]string{"--data-type": string(models.DataTypeOHLCV)})
	if err != nil {
		return err
	}
	id := models.Identity{Exchange: flags["--exchange"], Market: flags["--market"], Symbol: flags["--symbol"]}
	report, err := cli.auditor.Verify(ctx, id, flags["--data-type"], flags["--timeframe"])
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// handleDelete removes every partition matching the identity/type/period.
func (cli *CLI) handleDelete(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]string{})
	if err != nil {
		return err
	}
	if flags["--exchange"] == "" || flags["--symbol"] == "" {
		return fmt.Errorf("--exchange and --symbol are required")
	}
	id := models.Identity{Exchange: flags["--exchange"], Market: flags["--market"], Symbol: flags["--symbol"]}
	count, err := cli.store.Delete(ctx, id, flags["--data-type"], flags["--timeframe"])
	if err != nil {
		return err
	}
	fmt.Printf("removed %d files\n", count)
	return nil
}

// handleUploadFeature is the CLI form of the feature store's thin
// file-copy + manifest-insert surface (§9): copy the file under the lake
// root at a fixed "features" path and register it in the manifest with
// type "feature".
func (cli *CLI) handleUploadFeature(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]string{})
	if err != nil {
		return err
	}
	if flags["--path"] == "" || flags["--name"] == "" {
		return fmt.Errorf("--path and --name are required")
	}

	data, err := os.ReadFile(flags["--path"])
	if err != nil {
		return fmt.Errorf("read feature file: %w", err)
	}

	destDir := filepath.Join(cli.cfg.Lake.DataRoot, "features")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create features directory: %w", err)
	}
	destPath := filepath.Join(destDir, flags["--name"]+filepath.Ext(flags["--path"]))
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("write feature file: %w", err)
	}

	err = cli.manifest.Upsert(ctx, storage.ManifestEntry{
		Exchange:  "_features",
		Symbol:    flags["--name"],
		Type:      "feature",
		Path:      destPath,
		FileSize:  int64(len(data)),
		Version:   time.Now().UTC().Format("20060102T150405Z"),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("register feature in manifest: %w", err)
	}
	fmt.Printf("uploaded feature %q to %s\n", flags["--name"], destPath)
	return nil
}

// handleServe runs the REST adapter (§6) until interrupted, alongside an
// optional metrics/health sidecar (internal/metrics) on its own port.
func (cli *CLI) handleServe(ctx context.Context, args []string) error {
	if !cli.cfg.HTTP.Enabled {
		return fmt.Errorf("http.enabled is false")
	}
	server := httpapi.New(httpapi.Config{Addr: cli.cfg.HTTP.Addr, DataRoot: cli.cfg.Lake.DataRoot}, cli.store, cli.manifest, cli.registry, cli.supervisor, cli.auditor, cli.logger)

	mc := metrics.NewMetricsCollector(cli.cfg.Metrics, cli.lm)
	if err := mc.Start(ctx); err != nil {
		return fmt.Errorf("start metrics collector: %w", err)
	}
	defer mc.Stop(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cli.supervisor.Stop(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	}
}

// parseFlags parses "--flag value" pairs into a map seeded with defaults.
func parseFlags(args []string, defaults map[string]string) (map[string]string, error) {
	flags := make(map[string]string, len(defaults))
	for k, v := range defaults {
		flags[k] = v
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--help" || arg == "-h" {
			flags["--help"] = "true"
			continue
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("flag %s requires a value", arg)
		}
		flags[arg] = args[i+1]
		i++
	}
	return flags, nil
}

func parseRange(startStr, endStr string) (int64, int64, error) {
	start := int64(0)
	end := time.Now().UTC().UnixMilli()
	if startStr != "" {
		t, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --start date, use YYYY-MM-DD: %w", err)
		}
		start = t.UnixMilli()
	}
	if endStr != "" {
		t, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --end date, use YYYY-MM-DD: %w", err)
		}
		end = t.UnixMilli()
	}
	return start, end, nil
}

func printUsage() {
	fmt.Printf(`%s - Data Lake CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    init               Create the data root and manifest database
    download-symbols   List markets and symbols an exchange exposes
    download-history   Ingest an identity's full or incremental history
    ingest             Stream a local CSV file into the lake
    read               Print records in a time range as JSON
    verify             Run the integrity auditor over an identity
    delete             Remove every partition for an identity
    upload-feature     Register a derived feature file in the manifest
    serve              Run the REST adapter

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    %s init
    %s download-history --exchange coinbase --symbol BTC-USD --timeframe 1h --full-history true
    %s read --exchange coinbase --symbol BTC-USD --start 2024-01-01 --end 2024-02-01

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (JSON format)
    - Environment variables (DATA_ROOT, MANIFEST_PATH, WORKER_COUNT, ...)
    - A .env file in the working directory

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, ConfigFile, AppName)
}

func printCommandHelp(command string) {
	switch command {
	case "download-history":
		fmt.Printf(`%s download-history - ingest an identity's history

USAGE:
    %s download-history --exchange E --symbol S [--market M] [--timeframe T]
                         [--data-type ohlcv|funding] [--start YYYY-MM-DD] [--full-history true]
`, AppName, AppName)
	case "ingest":
		fmt.Printf(`%s ingest - stream a CSV file into the lake

USAGE:
    %s ingest --exchange E --symbol S --file path.csv [--timeframe T] [--chunk-rows N]
`, AppName, AppName)
	case "read":
		fmt.Printf(`%s read - print records in a time range as JSON

USAGE:
    %s read --exchange E --symbol S [--start YYYY-MM-DD] [--end YYYY-MM-DD] [--timeframe T]
`, AppName, AppName)
	default:
		printUsage()
	}
}
