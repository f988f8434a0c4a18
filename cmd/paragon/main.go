package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/paragon/internal/receipt"
	"github.com/zombor/paragon/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; flags and the environment still apply
	_ = godotenv.Load()

	fs := ff.NewFlagSet("paragon")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dataDir       = fs.StringLong("data-dir", "./receipts", "Receipt store directory")
		cacheDB       = fs.StringLong("cache-db", "paragon-cache.db", "Extraction cache file path")
		dbDriver      = fs.StringLong("db-driver", receipt.DriverSQLite, "Ledger database driver: 'sqlite' or 'postgres'")
		dbDSN         = fs.StringLong("db-dsn", "paragon.db", "Ledger database DSN (file path for sqlite)")
		scannerType   = fs.StringLong("scanner", "gemini", "Model backend: 'gemini' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name")
		promptVersion = fs.StringLong("prompt-version", scanning.DefaultPromptVersion, "Default extraction prompt version")
		maxTokens     = fs.IntLong("max-tokens", scanning.DefaultMaxTokens, "Output token cap per model call")
		modelTimeout  = fs.DurationLong("model-timeout", scanning.DefaultModelTimeout, "Deadline for a single model call")
		minImageSide  = fs.IntLong("min-image-side", scanning.DefaultMinImageSide, "Smallest accepted image width or height in pixels")
		uploadRPS     = fs.Float64Long("upload-rps", 0, "Uploads allowed per second (0 disables the limit)")
		uploadBurst   = fs.IntLong("upload-burst", 1, "Upload burst size")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		logFormat     = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PARAGON"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := setupLogging(*logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize model backend
	var model scanning.Model
	var err error
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini model...", "model", *geminiModel)
		model, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama model...", "url", *ollamaURL, "model", *ollamaModel)
		model, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer model.Close()

	if _, err := scanning.Prompt(*promptVersion); err != nil {
		slog.Error("Invalid default prompt version", "version", *promptVersion, "error", err)
		os.Exit(1)
	}

	// Initialize storage
	slog.Info("Initializing receipt store...", "path", *dataDir)
	store, err := receipt.NewLocalStorage(*dataDir)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing extraction cache...", "path", *cacheDB)
	cache, err := receipt.NewBoltCache(*cacheDB)
	if err != nil {
		slog.Error("Failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	slog.Info("Initializing ledger...", "driver", *dbDriver)
	ledger, err := receipt.OpenLedger(*dbDriver, *dbDSN)
	if err != nil {
		slog.Error("Failed to initialize ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	extractor := scanning.NewReconciler(scanning.NewExtractor(model, scanning.ExtractorConfig{
		MaxTokens: *maxTokens,
		Timeout:   *modelTimeout,
	}))
	detector := scanning.ChainDetector{
		scanning.ExifDetector{},
		scanning.NewTesseractDetector(""),
	}

	receiptService := receipt.NewService(store, cache, ledger, extractor, detector, receipt.Config{
		PromptVersion: *promptVersion,
		MinImageSide:  *minImageSide,
	})

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth, receipt.UploadLimit{
		RPS:   *uploadRPS,
		Burst: *uploadBurst,
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	<-ctx.Done()
	slog.Info("Shutting down...")
}

// setupLogging replaces the default logger with the configured handler
func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
