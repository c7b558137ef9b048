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

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/version"

	"github.com/zombor/receipt-scanner/internal/category"
	"github.com/zombor/receipt-scanner/internal/imaging"
	"github.com/zombor/receipt-scanner/internal/metrics"
	"github.com/zombor/receipt-scanner/internal/ocr"
	"github.com/zombor/receipt-scanner/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

func main() {
	version.Version = strings.TrimSpace(versionFile)

	// Check version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version.Print(metrics.AppName))
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet(metrics.AppName)
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "receipt-scanner.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./receipts", "Storage directory path")
		engineType     = fs.StringLong("engine", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		tessdata       = fs.StringLong("tessdata", "", "Tesseract tessdata directory (defaults to the system location)")
		language       = fs.StringLong("lang", "eng", "Tesseract language")
		pageSegMode    = fs.IntLong("psm", 0, "Tesseract page segmentation mode (0 keeps the default)")
		maxWidth       = fs.IntLong("max-width", imaging.DefaultMaxWidth, "Widest image handed to the OCR engine")
		imageFormat    = fs.StringLong("image-format", "png", "Normalized image encoding: 'png' or 'jpeg'")
		jpegQuality    = fs.IntLong("jpeg-quality", imaging.DefaultJPEGQuality, "JPEG quality for normalized images")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		categoriesFile = fs.StringLong("categories", "", "YAML file with extra category keywords (optional)")
		useReceiptDate = fs.BoolLong("use-receipt-date", "Default the transaction date to the date printed on the receipt")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_              = fs.StringLong("config", "", "Config file with one 'flag value' pair per line (optional)")
		_              = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_SCANNER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	format, err := imaging.ParseFormat(*imageFormat)
	if err != nil {
		slog.Error("Invalid image format", "error", err)
		os.Exit(1)
	}
	normalizer := imaging.NewNormalizer(*maxWidth)
	normalizer.Format = format
	normalizer.Quality = *jpegQuality

	// The engine is built lazily on the first scan
	var factory ocr.EngineFactory
	switch *engineType {
	case "tesseract":
		slog.Info("Using Tesseract engine", "lang", *language, "tessdata", *tessdata)
		factory = ocr.NewTesseractFactory(ocr.TesseractConfig{
			Language:       *language,
			TessdataPrefix: *tessdata,
			PageSegMode:    *pageSegMode,
		})
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Using Gemini engine", "model", *geminiModel)
		factory = ocr.NewGeminiFactory(apiKey, *geminiModel)
	case "ollama":
		slog.Info("Using Ollama engine", "url", *ollamaURL, "model", *ollamaModel)
		factory = ocr.NewOllamaFactory(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid engine type", "type", *engineType, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}
	session := ocr.NewSession(factory)
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("Failed to close OCR engine", "error", err)
		}
	}()

	categorizer := category.DefaultCategorizer
	if *categoriesFile != "" {
		rules, err := category.LoadRules(*categoriesFile)
		if err != nil {
			slog.Error("Failed to load category keywords", "error", err)
			os.Exit(1)
		}
		categorizer = category.New(rules)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(registry)

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	pipeline := receipt.NewPipeline(normalizer, session, categorizer, recorder)
	receiptService := receipt.NewService(db, pipeline, store)
	receiptService.SetUseDetectedDate(*useReceiptDate)

	landing, err := metrics.LandingPage("/metrics")
	if err != nil {
		slog.Error("Failed to build landing page", "error", err)
		os.Exit(1)
	}

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth,
		receipt.WithOCRState(pipeline.OCRState),
		receipt.WithMetrics(metrics.Handler(registry)),
		receipt.WithLandingPage(landing),
	)

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version.Version)
	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		stop()
		os.Exit(1)
	}

	slog.Info("Shut down cleanly")
}
