package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/valueplus/salespipe/internal/api"
	"github.com/valueplus/salespipe/internal/convo"
	"github.com/valueplus/salespipe/internal/genai"
	"github.com/valueplus/salespipe/internal/lockfile"
	"github.com/valueplus/salespipe/internal/messaging"
	"github.com/valueplus/salespipe/internal/store"
	"github.com/valueplus/salespipe/internal/twiliowhatsapp"
	"github.com/valueplus/salespipe/internal/util"
	"github.com/valueplus/salespipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SalesPipe state data
	DefaultStateDir = "/var/lib/salespipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "salespipe.db"
	// DefaultBackend is the default messaging backend
	DefaultBackend = "twilio"
)

// defaultSystemPrompt anchors every conversation when no prompt file is
// configured. Hebrew, matching the sales flow's canned texts.
const defaultSystemPrompt = "אתה נציג מכירות ידידותי של חברת בניית דפי נחיתה. " +
	"המטרה שלך היא לאפיין את העסק של הלקוח: מה המוצר או השירות, מי הלקוחות, " +
	"מה מטרת הדף ואיזה סגנון עיצוב מתאים. שאל שאלה אחת בכל פעם, ענה בעברית " +
	"בקצרה ובגובה העיניים, ואל תמציא פרטים על החברה."

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Single-tenant, single-process: refuse to start if another instance
	// already owns the state directory.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	gaClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}

	msgService, webhook, err := buildMessagingService(flags)
	if err != nil {
		slog.Error("Failed to initialize messaging backend", "error", err, "backend", *flags.backend)
		os.Exit(1)
	}

	policy, err := buildPolicyConfig(flags)
	if err != nil {
		slog.Error("Failed to build conversation policy", "error", err)
		os.Exit(1)
	}

	apiOpts := []api.Option{
		api.WithStore(st),
		api.WithGenAIClient(gaClient),
		api.WithMessagingService(msgService),
		api.WithPolicyConfig(policy),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if webhook != nil {
		apiOpts = append(apiOpts, api.WithWebhookHandler(webhook))
	}

	srv, err := api.NewServer(apiOpts...)
	if err != nil {
		slog.Error("Failed to assemble server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping SalesPipe", "backend", *flags.backend, "state_dir", *flags.stateDir)
	if err := srv.Run(ctx); err != nil {
		slog.Error("SalesPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SalesPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	WhatsAppDSN      string
	StateDir         string
	OpenAIKey        string
	APIAddr          string
	Backend          string
	SystemPromptFile string
	LogLevel         string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput         *string
	numeric          *bool
	stateDir         *string
	dbDSN            *string
	whatsappDSN      *string
	openaiKey        *string
	apiAddr          *string
	backend          *string
	systemPromptFile *string
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:         os.Getenv("SALESPIPE_STATE_DIR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		APIAddr:          os.Getenv("API_ADDR"),
		Backend:          os.Getenv("MESSAGING_BACKEND"),
		SystemPromptFile: os.Getenv("SYSTEM_PROMPT_FILE"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Backend == "" {
		config.Backend = DefaultBackend
	}
	// Default to SQLite in the state directory when no database URL is set
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"SALESPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_BACKEND", config.Backend)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:         flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:          flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for SalesPipe data (overrides $SALESPIPE_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "database DSN for the customer store (overrides $DATABASE_URL)"),
		whatsappDSN:      flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		backend:          flag.String("backend", config.Backend, "messaging backend: twilio or whatsmeow (overrides $MESSAGING_BACKEND)"),
		systemPromptFile: flag.String("system-prompt-file", config.SystemPromptFile, "file holding the agent system prompt (overrides $SYSTEM_PROMPT_FILE)"),
	}

	flag.Parse()
	followStateDir(flags, config)
	return flags
}

// followStateDir carries a defaulted SQLite DSN along when the state
// directory is overridden on the command line.
func followStateDir(flags Flags, config Config) {
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(*flags.dbDSN), 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStore constructs the customer store from the configured DSN
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(model))
	}
	genaiOpts = append(genaiOpts, genai.WithTimeout(util.ParseDurationEnv("OPENAI_TIMEOUT", genai.DefaultTimeout)))
	return genaiOpts
}

// buildMessagingService constructs the messaging backend. The Twilio backend
// also returns the webhook handler for the API server to mount; the whatsmeow
// backend receives inbound messages over its own event stream.
func buildMessagingService(flags Flags) (messaging.Service, http.HandlerFunc, error) {
	switch strings.ToLower(*flags.backend) {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc.TwilioWebhookHandler, nil
	case "whatsmeow":
		var waOpts []whatsapp.Option
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		if *flags.whatsappDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(client), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown messaging backend: %s", *flags.backend)
	}
}

// buildPolicyConfig applies environment overrides on top of the default
// conversation policy.
func buildPolicyConfig(flags Flags) (convo.PolicyConfig, error) {
	cfg := convo.DefaultPolicyConfig()
	cfg.MessageLimit = util.ParseIntEnv("MESSAGE_LIMIT", cfg.MessageLimit)
	cfg.IdleThreshold = util.ParseDurationEnv("IDLE_THRESHOLD", cfg.IdleThreshold)
	if spec := os.Getenv("SWEEP_SCHEDULE"); spec != "" {
		cfg.SweepSpec = spec
	}

	cfg.SystemPrompt = defaultSystemPrompt
	if *flags.systemPromptFile != "" {
		data, err := os.ReadFile(*flags.systemPromptFile)
		if err != nil {
			return cfg, fmt.Errorf("failed to read system prompt file %s: %w", *flags.systemPromptFile, err)
		}
		cfg.SystemPrompt = strings.TrimSpace(string(data))
	}
	return cfg, nil
}
