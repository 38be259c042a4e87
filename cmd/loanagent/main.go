package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/propfin/loanagent/internal/api"
	"github.com/propfin/loanagent/internal/genai"
	"github.com/propfin/loanagent/internal/store"
	"github.com/propfin/loanagent/internal/util"
	"github.com/propfin/loanagent/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for loanagent state data
	DefaultStateDir = "/var/lib/loanagent"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "loanagent.db"
	// DefaultSessionDBFileName is the default WhatsApp session database filename
	DefaultSessionDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()

	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping loanagent with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "channel", *flags.channel)
	if err := api.Run(*flags.stateDir, waOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("loanagent failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("loanagent exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	SessionDSN   string
	StateDir     string
	OpenAIKey    string
	APIAddr      string
	APIKey       string
	Channel      string
	OverlayDir   string
	TemplateName string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	sessionDSN   *string
	openaiKey    *string
	apiAddr      *string
	apiKey       *string
	channel      *string
	overlayDir   *string
	templateName *string
}

// initializeLogger sets up structured logging; LOANAGENT_DEBUG enables debug level
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("LOANAGENT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SessionDSN:   os.Getenv("WHATSAPP_SESSION_DSN"),
		StateDir:     os.Getenv("LOANAGENT_STATE_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		APIAddr:      os.Getenv("API_ADDR"),
		APIKey:       os.Getenv("LOANAGENT_API_KEY"),
		Channel:      os.Getenv("MESSAGING_CHANNEL"),
		OverlayDir:   os.Getenv("PROMPT_OVERLAY_DIR"),
		TemplateName: os.Getenv("FOLLOWUP_TEMPLATE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LOANAGENT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("LOANAGENT_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.SessionDSN == "" {
		config.SessionDSN = filepath.Join(config.StateDir, DefaultSessionDBFileName)
		slog.Debug("No session DSN provided, defaulting to SQLite", "sqlite_path", config.SessionDSN)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_SESSION_DSN_SET", config.SessionDSN != "",
		"LOANAGENT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"LOANAGENT_API_KEY_SET", config.APIKey != "",
		"MESSAGING_CHANNEL", config.Channel,
		"PROMPT_OVERLAY_DIR", config.OverlayDir,
		"FOLLOWUP_TEMPLATE", config.TemplateName)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for loanagent data (overrides $LOANAGENT_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN for the customer store (overrides $DATABASE_URL)"),
		sessionDSN:   flag.String("session-dsn", config.SessionDSN, "database DSN for the WhatsApp session (overrides $WHATSAPP_SESSION_DSN)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		apiKey:       flag.String("api-key", config.APIKey, "Bearer token required by API clients (overrides $LOANAGENT_API_KEY)"),
		channel:      flag.String("channel", config.Channel, "messaging channel: whatsapp, twilio, or none (overrides $MESSAGING_CHANNEL)"),
		overlayDir:   flag.String("prompt-overlay-dir", config.OverlayDir, "directory of prompt overlay files (overrides $PROMPT_OVERLAY_DIR)"),
		templateName: flag.String("followup-template", config.TemplateName, "approved template name for follow-up sends (overrides $FOLLOWUP_TEMPLATE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"sessionDSN_set", *flags.sessionDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"apiKeySet", *flags.apiKey != "",
		"channel", *flags.channel,
		"overlayDir", *flags.overlayDir,
		"templateName", *flags.templateName)

	// Keep the default SQLite paths in sync when only the state directory moved
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.sessionDSN == filepath.Join(config.StateDir, DefaultSessionDBFileName) {
			*flags.sessionDSN = filepath.Join(*flags.stateDir, DefaultSessionDBFileName)
			slog.Debug("Updated sessionDSN based on state directory", "new_state_dir", *flags.stateDir)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.sessionDSN} {
		if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "host=") {
			continue
		}
		dir := filepath.Dir(dsn)
		slog.Debug("Creating state directory for file-based database", "state_dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
	}
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.sessionDSN != "" {
		waOpts = append(waOpts, whatsapp.WithSessionDSN(*flags.sessionDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		slog.Debug("Configuring store", "dsn_type", store.DetectDSNType(*flags.dbDSN))
		storeOpts = append(storeOpts, store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs generation client configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.apiKey != "" {
		apiOpts = append(apiOpts, api.WithAPIKey(*flags.apiKey))
	}
	if *flags.channel != "" {
		apiOpts = append(apiOpts, api.WithChannel(*flags.channel))
	}
	if *flags.overlayDir != "" {
		apiOpts = append(apiOpts, api.WithOverlayDir(*flags.overlayDir))
	}
	if *flags.templateName != "" {
		apiOpts = append(apiOpts, api.WithFollowUpTemplate(*flags.templateName))
	}
	return apiOpts
}
