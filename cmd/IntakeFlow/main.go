package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/api"
	"github.com/DermaBridge/IntakeFlow/internal/flow"
	"github.com/DermaBridge/IntakeFlow/internal/genai"
	"github.com/DermaBridge/IntakeFlow/internal/lockfile"
	"github.com/DermaBridge/IntakeFlow/internal/messaging"
	"github.com/DermaBridge/IntakeFlow/internal/notify"
	"github.com/DermaBridge/IntakeFlow/internal/portal"
	"github.com/DermaBridge/IntakeFlow/internal/scheduler"
	"github.com/DermaBridge/IntakeFlow/internal/session"
	"github.com/DermaBridge/IntakeFlow/internal/settings"
	"github.com/DermaBridge/IntakeFlow/internal/store"
	"github.com/DermaBridge/IntakeFlow/internal/tone"
	"github.com/DermaBridge/IntakeFlow/internal/util"
	"github.com/DermaBridge/IntakeFlow/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for IntakeFlow state data
	DefaultStateDir = "/var/lib/intakeflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "intakeflow.db"
	// DefaultSettingsCron refreshes widget settings every five minutes
	DefaultSettingsCron = "*/5 * * * *"
	// DefaultSweepCron sweeps idle sessions every ten minutes
	DefaultSweepCron = "*/10 * * * *"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping IntakeFlow with configured modules")
	if err := run(flags); err != nil {
		slog.Error("IntakeFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("IntakeFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	WhatsAppDSN    string
	StateDir       string
	OpenAIKey      string
	APIAddr        string
	SettingsURL    string
	PortalURL      string
	AllowOrigin    string
	EnableWhatsApp bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput       *string
	numeric        *bool
	stateDir       *string
	dbDSN          *string
	openaiKey      *string
	apiAddr        *string
	settingsURL    *string
	portalURL      *string
	allowOrigin    *string
	enableWhatsApp *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:       os.Getenv("INTAKEFLOW_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		APIAddr:        os.Getenv("API_ADDR"),
		SettingsURL:    os.Getenv("WIDGET_SETTINGS_URL"),
		PortalURL:      os.Getenv("PORTAL_WEBHOOK_URL"),
		AllowOrigin:    os.Getenv("WIDGET_ALLOW_ORIGIN"),
		EnableWhatsApp: util.ParseBoolEnv("WHATSAPP_ENABLED", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No INTAKEFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("INTAKEFLOW_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"INTAKEFLOW_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"WIDGET_SETTINGS_URL_SET", config.SettingsURL != "",
		"PORTAL_WEBHOOK_URL_SET", config.PortalURL != "",
		"WHATSAPP_ENABLED", config.EnableWhatsApp)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:       flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:        flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for IntakeFlow data (overrides $INTAKEFLOW_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for the consultation store (overrides $DATABASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for photo analysis (overrides $OPENAI_API_KEY)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		settingsURL:    flag.String("settings-url", config.SettingsURL, "widget settings endpoint (overrides $WIDGET_SETTINGS_URL)"),
		portalURL:      flag.String("portal-url", config.PortalURL, "portal webhook URL for completed intakes (overrides $PORTAL_WEBHOOK_URL)"),
		allowOrigin:    flag.String("allow-origin", config.AllowOrigin, "CORS origin allowed to embed the widget (overrides $WIDGET_ALLOW_ORIGIN)"),
		enableWhatsApp: flag.Bool("enable-whatsapp", config.EnableWhatsApp, "run the WhatsApp intake channel (overrides $WHATSAPP_ENABLED)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"settingsURL_set", *flags.settingsURL != "",
		"portalURL_set", *flags.portalURL != "",
		"enableWhatsApp", *flags.enableWhatsApp)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates the state directory and, for file-based
// storage, the database directory.
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		dirs = append(dirs, filepath.Dir(*flags.dbDSN))
	}
	for _, dir := range dirs {
		slog.Debug("Creating state directory", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildStore opens the consultation store matching the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildEffects wires the optional collaborators into the flow's side effects.
func buildEffects(flags Flags, st store.Store, sp *settings.Provider) *flow.Effects {
	effectOpts := []flow.EffectsOption{
		flow.WithConsultationStore(st),
		flow.WithMilestones(flow.IntakeMilestones()),
	}

	if *flags.openaiKey != "" || os.Getenv("OPENAI_API_KEY") != "" {
		guide := tone.BuildPromptGuide(sp.Get(context.Background()).Tone)
		analyzer, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey), genai.WithStyleGuide(guide))
		if err != nil {
			slog.Warn("Photo analysis disabled", "error", err)
		} else {
			effectOpts = append(effectOpts, flow.WithAnalyzer(analyzer))
		}
	} else {
		slog.Info("No OpenAI API key configured; photo analysis will use fallback results")
	}

	if fw, err := portal.NewClient(portal.WithURL(*flags.portalURL)); err != nil {
		slog.Info("Portal forwarding disabled", "reason", err)
	} else {
		effectOpts = append(effectOpts, flow.WithPortalForwarder(fw))
	}

	if notifier, err := notify.NewClient(); err != nil {
		slog.Info("Clinic notifications disabled", "reason", err)
	} else {
		effectOpts = append(effectOpts, flow.WithClinicNotifier(notifier))
	}

	return flow.NewEffects(effectOpts...)
}

// buildIntakeDefinition constructs the intake script with a live welcome
// source and fails fast on structural script errors.
func buildIntakeDefinition(sp *settings.Provider) (*flow.Definition, error) {
	welcomeSource := func() string {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sp.Get(ctx).WelcomeMessage
	}
	def := flow.NewIntakeScript(sp.Get(context.Background()), flow.WithWelcomeSource(welcomeSource))
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("intake script failed validation: %w", err)
	}
	return def, nil
}

// startWhatsApp connects the WhatsApp channel and begins routing incoming
// messages into intake sessions.
func startWhatsApp(ctx context.Context, flags Flags, sessions *session.Manager) (*messaging.WhatsAppService, error) {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if dsn := os.Getenv("WHATSAPP_DB_DSN"); dsn != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(dsn))
	} else {
		waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")+"?_foreign_keys=on"))
	}

	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	svc := messaging.NewWhatsAppService(client)
	if err := svc.Start(ctx); err != nil {
		return nil, err
	}
	responder := messaging.NewIntakeResponder(svc, sessions)
	go responder.Start(ctx)
	return svc, nil
}

// run wires all modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Guard the state directory against concurrent instances.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release state directory lock", "error", err)
		}
	}()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	sp := settings.NewProvider(settings.WithURL(*flags.settingsURL))
	effects := buildEffects(flags, st, sp)
	def, err := buildIntakeDefinition(sp)
	if err != nil {
		return err
	}
	sessions := session.NewManager(def, effects.Registry())

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(DefaultSettingsCron, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sp.Refresh(refreshCtx); err != nil {
			slog.Warn("Settings refresh failed", "error", err)
		}
	}); err != nil {
		return err
	}
	if err := sched.AddJob(DefaultSweepCron, func() {
		if n := sessions.Sweep(); n > 0 {
			slog.Info("Swept idle sessions", "count", n)
		}
	}); err != nil {
		return err
	}

	if *flags.enableWhatsApp {
		svc, err := startWhatsApp(ctx, flags, sessions)
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Stop(); err != nil {
				slog.Warn("Failed to stop WhatsApp service", "error", err)
			}
		}()
	}

	server := api.NewServer(sessions, st, sp,
		api.WithAddr(*flags.apiAddr),
		api.WithAllowOrigin(*flags.allowOrigin),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
