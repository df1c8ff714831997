package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/carebridge/clinicflow/internal/api"
	"github.com/carebridge/clinicflow/internal/flow"
	"github.com/carebridge/clinicflow/internal/genai"
	"github.com/carebridge/clinicflow/internal/models"
	"github.com/carebridge/clinicflow/internal/retrieval"
	"github.com/carebridge/clinicflow/internal/store"
	"github.com/carebridge/clinicflow/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ClinicFlow state data
	DefaultStateDir = "/var/lib/clinicflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "clinicflow.db"
)

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	OpenAIModel string
	APIAddr     string
	RouterMode  string
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()

	dbDSN := flag.String("db-dsn", config.DatabaseURL, "database DSN (postgres:// URL or SQLite file path; empty for in-memory)")
	stateDir := flag.String("state-dir", config.StateDir, "state directory for the default SQLite database")
	openaiKey := flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key")
	openaiModel := flag.String("openai-model", config.OpenAIModel, "OpenAI chat model")
	apiAddr := flag.String("api-addr", config.APIAddr, "API listen address")
	routerMode := flag.String("router", config.RouterMode, "router variant: rule or model")
	maxGen := flag.Int("max-generations", flow.DefaultMaxConcurrentGenerations, "max concurrent generation calls")
	flag.Parse()

	st, err := openStore(*dbDSN, *stateDir)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	client, err := genai.NewClient(genai.WithAPIKey(*openaiKey), genai.WithModel(*openaiModel))
	if err != nil {
		slog.Error("Failed to create GenAI client", "error", err)
		os.Exit(1)
	}

	// Classifier domain content comes from the store when present, with the
	// compiled-in defaults behind it.
	clsCfg := models.DefaultClassifierConfig()
	if stored, err := st.GetClassifierConfig(); err != nil {
		slog.Warn("Failed to load classifier config, using defaults", "error", err)
	} else if stored != nil {
		clsCfg = *stored
		slog.Info("Loaded classifier config from store")
	}

	var router flow.Router
	switch strings.ToLower(*routerMode) {
	case "", "rule":
		router = flow.NewRuleBasedRouter()
	case "model":
		router = flow.NewModelAssistedRouter(client)
	default:
		slog.Error("Unknown router mode", "mode", *routerMode)
		os.Exit(1)
	}

	orchestrator := flow.NewOrchestrator(flow.Dependencies{
		Sessions:                 flow.NewSessionManager(st),
		Router:                   router,
		Classifier:               flow.NewClassifier(client, clsCfg),
		Selector:                 flow.NewSelector(st),
		Retriever:                retrieval.NewStoreRetriever(st),
		GenAI:                    client,
		MaxConcurrentGenerations: *maxGen,
	})

	slog.Info("Bootstrapping ClinicFlow", "addr", *apiAddr, "router", *routerMode, "dsn_set", *dbDSN != "")
	srv := api.NewServer(orchestrator, st, api.WithAddr(*apiAddr))
	if err := srv.Run(); err != nil {
		slog.Error("ClinicFlow failed to run", "error", err)
		os.Exit(1)
	}
}

// initializeLogger sets up structured logging; CLINICFLOW_DEBUG=true enables
// debug-level output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CLINICFLOW_DEBUG", false) {
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

	return Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("CLINICFLOW_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: os.Getenv("OPENAI_MODEL"),
		APIAddr:     os.Getenv("CLINICFLOW_API_ADDR"),
		RouterMode:  os.Getenv("CLINICFLOW_ROUTER"),
	}
}

// openStore selects the store backend from the DSN: Postgres for
// postgres:// URLs, SQLite for file paths, and the default SQLite database
// under the state directory when no DSN is given.
func openStore(dsn, stateDir string) (store.Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		slog.Info("Using Postgres store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	case dsn != "":
		slog.Info("Using SQLite store", "path", dsn)
		return store.NewSQLiteStore(store.WithDSN(dsn))
	default:
		if stateDir == "" {
			stateDir = DefaultStateDir
		}
		path := filepath.Join(stateDir, DefaultDBFileName)
		slog.Info("Using default SQLite store", "path", path)
		return store.NewSQLiteStore(store.WithDSN(path))
	}
}
