package cli

import (
	"context"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/adapter"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"github.com/m-mizutani/mmpersona/pkg/repository"
	"github.com/m-mizutani/mmpersona/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Mattermost
	mattermostURL string
	teamID        string
	botsDir       string
	users         []string

	// Logging
	logLevel  string
	logFormat string

	// Adapters
	geminiProject  string
	geminiLocation string
	geminiAPIKey   string
	archiveBucket  string

	// Repository
	firestoreProject  string
	firestoreDatabase string
}

// globalFlags returns flags shared by all commands that talk to Mattermost
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mattermost-url",
			Usage:       "Base URL of the Mattermost server",
			Value:       "http://localhost:8065",
			Sources:     cli.EnvVars("MATTERMOST_URL"),
			Destination: &cfg.mattermostURL,
		},
		&cli.StringFlag{
			Name:        "team-id",
			Usage:       "Mattermost team ID",
			Sources:     cli.EnvVars("TEAM_ID"),
			Destination: &cfg.teamID,
		},
		&cli.StringFlag{
			Name:        "bots-dir",
			Usage:       "Directory of bot descriptor YAML files",
			Value:       "bots",
			Sources:     cli.EnvVars("MMPERSONA_BOTS_DIR"),
			Destination: &cfg.botsDir,
		},
		&cli.StringSliceFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "Known user as name=id, used to resolve speakers (repeatable)",
			Sources:     cli.EnvVars("MMPERSONA_USERS"),
			Destination: &cfg.users,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MMPERSONA_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("MMPERSONA_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key, used instead of Vertex AI when set",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
	}
}

// storeFlags returns flags of the optional lease lock, reply log and archive
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID of Firestore for thread locks and reply logs",
			Sources:     cli.EnvVars("FIRESTORE_PROJECT_ID"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket to archive reply exchanges",
			Sources:     cli.EnvVars("MMPERSONA_ARCHIVE_BUCKET"),
			Destination: &cfg.archiveBucket,
		},
	}
}

// setupLogger configures the default logger and returns a context carrying it
func (cfg *config) setupLogger(ctx context.Context, w io.Writer) context.Context {
	logger := logging.New(cfg.logLevel, w, logging.WithFormat(logging.ParseFormat(cfg.logFormat)))
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// loadBots reads bot descriptors and builds the identity map from them
func (cfg *config) loadBots(getenv func(string) string) ([]*model.Bot, model.UserMap, error) {
	if cfg.teamID == "" {
		return nil, model.UserMap{}, goerr.New("team-id is required")
	}

	bots, err := LoadBots(cfg.botsDir, getenv)
	if err != nil {
		return nil, model.UserMap{}, err
	}
	if len(bots) == 0 {
		return nil, model.UserMap{}, goerr.New("no bot descriptor found", goerr.V("dir", cfg.botsDir))
	}

	users, err := BuildUserMap(bots, cfg.users)
	if err != nil {
		return nil, model.UserMap{}, err
	}
	return bots, users, nil
}

// newChat creates a Mattermost client acting as the bot
func (cfg *config) newChat(bot *model.Bot) adapter.Chat {
	return adapter.NewMattermost(cfg.mattermostURL, bot.Token)
}

// newRepository creates Firestore repository when configured, otherwise in-memory one
func (cfg *config) newRepository() (repository.Repository, func() error, error) {
	if cfg.firestoreProject == "" {
		return repository.NewMemory(), func() error { return nil }, nil
	}
	if cfg.firestoreDatabase == "" {
		return nil, nil, goerr.New("firestore-database is required")
	}

	repo, err := repository.New(cfg.firestoreProject, cfg.firestoreDatabase)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, repo.Close, nil
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiAPIKey != "" {
		return adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey)
	}

	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project or gemini-api-key is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation)
}

// newStorage creates archive storage, or returns nil when no bucket is set
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.archiveBucket == "" {
		return nil, nil
	}

	storage, err := adapter.NewStorage(ctx, cfg.archiveBucket, "mmpersona")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// BuildUserMap merges bot identities with name=id entries given on the command line
func BuildUserMap(bots []*model.Bot, entries []string) (model.UserMap, error) {
	nameToID := make(map[string]model.UserID, len(bots)+len(entries))
	for _, bot := range bots {
		nameToID[bot.Name] = bot.UserID
	}

	for _, entry := range entries {
		name, id, ok := strings.Cut(entry, "=")
		name, id = strings.TrimSpace(name), strings.TrimSpace(id)
		if !ok || name == "" || id == "" {
			return model.UserMap{}, goerr.New("invalid user entry, expected name=id", goerr.V("entry", entry))
		}
		nameToID[name] = model.UserID(id)
	}

	return model.NewUserMap(nameToID), nil
}
