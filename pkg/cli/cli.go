package cli

import (
	"context"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const defaultEnvFile = ".env"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	// .env must be loaded before flags resolve their environment sources
	if err := loadEnvFile(envFilePath(argv)); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	if err := newApp().Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "mmpersona",
		Usage: "Persona chat bots for Mattermost",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to dotenv file loaded before reading other flags",
				Value: defaultEnvFile,
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			runCommand(),
			memoryCommand(),
			tarotCommand(),
		},
	}
}

// envFilePath finds --env-file in argv. The flag is parsed again by the app,
// but its value is needed before any other flag is resolved.
func envFilePath(argv []string) string {
	for i, arg := range argv {
		switch {
		case arg == "--env-file" || arg == "-env-file":
			if i+1 < len(argv) {
				return argv[i+1]
			}
		case strings.HasPrefix(arg, "--env-file="):
			return strings.TrimPrefix(arg, "--env-file=")
		case strings.HasPrefix(arg, "-env-file="):
			return strings.TrimPrefix(arg, "-env-file=")
		}
	}
	return defaultEnvFile
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return goerr.Wrap(err, "failed to load env file", goerr.V("path", path))
	}
	return nil
}
