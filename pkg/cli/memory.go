package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"github.com/m-mizutani/mmpersona/pkg/usecase/conversation"
	"github.com/urfave/cli/v3"
)

func memoryCommand() *cli.Command {
	var (
		cfg     config
		botName string
		exclude string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "bot",
			Aliases:     []string{"b"},
			Usage:       "Name of the bot whose memory is shown",
			Sources:     cli.EnvVars("MMPERSONA_BOT"),
			Destination: &botName,
		},
		&cli.StringFlag{
			Name:        "exclude",
			Usage:       "Thread root ID whose memory is left out",
			Destination: &exclude,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "memory",
		Usage: "Print the memory block a bot reads from its memory channel",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, os.Stderr)

			if botName == "" {
				return goerr.New("bot is required")
			}

			bots, _, err := cfg.loadBots(os.Getenv)
			if err != nil {
				return err
			}

			var bot *model.Bot
			for _, b := range bots {
				if b.Name == botName {
					bot = b
				}
			}
			if bot == nil {
				return goerr.New("bot not found", goerr.V("bot", botName), goerr.V("dir", cfg.botsDir))
			}
			if !bot.HasMemory() {
				return goerr.New("bot has no memory channel", goerr.V("bot", botName))
			}

			store := conversation.NewMemoryStore(cfg.newChat(bot), cfg.teamID, bot)
			blocks, err := store.Read(ctx, model.PostID(exclude))
			if err != nil {
				return goerr.Wrap(err, "failed to read memory", goerr.V("bot", botName))
			}

			for _, block := range blocks {
				fmt.Fprintln(c.Root().Writer, block)
			}
			return nil
		},
	}
}
