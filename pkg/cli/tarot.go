package cli

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/usecase/conversation"
	"github.com/urfave/cli/v3"
)

func tarotCommand() *cli.Command {
	var (
		count int64
		seed  int64
	)

	return &cli.Command{
		Name:  "tarot",
		Usage: "Draw tarot cards as the persona template does",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "count",
				Aliases:     []string{"n"},
				Usage:       "Number of cards to draw",
				Value:       1,
				Destination: &count,
			},
			&cli.IntFlag{
				Name:        "seed",
				Usage:       "Random seed, a random one is used when zero",
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
			if seed != 0 {
				rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
			}

			cards, err := conversation.DrawTarots(rng, int(count))
			if err != nil {
				return goerr.Wrap(err, "failed to draw", goerr.V("deck", conversation.DeckSize()))
			}

			for _, card := range cards {
				fmt.Fprintln(c.Root().Writer, card.String())
			}
			return nil
		},
	}
}
