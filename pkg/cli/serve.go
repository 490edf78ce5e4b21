package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/metrics"
	"github.com/m-mizutani/mmpersona/pkg/usecase/reply"
	"github.com/m-mizutani/mmpersona/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// pollerConfig holds flags of the polling cycle
type pollerConfig struct {
	interval    time.Duration
	lookback    time.Duration
	concurrency int64
}

func pollerFlags(pc *pollerConfig) []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:        "interval",
			Usage:       "Minimum time between polling cycles",
			Value:       5 * time.Second,
			Sources:     cli.EnvVars("MMPERSONA_INTERVAL"),
			Destination: &pc.interval,
		},
		&cli.DurationFlag{
			Name:        "lookback",
			Usage:       "How far back posts are fetched in each cycle",
			Value:       time.Hour,
			Sources:     cli.EnvVars("MMPERSONA_LOOKBACK"),
			Destination: &pc.lookback,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Number of channels of one bot processed in parallel",
			Value:       1,
			Sources:     cli.EnvVars("MMPERSONA_CONCURRENCY"),
			Destination: &pc.concurrency,
		},
	}
}

func serveCommand() *cli.Command {
	var (
		cfg         config
		pc          pollerConfig
		metricsAddr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "Listen address of the Prometheus metrics endpoint, disabled when empty",
			Sources:     cli.EnvVars("MMPERSONA_METRICS_ADDR"),
			Destination: &metricsAddr,
		},
	}
	flags = append(flags, pollerFlags(&pc)...)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Poll channels and reply to mentions until interrupted",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, os.Stderr)
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			poller, closer, err := cfg.newPoller(ctx, pc, m)
			if err != nil {
				return err
			}
			defer closer()

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return poller.Serve(ctx)
			})
			if metricsAddr != "" {
				eg.Go(func() error {
					return serveMetrics(ctx, metricsAddr, m)
				})
			}
			return eg.Wait()
		},
	}
}

func runCommand() *cli.Command {
	var (
		cfg config
		pc  pollerConfig
	)

	flags := pollerFlags(&pc)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "run",
		Usage: "Run a single polling cycle and exit",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, os.Stderr)

			poller, closer, err := cfg.newPoller(ctx, pc, nil)
			if err != nil {
				return err
			}
			defer closer()

			if err := poller.RunOnce(ctx); err != nil {
				return goerr.Wrap(err, "polling cycle failed")
			}
			return nil
		},
	}
}

// newPoller wires one Coordinator per bot. The returned closer releases the repository.
func (cfg *config) newPoller(ctx context.Context, pc pollerConfig, m *metrics.Metrics) (*reply.Poller, func(), error) {
	bots, users, err := cfg.loadBots(os.Getenv)
	if err != nil {
		return nil, nil, err
	}

	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, nil, err
	}

	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	repo, closeRepo, err := cfg.newRepository()
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := closeRepo(); err != nil {
			logging.From(ctx).Warn("failed to close repository", "error", err)
		}
	}

	workers := make([]*reply.Worker, 0, len(bots))
	for _, bot := range bots {
		chat := cfg.newChat(bot)
		coordinator, err := reply.New(reply.NewInput{
			Bot:     bot,
			Chat:    chat,
			Gemini:  gemini,
			Users:   users,
			TeamID:  cfg.teamID,
			Repo:    repo,
			Storage: storage,
			Metrics: m,
		})
		if err != nil {
			closer()
			return nil, nil, goerr.Wrap(err, "failed to create coordinator", goerr.V("bot", bot.Name))
		}
		workers = append(workers, &reply.Worker{Chat: chat, Coordinator: coordinator})
	}

	logging.From(ctx).Info("bots loaded", "count", len(workers), "users", users.Len())

	poller := reply.NewPoller(cfg.teamID, workers,
		reply.WithInterval(pc.interval),
		reply.WithLookback(pc.lookback),
		reply.WithConcurrency(int(pc.concurrency)),
		reply.WithMetrics(m),
	)
	return poller, closer, nil
}

// serveMetrics exposes m on addr until ctx is canceled
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.From(ctx).Warn("failed to shutdown metrics server", "error", err)
		}
	}()

	logging.From(ctx).Info("metrics server started", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return goerr.Wrap(err, "metrics server failed", goerr.V("addr", addr))
	}
	return nil
}
