package reply

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/adapter"
	"github.com/m-mizutani/mmpersona/pkg/metrics"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"github.com/m-mizutani/mmpersona/pkg/usecase/conversation"
	"github.com/m-mizutani/mmpersona/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// Worker pairs a bot with the platform client acting as that bot
type Worker struct {
	Chat        adapter.Chat
	Coordinator *Coordinator
}

// Poller runs the polling cycle over every bot. Bots are processed one after
// another; channels of one bot may run in parallel, but posts of a channel
// are always processed in order, so a thread never has two workers.
type Poller struct {
	workers     []*Worker
	teamID      string
	lookback    time.Duration
	interval    time.Duration
	concurrency int
	metrics     *metrics.Metrics
	now         func() time.Time
}

type PollerOption func(*Poller)

func WithLookback(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.lookback = d
	}
}

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithConcurrency sets how many channels of one bot are processed at once
func WithConcurrency(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) PollerOption {
	return func(p *Poller) {
		p.metrics = m
	}
}

func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		p.now = now
	}
}

func NewPoller(teamID string, workers []*Worker, opts ...PollerOption) *Poller {
	p := &Poller{
		workers:     workers,
		teamID:      teamID,
		lookback:    time.Hour,
		interval:    5 * time.Second,
		concurrency: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce runs one polling cycle. Failures of single posts are logged and do
// not stop the cycle; failures to list channels or posts are returned joined.
func (p *Poller) RunOnce(ctx context.Context) error {
	var errs []error
	for _, w := range p.workers {
		if err := p.runWorker(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Serve repeats RunOnce until ctx is canceled, starting a cycle at most once per interval
func (p *Poller) Serve(ctx context.Context) error {
	logger := logging.From(ctx)
	for {
		begin := p.now()
		logger.Debug("start polling cycle", "workers", len(p.workers))
		if err := p.RunOnce(ctx); err != nil {
			logger.Error("polling cycle failed", "error", err)
		}

		wait := p.interval - p.now().Sub(begin)
		if wait <= 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (p *Poller) runWorker(ctx context.Context, w *Worker) error {
	bot := w.Coordinator.Bot()
	logger := logging.From(ctx).With("bot", bot.Name)
	ctx = logging.With(ctx, logger)

	channels, err := w.Chat.ListChannels(ctx, bot.UserID, p.teamID)
	if err != nil {
		return goerr.Wrap(err, "failed to list channels", goerr.V("bot", bot.Name))
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var eg errgroup.Group
	eg.SetLimit(p.concurrency)
	for _, channelID := range channels {
		eg.Go(func() error {
			if err := p.runChannel(ctx, w, channelID); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	return errors.Join(errs...)
}

func (p *Poller) runChannel(ctx context.Context, w *Worker, channelID model.ChannelID) error {
	bot := w.Coordinator.Bot()
	logger := logging.From(ctx).With("channel_id", channelID)
	ctx = logging.With(ctx, logger)

	since := p.now().Add(-p.lookback).UnixMilli()
	list, err := w.Chat.GetPostsSince(ctx, channelID, since)
	if err != nil {
		return goerr.Wrap(err, "failed to get posts", goerr.V("bot", bot.Name), goerr.V("channel_id", channelID))
	}

	targets := conversation.FilterNeedsReply(list, bot)
	if len(targets) == 0 {
		return nil
	}

	var pinned []*model.Post
	if bot.ReadPin {
		pinnedList, err := w.Chat.GetPinnedPosts(ctx, channelID)
		if err != nil {
			return goerr.Wrap(err, "failed to get pinned posts", goerr.V("bot", bot.Name), goerr.V("channel_id", channelID))
		}
		pinned = pinnedList.List()
	}

	for _, post := range targets {
		p.metrics.Triggered(bot.Name)

		state, err := w.Coordinator.Process(ctx, post, pinned)
		switch {
		case err != nil:
			p.metrics.Reply(bot.Name, "failed")
			logger.Error("failed to process post", "post_id", post.ID, "state", state, "error", err)
		case state == StateSkipped:
			p.metrics.Reply(bot.Name, "skipped")
		default:
			p.metrics.Reply(bot.Name, "answered")
		}
	}
	return nil
}
