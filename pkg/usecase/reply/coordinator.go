package reply

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/adapter"
	"github.com/m-mizutani/mmpersona/pkg/metrics"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"github.com/m-mizutani/mmpersona/pkg/repository"
	"github.com/m-mizutani/mmpersona/pkg/usecase/conversation"
	"github.com/m-mizutani/mmpersona/pkg/utils/logging"
)

// EmojiEyes marks a post as being worked on
const EmojiEyes = "eyes"

const defaultLockTTL = 5 * time.Minute

// State is the last transition a triggering post reached
type State string

const (
	StateDetected        State = "detected"
	StateSkipped         State = "skipped"
	StateMarked          State = "marked"
	StateAnswered        State = "answered"
	StateFinalized       State = "finalized"
	StateMemoryPersisted State = "memory_persisted"
)

// Coordinator answers triggering posts of one bot. Every transition is a
// separate call to the platform and nothing is rolled back on failure.
type Coordinator struct {
	bot       *model.Bot
	chat      adapter.Chat
	gemini    adapter.Gemini
	repo      repository.Repository
	storage   adapter.Storage
	metrics   *metrics.Metrics
	assembler *conversation.Assembler
	memory    *conversation.MemoryStore

	owner   string
	lockTTL time.Duration
	now     func() time.Time
}

// NewInput contains parameters for creating a Coordinator
type NewInput struct {
	Bot     *model.Bot
	Chat    adapter.Chat
	Gemini  adapter.Gemini
	Users   model.UserMap
	TeamID  string
	Repo    repository.Repository
	Storage adapter.Storage  // Optional: archive of exchanges
	Metrics *metrics.Metrics // Optional

	LockTTL          time.Duration
	Now              func() time.Time
	AssemblerOptions []conversation.AssemblerOption
}

func New(input NewInput) (*Coordinator, error) {
	if input.Bot == nil {
		return nil, goerr.New("bot is required")
	}
	if input.Chat == nil || input.Gemini == nil {
		return nil, goerr.New("chat and gemini are required", goerr.V("bot", input.Bot.Name))
	}

	c := &Coordinator{
		bot:       input.Bot,
		chat:      input.Chat,
		gemini:    input.Gemini,
		repo:      input.Repo,
		storage:   input.Storage,
		metrics:   input.Metrics,
		assembler: conversation.NewAssembler(input.Chat, input.Users, input.TeamID, input.AssemblerOptions...),
		owner:     uuid.NewString(),
		lockTTL:   input.LockTTL,
		now:       input.Now,
	}
	if c.repo == nil {
		c.repo = repository.NewMemory()
	}
	if c.lockTTL == 0 {
		c.lockTTL = defaultLockTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	if input.Bot.HasMemory() {
		c.memory = conversation.NewMemoryStore(input.Chat, input.TeamID, input.Bot)
	}
	return c, nil
}

func (c *Coordinator) Bot() *model.Bot {
	return c.bot
}

// Process answers one triggering post and returns the last state reached.
// A thread leased by another worker is skipped without side effects.
func (c *Coordinator) Process(ctx context.Context, post *model.Post, pinned []*model.Post) (State, error) {
	root := post.ThreadRoot()
	logger := logging.From(ctx).With("bot", c.bot.Name, "post_id", post.ID, "root_id", root)
	ctx = logging.With(ctx, logger)

	if err := c.repo.AcquireThreadLock(ctx, root, c.owner, c.lockTTL); err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			logger.Info("thread is being processed by another worker")
			return StateSkipped, nil
		}
		return StateDetected, goerr.Wrap(err, "failed to lock thread")
	}
	defer func() {
		if err := c.repo.ReleaseThreadLock(context.WithoutCancel(ctx), root, c.owner); err != nil {
			logger.Warn("failed to release thread lock", "error", err)
		}
	}()

	if err := c.chat.AddReaction(ctx, c.bot.UserID, post.ID, EmojiEyes); err != nil {
		return StateDetected, goerr.Wrap(err, "failed to mark post")
	}
	logger.Debug("post marked")

	messages, err := c.assembler.Assemble(ctx, conversation.AssembleInput{
		Bot:    c.bot,
		Post:   post,
		Pinned: pinned,
	})
	if err != nil {
		return StateMarked, goerr.Wrap(err, "failed to assemble context")
	}

	answer, err := conversation.Complete(ctx, c.gemini, c.bot.Model, messages)
	if err != nil {
		return StateMarked, goerr.Wrap(err, "failed to generate answer")
	}

	replied, err := c.chat.CreatePost(ctx, post.ChannelID, answer, root)
	if err != nil {
		return StateMarked, goerr.Wrap(err, "failed to post answer")
	}
	logger.Info("answered", "channel_id", post.ChannelID, "reply_id", replied.ID)

	if err := c.chat.AddReaction(ctx, c.bot.UserID, post.ID, c.bot.Reaction); err != nil {
		return StateAnswered, goerr.Wrap(err, "failed to add answered reaction")
	}
	if err := c.chat.RemoveReaction(ctx, c.bot.UserID, post.ID, EmojiEyes); err != nil {
		return StateAnswered, goerr.Wrap(err, "failed to unmark post")
	}
	logger.Debug("post finalized")

	state := StateFinalized
	var summary string
	if c.memory != nil {
		summary, err = conversation.Summarize(ctx, c.gemini, c.bot, messages, answer)
		if err != nil {
			return state, goerr.Wrap(err, "failed to summarize thread")
		}

		op, memPost, err := c.memory.Save(ctx, &model.MemoryRecord{RootID: root, Text: summary})
		if err != nil {
			return state, goerr.Wrap(err, "failed to save memory")
		}
		c.metrics.MemoryWrite(c.bot.Name, string(op))
		logger.Debug("memory persisted", "op", op, "memory_post_id", memPost.ID)
		state = StateMemoryPersisted
	}

	c.record(ctx, post, replied, messages, answer, summary)
	return state, nil
}

// record keeps a reply log and an archive of the exchange. The post is
// already answered at this point, so failures are only logged.
func (c *Coordinator) record(ctx context.Context, post, replied *model.Post, messages []model.Message, answer, summary string) {
	logger := logging.From(ctx)
	now := c.now()

	log := &model.ReplyLog{
		ID:        model.NewReplyLogID(),
		Bot:       c.bot.Name,
		ChannelID: post.ChannelID,
		PostID:    post.ID,
		RootID:    post.ThreadRoot(),
		ReplyID:   replied.ID,
		Answer:    answer,
		Memory:    summary != "",
		CreatedAt: now,
	}
	if err := c.repo.PutReplyLog(ctx, log); err != nil {
		logger.Warn("failed to put reply log", "error", err)
	}

	if c.storage == nil {
		return
	}
	exchange := &model.Exchange{
		Bot:       c.bot.Name,
		ChannelID: post.ChannelID,
		PostID:    post.ID,
		RootID:    post.ThreadRoot(),
		Messages:  messages,
		Answer:    answer,
		Memory:    summary,
		CreatedAt: now,
	}
	if err := archiveExchange(ctx, c.storage, string(log.ID), exchange); err != nil {
		logger.Warn("failed to archive exchange", "error", err)
	}
}

func archiveExchange(ctx context.Context, storage adapter.Storage, id string, exchange *model.Exchange) error {
	key := "exchanges/" + string(exchange.RootID) + "/" + id + ".json"
	writer, err := storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer", goerr.V("key", key))
	}

	if err := json.NewEncoder(writer).Encode(exchange); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write exchange", goerr.V("key", key))
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer", goerr.V("key", key))
	}
	return nil
}
