package reply_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mmpersona/pkg/adapter/fake"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"github.com/m-mizutani/mmpersona/pkg/repository"
	"github.com/m-mizutani/mmpersona/pkg/usecase/reply"
)

const (
	origin        = "http://mm.example.com"
	channel       = model.ChannelID("town-square")
	memoryChannel = model.ChannelID("bot-memory")
)

var users = model.NewUserMap(map[string]model.UserID{
	"alice": "u-alice",
	"Bot":   "u-bot",
})

func newBot() *model.Bot {
	return &model.Bot{
		Name:              "Bot",
		Reaction:          "white_check_mark",
		UserID:            "u-bot",
		Token:             "token",
		Model:             "gemini-test",
		ReadPin:           true,
		MemoryChannelID:   memoryChannel,
		MemoryChannelName: "bot-memory",
		SystemMessage:     "You are Bot. Now: {{.CurrentTime}}. Card: {{.Tarots}}",
	}
}

func newChat() *fake.Chat {
	chat := fake.NewChat(origin)
	chat.AddChannel("town-square", channel, "u-bot", "u-alice")
	chat.AddChannel("bot-memory", memoryChannel, "u-bot")
	return chat
}

// newGemini answers chat requests with answer and summary requests with summary
func newGemini(answer, summary *string) *fake.Gemini {
	return &fake.Gemini{Respond: func(req fake.Request) (string, error) {
		if fake.TextOf(req.Config.SystemInstruction) == "You are Bot." {
			return *summary, nil
		}
		return *answer, nil
	}}
}

type mockStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

type bufferCloser struct {
	bytes.Buffer
	onClose func([]byte)
}

func (b *bufferCloser) Close() error {
	b.onClose(b.Bytes())
	return nil
}

func (m *mockStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &bufferCloser{onClose: func(data []byte) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.data[key] = append([]byte(nil), data...)
	}}, nil
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func reactionsOf(t *testing.T, chat *fake.Chat, id model.PostID) []string {
	t.Helper()
	post, ok := chat.Post(id)
	gt.True(t, ok)
	var names []string
	for _, r := range post.Metadata.Reactions {
		names = append(names, r.EmojiName)
	}
	return names
}

func TestProcessScenario(t *testing.T) {
	ctx := context.Background()
	chat := newChat()
	answer, summary := "hello alice", "alice greeted Bot"
	gemini := newGemini(&answer, &summary)
	repo := repository.NewMemory()

	coordinator, err := reply.New(reply.NewInput{
		Bot:    newBot(),
		Chat:   chat,
		Gemini: gemini,
		Users:  users,
		TeamID: "team",
		Repo:   repo,
	})
	gt.NoError(t, err)

	root := chat.Put(&model.Post{ID: "R", ChannelID: channel, UserID: "u-alice", Message: "@Bot hi"})

	state, err := coordinator.Process(ctx, root, nil)
	gt.NoError(t, err)
	gt.Equal(t, state, reply.StateMemoryPersisted)

	// eyes added then removed, answered reaction added
	gt.Equal(t, reactionsOf(t, chat, "R"), []string{"white_check_mark"})
	var reactionCalls []string
	for _, call := range chat.Calls {
		if strings.HasSuffix(call, "_reaction:eyes") || strings.HasSuffix(call, "_reaction:white_check_mark") {
			reactionCalls = append(reactionCalls, call)
		}
	}
	gt.Equal(t, reactionCalls, []string{
		"add_reaction:eyes",
		"add_reaction:white_check_mark",
		"remove_reaction:eyes",
	})

	// reply is posted in the thread
	var replies []*model.Post
	for _, p := range chat.ChannelPosts(channel) {
		if p.RootID == "R" {
			replies = append(replies, p)
		}
	}
	gt.A(t, replies).Length(1)
	gt.Equal(t, replies[0].Message, "hello alice")

	memories := chat.ChannelPosts(memoryChannel)
	gt.A(t, memories).Length(1)
	gt.Equal(t, memories[0].Message, "R\nalice greeted Bot")

	logs, err := repo.ListReplyLogs(ctx, "R")
	gt.NoError(t, err)
	gt.A(t, logs).Length(1)
	gt.Equal(t, logs[0].ReplyID, replies[0].ID)
	gt.True(t, logs[0].Memory)

	// the same cycle again with a new summary patches the same record
	summary = "alice greeted Bot twice"
	state, err = coordinator.Process(ctx, root, nil)
	gt.NoError(t, err)
	gt.Equal(t, state, reply.StateMemoryPersisted)

	after := chat.ChannelPosts(memoryChannel)
	gt.A(t, after).Length(1)
	gt.Equal(t, after[0].ID, memories[0].ID)
	gt.Equal(t, after[0].Message, "R\nalice greeted Bot twice")
}

func TestProcessWithoutMemoryChannel(t *testing.T) {
	ctx := context.Background()
	chat := newChat()
	answer, summary := "hi", "unused"
	gemini := newGemini(&answer, &summary)

	bot := newBot()
	bot.MemoryChannelID = ""

	coordinator, err := reply.New(reply.NewInput{Bot: bot, Chat: chat, Gemini: gemini, Users: users, TeamID: "team"})
	gt.NoError(t, err)

	post := chat.Put(&model.Post{ID: "p1", ChannelID: channel, UserID: "u-alice", Message: "@Bot hi"})
	state, err := coordinator.Process(ctx, post, nil)
	gt.NoError(t, err)
	gt.Equal(t, state, reply.StateFinalized)

	gt.A(t, gemini.Requests).Length(1)
	gt.Equal(t, chat.Count("search_posts"), 0)
	gt.A(t, chat.ChannelPosts(memoryChannel)).Length(0)
}

func TestProcessRepliesToThreadRoot(t *testing.T) {
	ctx := context.Background()
	chat := newChat()
	answer, summary := "sure", "s"
	coordinator, err := reply.New(reply.NewInput{Bot: newBot(), Chat: chat, Gemini: newGemini(&answer, &summary), Users: users, TeamID: "team"})
	gt.NoError(t, err)

	chat.Put(&model.Post{ID: "root", ChannelID: channel, UserID: "u-alice", Message: "topic"})
	member := chat.Put(&model.Post{ID: "member", RootID: "root", ChannelID: channel, UserID: "u-alice", Message: "@Bot what do you think?"})

	_, err = coordinator.Process(ctx, member, nil)
	gt.NoError(t, err)

	var answered *model.Post
	for _, p := range chat.ChannelPosts(channel) {
		if p.Message == "sure" {
			answered = p
		}
	}
	gt.V(t, answered).NotNil()
	gt.Equal(t, answered.RootID, model.PostID("root"))

	memories := chat.ChannelPosts(memoryChannel)
	gt.A(t, memories).Length(1)
	gt.True(t, strings.HasPrefix(memories[0].Message, "root\n"))
}

func TestProcessFailureLeavesMarker(t *testing.T) {
	ctx := context.Background()
	chat := newChat()
	gemini := &fake.Gemini{Respond: func(fake.Request) (string, error) {
		return "", errors.New("service unavailable")
	}}

	coordinator, err := reply.New(reply.NewInput{Bot: newBot(), Chat: chat, Gemini: gemini, Users: users, TeamID: "team"})
	gt.NoError(t, err)

	post := chat.Put(&model.Post{ID: "p1", ChannelID: channel, UserID: "u-alice", Message: "@Bot hi"})
	state, err := coordinator.Process(ctx, post, nil)
	gt.Error(t, err)
	gt.Equal(t, state, reply.StateMarked)

	gt.Equal(t, reactionsOf(t, chat, "p1"), []string{"eyes"})
	gt.Equal(t, chat.Count("create_post"), 0)
	gt.A(t, chat.ChannelPosts(memoryChannel)).Length(0)
}

func TestProcessEmptyCompletionIsFatal(t *testing.T) {
	ctx := context.Background()
	chat := newChat()
	coordinator, err := reply.New(reply.NewInput{Bot: newBot(), Chat: chat, Gemini: &fake.Gemini{Reply: ""}, Users: users, TeamID: "team"})
	gt.NoError(t, err)

	post := chat.Put(&model.Post{ID: "p1", ChannelID: channel, UserID: "u-alice", Message: "@Bot hi"})
	state, err := coordinator.Process(ctx, post, nil)
	gt.Error(t, err)
	gt.Equal(t, state, reply.StateMarked)
}

func TestProcessFinalizeFailure(t *testing.T) {
	ctx := context.Background()
	chat := newChat()
	answer, summary := "a", "s"
	coordinator, err := reply.New(reply.NewInput{Bot: newBot(), Chat: chat, Gemini: newGemini(&answer, &summary), Users: users, TeamID: "team"})
	gt.NoError(t, err)

	post := chat.Put(&model.Post{ID: "p1", ChannelID: channel, UserID: "u-alice", Message: "@Bot hi"})
	chat.FailOn("remove_reaction", errors.New("boom"))

	state, err := coordinator.Process(ctx, post, nil)
	gt.Error(t, err)
	gt.Equal(t, state, reply.StateAnswered)
	gt.A(t, chat.ChannelPosts(memoryChannel)).Length(0)
}

func TestProcessSkipsLockedThread(t *testing.T) {
	ctx := context.Background()
	chat := newChat()
	repo := repository.NewMemory()
	answer, summary := "a", "s"
	coordinator, err := reply.New(reply.NewInput{Bot: newBot(), Chat: chat, Gemini: newGemini(&answer, &summary), Users: users, TeamID: "team", Repo: repo})
	gt.NoError(t, err)

	post := chat.Put(&model.Post{ID: "p1", ChannelID: channel, UserID: "u-alice", Message: "@Bot hi"})
	gt.NoError(t, repo.AcquireThreadLock(ctx, "p1", "someone-else", time.Hour))

	state, err := coordinator.Process(ctx, post, nil)
	gt.NoError(t, err)
	gt.Equal(t, state, reply.StateSkipped)
	gt.A(t, reactionsOf(t, chat, "p1")).Length(0)
}

func TestProcessArchivesExchange(t *testing.T) {
	ctx := context.Background()
	chat := newChat()
	storage := &mockStorage{data: map[string][]byte{}}
	answer, summary := "archived answer", "archived summary"
	coordinator, err := reply.New(reply.NewInput{
		Bot: newBot(), Chat: chat, Gemini: newGemini(&answer, &summary),
		Users: users, TeamID: "team", Storage: storage,
	})
	gt.NoError(t, err)

	post := chat.Put(&model.Post{ID: "p1", ChannelID: channel, UserID: "u-alice", Message: "@Bot hi"})
	_, err = coordinator.Process(ctx, post, []*model.Post{{ID: "pin", UserID: "u-alice", Message: "rules"}})
	gt.NoError(t, err)

	gt.Equal(t, len(storage.data), 1)
	for key, data := range storage.data {
		gt.True(t, strings.HasPrefix(key, "exchanges/p1/"))
		gt.True(t, strings.HasSuffix(key, ".json"))

		var exchange model.Exchange
		gt.NoError(t, json.Unmarshal(data, &exchange))
		gt.Equal(t, exchange.Answer, "archived answer")
		gt.Equal(t, exchange.Memory, "archived summary")
		gt.A(t, exchange.Messages).Length(2)
		gt.S(t, exchange.Messages[1].Content).Contains("Pinned messages:")
	}
}
