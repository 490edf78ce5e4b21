package conversation_test

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mmpersona/pkg/adapter/fake"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"github.com/m-mizutani/mmpersona/pkg/usecase/conversation"
)

var fixedNow = time.Date(2025, 4, 1, 3, 4, 5, 0, time.UTC)

func TestRenderPersona(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	persona, err := conversation.RenderPersona("now={{.CurrentTime}} card={{.Tarots}}", fixedNow, rng)
	gt.NoError(t, err)
	gt.S(t, persona).Contains("now=2025-04-01T12:04:05+09:00 card=")

	card := strings.TrimPrefix(persona, "now=2025-04-01T12:04:05+09:00 card=")
	gt.True(t, strings.HasSuffix(card, " (upright)") || strings.HasSuffix(card, " (reversed)"))
	gt.False(t, strings.Contains(card, ","))

	_, err = conversation.RenderPersona("{{.Broken", fixedNow, rng)
	gt.Error(t, err)
}

func newAssembleFixture(t *testing.T) (*fake.Chat, *model.Bot, *model.Post) {
	t.Helper()
	chat := newMemoryChat()

	chat.Put(&model.Post{ID: "m-other", ChannelID: memoryChannel, CreateAt: 500, Message: "old-root\nwe talked about cats"})
	chat.Put(&model.Post{ID: "m-self", ChannelID: memoryChannel, CreateAt: 600, Message: "root\nthis very thread"})

	root := chat.Put(&model.Post{ID: "root", ChannelID: "ch", UserID: "u-alice", CreateAt: 1000, Message: "@Bot\nwhat about dogs?"})

	bot := &model.Bot{
		Name:              "Bot",
		Reaction:          "done",
		UserID:            "u-bot",
		Model:             "gemini-test",
		ReadPin:           true,
		MemoryChannelID:   memoryChannel,
		MemoryChannelName: "bot-memory",
		SystemMessage:     "You are Bot. It is {{.CurrentTime}}. Today's card: {{.Tarots}}.",
	}
	return chat, bot, root
}

func TestAssemble(t *testing.T) {
	chat, bot, root := newAssembleFixture(t)
	assembler := conversation.NewAssembler(chat, testUsers, "team",
		conversation.WithNow(func() time.Time { return fixedNow }),
		conversation.WithRand(rand.New(rand.NewPCG(3, 4))),
	)

	pinned := []*model.Post{{ID: "pin", UserID: "u-alice", Message: "be kind"}}
	messages, err := assembler.Assemble(context.Background(), conversation.AssembleInput{
		Bot:    bot,
		Post:   root,
		Pinned: pinned,
	})
	gt.NoError(t, err)
	gt.A(t, messages).Length(2)

	gt.Equal(t, messages[0].Role, model.RoleSystem)
	gt.S(t, messages[0].Content).Contains("It is 2025-04-01T12:04:05+09:00.")
	gt.S(t, messages[0].Content).Contains("Continue the chat log below")

	gt.Equal(t, messages[1].Role, model.RoleUser)
	user := messages[1].Content
	gt.True(t, strings.HasPrefix(user, "Pinned messages:\nSpeaker: alice\nbe kind\n"))

	memoryAt := strings.Index(user, "Memories of past conversations:")
	threadAt := strings.Index(user, "Speaker: alice\nwhat about dogs?")
	gt.True(t, memoryAt > 0)
	gt.True(t, threadAt > memoryAt)

	gt.S(t, user).Contains("we talked about cats")
	gt.S(t, user).NotContains("this very thread")
}

func TestAssembleWithoutPinsAndMemory(t *testing.T) {
	chat, bot, root := newAssembleFixture(t)
	bot.ReadPin = false
	bot.MemoryChannelID = ""

	assembler := conversation.NewAssembler(chat, testUsers, "team",
		conversation.WithNow(func() time.Time { return fixedNow }))

	messages, err := assembler.Assemble(context.Background(), conversation.AssembleInput{
		Bot:    bot,
		Post:   root,
		Pinned: []*model.Post{{ID: "pin", UserID: "u-alice", Message: "be kind"}},
	})
	gt.NoError(t, err)

	user := messages[1].Content
	gt.True(t, strings.HasPrefix(user, "Time: "))
	gt.S(t, user).NotContains("Pinned messages")
	gt.S(t, user).NotContains("Memories of past conversations")
	gt.Equal(t, chat.Count("get_posts_since"), 0)
}

func TestAssembleOmitsEmptyBlocks(t *testing.T) {
	chat := newMemoryChat()
	root := chat.Put(&model.Post{ID: "root", ChannelID: "ch", UserID: "u-alice", CreateAt: 1000, Message: "@Bot hi"})
	bot := &model.Bot{
		Name:            "Bot",
		ReadPin:         true,
		MemoryChannelID: memoryChannel,
		SystemMessage:   "persona",
	}

	assembler := conversation.NewAssembler(chat, testUsers, "team")
	messages, err := assembler.Assemble(context.Background(), conversation.AssembleInput{Bot: bot, Post: root})
	gt.NoError(t, err)

	gt.Equal(t, messages[1].Content, "Time: 1970-01-01T09:00:01+09:00\nSpeaker: alice\n@Bot hi")
}
