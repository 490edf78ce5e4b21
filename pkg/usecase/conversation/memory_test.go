package conversation_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mmpersona/pkg/adapter/fake"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"github.com/m-mizutani/mmpersona/pkg/usecase/conversation"
)

const memoryChannel = model.ChannelID("memory-ch")

func newMemoryBot() *model.Bot {
	return &model.Bot{
		Name:              "Bot",
		MemoryChannelID:   memoryChannel,
		MemoryChannelName: "bot-memory",
	}
}

func newMemoryChat() *fake.Chat {
	chat := fake.NewChat(origin)
	chat.AddChannel("bot-memory", memoryChannel)
	chat.AddChannel("town-square", "ch")
	return chat
}

func TestMemorySaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	chat := newMemoryChat()
	store := conversation.NewMemoryStore(chat, "team", newMemoryBot())

	op, first, err := store.Save(ctx, &model.MemoryRecord{RootID: "root1", Text: "alice said hi"})
	gt.NoError(t, err)
	gt.Equal(t, op, conversation.MemoryCreated)

	op, second, err := store.Save(ctx, &model.MemoryRecord{RootID: "root1", Text: "alice said hi"})
	gt.NoError(t, err)
	gt.Equal(t, op, conversation.MemoryPatched)
	gt.Equal(t, second.ID, first.ID)

	posts := chat.ChannelPosts(memoryChannel)
	gt.A(t, posts).Length(1)
	gt.Equal(t, posts[0].Message, "root1\nalice said hi")

	op, _, err = store.Save(ctx, &model.MemoryRecord{RootID: "root1", Text: "alice said hi twice"})
	gt.NoError(t, err)
	gt.Equal(t, op, conversation.MemoryPatched)

	posts = chat.ChannelPosts(memoryChannel)
	gt.A(t, posts).Length(1)
	gt.Equal(t, posts[0].Message, "root1\nalice said hi twice")
	gt.Equal(t, chat.Count("create_post"), 1)
	gt.Equal(t, chat.Count("patch_post"), 2)
}

func TestMemorySaveIgnoresFalsePositiveHits(t *testing.T) {
	ctx := context.Background()
	chat := newMemoryChat()
	store := conversation.NewMemoryStore(chat, "team", newMemoryBot())

	// mentions the root ID but is not its record
	chat.Put(&model.Post{ID: "noise", ChannelID: memoryChannel, Message: "other\nsee root1 for details"})
	// a match in a different channel is not a memory record at all
	chat.Put(&model.Post{ID: "elsewhere", ChannelID: "ch", Message: "root1\nnot memory"})

	op, post, err := store.Save(ctx, &model.MemoryRecord{RootID: "root1", Text: "summary"})
	gt.NoError(t, err)
	gt.Equal(t, op, conversation.MemoryCreated)
	gt.Equal(t, post.ChannelID, memoryChannel)

	noise, _ := chat.Post("noise")
	gt.Equal(t, noise.Message, "other\nsee root1 for details")
	elsewhere, _ := chat.Post("elsewhere")
	gt.Equal(t, elsewhere.Message, "root1\nnot memory")
}

func TestMemorySavePatchesLatestRecord(t *testing.T) {
	ctx := context.Background()
	chat := newMemoryChat()
	store := conversation.NewMemoryStore(chat, "team", newMemoryBot())

	chat.Put(&model.Post{ID: "old", ChannelID: memoryChannel, CreateAt: 10, Message: "root1\nold"})
	chat.Put(&model.Post{ID: "new", ChannelID: memoryChannel, CreateAt: 20, Message: "root1\nnewer"})

	op, post, err := store.Save(ctx, &model.MemoryRecord{RootID: "root1", Text: "latest"})
	gt.NoError(t, err)
	gt.Equal(t, op, conversation.MemoryPatched)
	gt.Equal(t, post.ID, model.PostID("new"))

	old, _ := chat.Post("old")
	gt.Equal(t, old.Message, "root1\nold")
}

func TestMemoryRead(t *testing.T) {
	ctx := context.Background()
	chat := newMemoryChat()
	store := conversation.NewMemoryStore(chat, "team", newMemoryBot())

	chat.Put(&model.Post{ID: "m2", ChannelID: memoryChannel, CreateAt: 2000, Message: "root2\nsecond summary\nline two"})
	chat.Put(&model.Post{ID: "m1", ChannelID: memoryChannel, CreateAt: 1000, Message: "root1\nfirst summary"})
	chat.Put(&model.Post{ID: "m3", ChannelID: memoryChannel, CreateAt: 3000, Message: "root3\nthird summary"})

	t.Run("excludes the current thread", func(t *testing.T) {
		blocks, err := store.Read(ctx, "root2")
		gt.NoError(t, err)
		gt.A(t, blocks).Length(2)
		gt.Equal(t, blocks[0], "1970-01-01T09:00:01+09:00 memory of conversation\nfirst summary")
		gt.Equal(t, blocks[1], "1970-01-01T09:00:03+09:00 memory of conversation\nthird summary")
	})

	t.Run("reads every record when nothing is excluded", func(t *testing.T) {
		blocks, err := store.Read(ctx, "")
		gt.NoError(t, err)
		gt.A(t, blocks).Length(3)
		gt.Equal(t, blocks[1], "1970-01-01T09:00:02+09:00 memory of conversation\nsecond summary\nline two")
	})

	t.Run("stops on an empty page", func(t *testing.T) {
		before := chat.Count("get_posts_since")
		_, err := store.Read(ctx, "root1")
		gt.NoError(t, err)
		gt.Equal(t, chat.Count("get_posts_since")-before, 2)
	})
}

func TestMemoryReadEmptyChannel(t *testing.T) {
	chat := newMemoryChat()
	store := conversation.NewMemoryStore(chat, "team", newMemoryBot())

	blocks, err := store.Read(context.Background(), "root1")
	gt.NoError(t, err)
	gt.A(t, blocks).Length(0)
}
