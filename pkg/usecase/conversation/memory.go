package conversation

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/adapter"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"github.com/m-mizutani/mmpersona/pkg/utils/logging"
)

// MemoryWrite tells how a memory record was persisted
type MemoryWrite string

const (
	MemoryCreated MemoryWrite = "create"
	MemoryPatched MemoryWrite = "patch"
)

// MemoryStore reads and writes memory records in a dedicated channel. The
// channel is used as a log keyed by the first line of each post.
//
// Save is a search followed by a create or a patch. Two writers racing between
// those steps can leave two posts for the same thread; callers serialize work
// per thread to avoid it.
type MemoryStore struct {
	chat        adapter.Chat
	teamID      string
	channelID   model.ChannelID
	channelName string
}

func NewMemoryStore(chat adapter.Chat, teamID string, bot *model.Bot) *MemoryStore {
	return &MemoryStore{
		chat:        chat,
		teamID:      teamID,
		channelID:   bot.MemoryChannelID,
		channelName: bot.MemoryChannelName,
	}
}

// Read returns a block for every memory record in the channel except the one
// of the excluded thread, oldest first within each page.
func (s *MemoryStore) Read(ctx context.Context, exclude model.PostID) ([]string, error) {
	var blocks []string

	since := int64(1)
	for {
		list, err := s.chat.GetPostsSince(ctx, s.channelID, since)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read memory channel", goerr.V("since", since))
		}

		posts := list.SortedByCreateAt()
		if len(posts) == 0 {
			break
		}

		next := since
		for _, post := range posts {
			if post.UpdateAt >= next {
				next = post.UpdateAt + 1
			}
			if exclude != "" && model.IsMemoryOf(post.Message, exclude) {
				continue
			}
			blocks = append(blocks, formatTime(post.CreatedAt(JST))+" memory of conversation\n"+model.MemoryText(post.Message))
		}

		if next <= since {
			next = since + 1
		}
		since = next
	}

	return blocks, nil
}

// Save upserts the memory record of a thread. The most recently created post
// that starts with the root ID is patched; otherwise a new post is created.
func (s *MemoryStore) Save(ctx context.Context, record *model.MemoryRecord) (MemoryWrite, *model.Post, error) {
	if record.RootID == "" {
		return "", nil, goerr.New("memory record has no root ID")
	}

	terms := string(record.RootID)
	if s.channelName != "" {
		terms += " in:" + s.channelName
	}

	list, err := s.chat.SearchPosts(ctx, s.teamID, terms)
	if err != nil {
		return "", nil, goerr.Wrap(err, "failed to search memory", goerr.V("root_id", record.RootID))
	}

	var matches []*model.Post
	for _, p := range list.SortedByCreateAt() {
		if p.ChannelID == s.channelID {
			matches = append(matches, p)
		}
	}

	logger := logging.From(ctx).With("root_id", record.RootID, "channel_id", s.channelID)

	if len(matches) == 0 || !model.IsMemoryOf(matches[len(matches)-1].Message, record.RootID) {
		post, err := s.chat.CreatePost(ctx, s.channelID, record.Body(), "")
		if err != nil {
			return "", nil, goerr.Wrap(err, "failed to create memory", goerr.V("root_id", record.RootID))
		}
		logger.Debug("memory created", "post_id", post.ID)
		return MemoryCreated, post, nil
	}

	target := matches[len(matches)-1]
	post, err := s.chat.PatchPost(ctx, target.ID, record.Body())
	if err != nil {
		return "", nil, goerr.Wrap(err, "failed to patch memory",
			goerr.V("root_id", record.RootID),
			goerr.V("post_id", target.ID))
	}
	logger.Debug("memory patched", "post_id", target.ID)
	return MemoryPatched, post, nil
}
