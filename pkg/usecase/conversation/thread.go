package conversation

import (
	"context"
	"errors"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/adapter"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"github.com/m-mizutani/mmpersona/pkg/utils/logging"
)

var mentionLine = regexp.MustCompile(`^@[A-Za-z0-9._-]+$`)

// CollectThread fetches the thread containing postID and renders one block
// per post in creation order. Links to posts of the same platform are
// expanded one level deep.
func CollectThread(ctx context.Context, chat adapter.Chat, postID model.PostID, users model.UserMap) ([]string, error) {
	list, err := chat.GetThread(ctx, postID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get thread", goerr.V("post_id", postID))
	}

	posts := list.SortedByCreateAt()
	blocks := make([]string, 0, len(posts))
	for _, post := range posts {
		message := stripMentionLine(post.Message)

		expansions, err := expandLinks(ctx, chat, post, users)
		if err != nil {
			return nil, err
		}
		for _, e := range expansions {
			message += "\n" + e
		}

		speaker := users.NameOr(post.UserID, string(post.UserID))
		blocks = append(blocks, "Time: "+formatTime(post.CreatedAt(JST))+"\nSpeaker: "+speaker+"\n"+message)
	}

	return blocks, nil
}

// stripMentionLine drops the first line when it only addresses someone
func stripMentionLine(message string) string {
	first, rest, found := strings.Cut(message, "\n")
	if !mentionLine.MatchString(strings.TrimSpace(first)) {
		return message
	}
	if !found {
		return ""
	}
	return rest
}

// expandLinks resolves link embeds pointing to the platform itself. Targets
// that cannot be fetched are skipped. Expanded posts are not expanded again.
func expandLinks(ctx context.Context, chat adapter.Chat, post *model.Post, users model.UserMap) ([]string, error) {
	var expansions []string
	for _, embed := range post.Metadata.Embeds {
		targetID, ok := linkedPostID(chat.Origin(), embed)
		if !ok {
			continue
		}

		target, err := chat.GetPost(ctx, targetID)
		if err != nil {
			if errors.Is(err, adapter.ErrNotFound) {
				logging.From(ctx).Debug("skip unresolved link", "url", embed.URL, "error", err)
				continue
			}
			return nil, goerr.Wrap(err, "failed to expand link", goerr.V("url", embed.URL))
		}

		speaker := users.NameOr(target.UserID, string(target.UserID))
		expansions = append(expansions, "#### "+embed.URL+" message:\nSpeaker: "+speaker+"\n"+target.Message)
	}
	return expansions, nil
}

func linkedPostID(origin string, embed *model.Embed) (model.PostID, bool) {
	if embed == nil || embed.Type != model.EmbedTypeLink {
		return "", false
	}
	if origin == "" || !strings.HasPrefix(embed.URL, strings.TrimRight(origin, "/")+"/") {
		return "", false
	}

	u, err := url.Parse(embed.URL)
	if err != nil {
		return "", false
	}
	id := path.Base(u.Path)
	if id == "" || id == "." || id == "/" {
		return "", false
	}
	return model.PostID(id), true
}
