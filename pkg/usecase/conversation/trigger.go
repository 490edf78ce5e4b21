package conversation

import (
	"strings"

	"github.com/m-mizutani/mmpersona/pkg/model"
)

// NeedsReply reports whether the post addresses the bot and has not been
// answered yet. A post is answered once it carries the bot's reaction.
func NeedsReply(post *model.Post, bot *model.Bot) bool {
	if post == nil || bot == nil {
		return false
	}
	return strings.Contains(post.Message, bot.Mention()) && !post.HasReaction(bot.Reaction)
}

// FilterNeedsReply returns posts of the page in its order that need a reply
func FilterNeedsReply(list *model.PostList, bot *model.Bot) []*model.Post {
	var posts []*model.Post
	for _, post := range list.Ordered() {
		if NeedsReply(post, bot) {
			posts = append(posts, post)
		}
	}
	return posts
}
