package conversation_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"github.com/m-mizutani/mmpersona/pkg/usecase/conversation"
)

func TestNeedsReply(t *testing.T) {
	bot := &model.Bot{Name: "Bot", Reaction: "white_check_mark"}

	tests := []struct {
		name      string
		message   string
		reactions []string
		expected  bool
	}{
		{name: "mentioned without reaction", message: "@Bot hi", expected: true},
		{name: "mentioned in the middle", message: "hey @Bot, what's up", expected: true},
		{name: "mentioned with other reaction", message: "@Bot hi", reactions: []string{"eyes"}, expected: true},
		{name: "mentioned and answered", message: "@Bot hi", reactions: []string{"eyes", "white_check_mark"}, expected: false},
		{name: "not mentioned", message: "hello everyone", expected: false},
		{name: "not mentioned with reaction", message: "hello", reactions: []string{"white_check_mark"}, expected: false},
		{name: "mention is case sensitive", message: "@bot hi", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := &model.Post{ID: "p1", Message: tt.message}
			for _, r := range tt.reactions {
				post.Metadata.Reactions = append(post.Metadata.Reactions, &model.Reaction{EmojiName: r})
			}
			gt.Equal(t, conversation.NeedsReply(post, bot), tt.expected)
		})
	}
}

func TestFilterNeedsReply(t *testing.T) {
	bot := &model.Bot{Name: "Bot", Reaction: "done"}
	list := &model.PostList{
		Order: []model.PostID{"p3", "p2", "p1"},
		Posts: map[model.PostID]*model.Post{
			"p1": {ID: "p1", Message: "@Bot first"},
			"p2": {ID: "p2", Message: "unrelated"},
			"p3": {ID: "p3", Message: "@Bot third"},
		},
	}

	posts := conversation.FilterNeedsReply(list, bot)
	gt.A(t, posts).Length(2)
	gt.Equal(t, posts[0].ID, model.PostID("p3"))
	gt.Equal(t, posts[1].ID, model.PostID("p1"))
}
