package model_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mmpersona/pkg/model"
)

func ids(posts []*model.Post) []model.PostID {
	out := make([]model.PostID, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func TestPostThreadRoot(t *testing.T) {
	root := &model.Post{ID: "root"}
	reply := &model.Post{ID: "child", RootID: "root"}

	gt.Equal(t, root.ThreadRoot(), model.PostID("root"))
	gt.Equal(t, reply.ThreadRoot(), model.PostID("root"))
}

func TestPostHasReaction(t *testing.T) {
	post := &model.Post{Metadata: model.Metadata{Reactions: []*model.Reaction{
		nil,
		{UserID: "u1", EmojiName: "eyes"},
	}}}

	gt.True(t, post.HasReaction("eyes"))
	gt.False(t, post.HasReaction("white_check_mark"))
	gt.False(t, (&model.Post{}).HasReaction("eyes"))
}

func TestPostCreatedAt(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	post := &model.Post{CreateAt: 1_743_476_645_000}

	got := post.CreatedAt(jst)
	gt.Equal(t, got.Format(time.RFC3339), "2025-04-01T12:04:05+09:00")
}

func TestPostListOrdered(t *testing.T) {
	list := &model.PostList{
		Order: []model.PostID{"c", "missing", "a"},
		Posts: map[model.PostID]*model.Post{
			"a": {ID: "a", CreateAt: 1},
			"b": {ID: "b", CreateAt: 2},
			"c": {ID: "c", CreateAt: 3},
		},
	}
	gt.Equal(t, ids(list.Ordered()), []model.PostID{"c", "a"})

	var empty *model.PostList
	gt.A(t, empty.Ordered()).Length(0)
}

func TestPostListSortedByCreateAt(t *testing.T) {
	list := &model.PostList{
		Order: []model.PostID{"d", "c", "b"},
		Posts: map[model.PostID]*model.Post{
			"a": {ID: "a", CreateAt: 10},
			"b": {ID: "b", CreateAt: 10},
			"c": {ID: "c", CreateAt: 5},
			"d": {ID: "d", CreateAt: 20},
			"e": {ID: "e", CreateAt: 10},
		},
	}

	// ties follow Order first, then ID for unlisted posts
	gt.Equal(t, ids(list.SortedByCreateAt()), []model.PostID{"c", "b", "a", "e", "d"})
}

func TestPostListList(t *testing.T) {
	posts := map[model.PostID]*model.Post{
		"a": {ID: "a", CreateAt: 2},
		"b": {ID: "b", CreateAt: 1},
	}

	t.Run("order given", func(t *testing.T) {
		list := &model.PostList{Order: []model.PostID{"a", "b"}, Posts: posts}
		gt.Equal(t, ids(list.List()), []model.PostID{"a", "b"})
	})

	t.Run("order missing", func(t *testing.T) {
		list := &model.PostList{Posts: posts}
		gt.Equal(t, ids(list.List()), []model.PostID{"b", "a"})
	})
}
