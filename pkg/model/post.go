package model

import (
	"sort"
	"time"
)

// PostID is an identifier of a post on the chat platform
type PostID string

type UserID string

type ChannelID string

// Post is a message observed on the chat platform. The platform is the
// system of record, so a Post is never mutated after it is decoded.
type Post struct {
	ID        PostID    `json:"id"`
	RootID    PostID    `json:"root_id"`
	ChannelID ChannelID `json:"channel_id"`
	UserID    UserID    `json:"user_id"`
	CreateAt  int64     `json:"create_at"`
	UpdateAt  int64     `json:"update_at"`
	Message   string    `json:"message"`
	IsPinned  bool      `json:"is_pinned"`
	Metadata  Metadata  `json:"metadata"`
}

type Metadata struct {
	Reactions []*Reaction `json:"reactions,omitempty"`
	Embeds    []*Embed    `json:"embeds,omitempty"`
}

type Reaction struct {
	UserID    UserID `json:"user_id"`
	PostID    PostID `json:"post_id"`
	EmojiName string `json:"emoji_name"`
}

// EmbedTypeLink is the embed type the platform attaches to plain URLs
const EmbedTypeLink = "link"

type Embed struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// ThreadRoot returns the identity used as the key of the thread the post belongs to
func (p *Post) ThreadRoot() PostID {
	if p.RootID != "" {
		return p.RootID
	}
	return p.ID
}

// CreatedAt converts the millisecond creation timestamp into time.Time in the given location
func (p *Post) CreatedAt(loc *time.Location) time.Time {
	return time.UnixMilli(p.CreateAt).In(loc)
}

// HasReaction reports whether any reaction on the post uses the emoji
func (p *Post) HasReaction(emoji string) bool {
	for _, r := range p.Metadata.Reactions {
		if r != nil && r.EmojiName == emoji {
			return true
		}
	}
	return false
}

// PostList is the page shape returned by most post endpoints of the platform
type PostList struct {
	Order []PostID         `json:"order"`
	Posts map[PostID]*Post `json:"posts"`
}

// Ordered returns posts following Order. IDs missing from Posts are skipped.
func (l *PostList) Ordered() []*Post {
	if l == nil {
		return nil
	}
	posts := make([]*Post, 0, len(l.Order))
	for _, id := range l.Order {
		if p, ok := l.Posts[id]; ok {
			posts = append(posts, p)
		}
	}
	return posts
}

// SortedByCreateAt returns all posts sorted ascending by creation time. Ties
// keep the order of the Order list, then post ID for posts not listed there.
func (l *PostList) SortedByCreateAt() []*Post {
	if l == nil {
		return nil
	}

	rank := make(map[PostID]int, len(l.Order))
	for i, id := range l.Order {
		rank[id] = i
	}

	posts := make([]*Post, 0, len(l.Posts))
	for _, p := range l.Posts {
		posts = append(posts, p)
	}
	sort.Slice(posts, func(i, j int) bool {
		ri, iok := rank[posts[i].ID]
		rj, jok := rank[posts[j].ID]
		switch {
		case iok && !jok:
			return true
		case !iok && jok:
			return false
		case iok && jok:
			return ri < rj
		default:
			return posts[i].ID < posts[j].ID
		}
	})
	SortPosts(posts)
	return posts
}

// SortPosts sorts posts in place ascending by creation time, keeping the
// relative order of posts created at the same millisecond.
func SortPosts(posts []*Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreateAt < posts[j].CreateAt
	})
}

// List returns posts in the order the platform listed them, falling back to
// creation order when the page carries no order list.
func (l *PostList) List() []*Post {
	if l == nil {
		return nil
	}
	if len(l.Order) == 0 {
		return l.SortedByCreateAt()
	}
	return l.Ordered()
}
