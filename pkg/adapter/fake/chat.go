// Package fake provides in-memory implementations of the adapter interfaces
// for tests and dry runs.
package fake

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/adapter"
	"github.com/m-mizutani/mmpersona/pkg/model"
)

// Chat is an in-memory chat platform. Timestamps come from a counter that
// advances by one millisecond on every write.
type Chat struct {
	mu       sync.Mutex
	origin   string
	clock    int64
	seq      int
	posts    map[model.PostID]*model.Post
	channels map[string]model.ChannelID
	members  map[model.UserID][]model.ChannelID
	failures map[string]error

	// Calls records every operation as "op:arg" in call order
	Calls []string
}

func NewChat(origin string) *Chat {
	return &Chat{
		origin:   origin,
		clock:    1_700_000_000_000,
		posts:    make(map[model.PostID]*model.Post),
		channels: make(map[string]model.ChannelID),
		members:  make(map[model.UserID][]model.ChannelID),
		failures: make(map[string]error),
	}
}

var _ adapter.Chat = (*Chat)(nil)

// AddChannel registers a channel name used by "in:" search terms and makes
// the users members of the channel
func (c *Chat) AddChannel(name string, id model.ChannelID, users ...model.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[name] = id
	for _, u := range users {
		c.members[u] = append(c.members[u], id)
	}
}

// Put stores a post as is. Zero timestamps are filled from the clock.
func (c *Chat) Put(post *model.Post) *model.Post {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := clonePost(post)
	if stored.ID == "" {
		stored.ID = c.nextID()
	}
	if stored.CreateAt == 0 {
		stored.CreateAt = c.tick()
	}
	if stored.UpdateAt == 0 {
		stored.UpdateAt = stored.CreateAt
	}
	c.posts[stored.ID] = stored
	return clonePost(stored)
}

// Post returns a copy of a stored post
func (c *Chat) Post(id model.PostID) (*model.Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[id]
	if !ok {
		return nil, false
	}
	return clonePost(p), true
}

// ChannelPosts returns copies of all posts in the channel in creation order
func (c *Chat) ChannelPosts(channelID model.ChannelID) []*model.Post {
	c.mu.Lock()
	defer c.mu.Unlock()
	var posts []*model.Post
	for _, p := range c.posts {
		if p.ChannelID == channelID {
			posts = append(posts, clonePost(p))
		}
	}
	sortPosts(posts)
	return posts
}

// FailOn makes the operation return err until cleared with a nil err
func (c *Chat) FailOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, op)
		return
	}
	c.failures[op] = err
}

func (c *Chat) Origin() string {
	return c.origin
}

func (c *Chat) ListChannels(ctx context.Context, userID model.UserID, teamID string) ([]model.ChannelID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("list_channels", string(userID)); err != nil {
		return nil, err
	}
	return append([]model.ChannelID(nil), c.members[userID]...), nil
}

func (c *Chat) GetPostsSince(ctx context.Context, channelID model.ChannelID, since int64) (*model.PostList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("get_posts_since", string(channelID)); err != nil {
		return nil, err
	}
	return c.list(func(p *model.Post) bool {
		return p.ChannelID == channelID && p.UpdateAt >= since
	}), nil
}

func (c *Chat) GetPinnedPosts(ctx context.Context, channelID model.ChannelID) (*model.PostList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("get_pinned_posts", string(channelID)); err != nil {
		return nil, err
	}
	return c.list(func(p *model.Post) bool {
		return p.ChannelID == channelID && p.IsPinned
	}), nil
}

func (c *Chat) GetThread(ctx context.Context, postID model.PostID) (*model.PostList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("get_thread", string(postID)); err != nil {
		return nil, err
	}
	post, ok := c.posts[postID]
	if !ok {
		return nil, goerr.New("thread not found", goerr.V("post_id", postID))
	}
	root := post.ThreadRoot()
	return c.list(func(p *model.Post) bool {
		return p.ID == root || p.RootID == root
	}), nil
}

func (c *Chat) GetPost(ctx context.Context, postID model.PostID) (*model.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("get_post", string(postID)); err != nil {
		return nil, err
	}
	post, ok := c.posts[postID]
	if !ok {
		return nil, goerr.Wrap(adapter.ErrNotFound, "failed to get post", goerr.V("post_id", postID))
	}
	return clonePost(post), nil
}

// SearchPosts matches posts containing every plain term. "in:<name>" terms
// restrict the result to the named channel.
func (c *Chat) SearchPosts(ctx context.Context, teamID, terms string) (*model.PostList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("search_posts", terms); err != nil {
		return nil, err
	}

	var words []string
	var channelID model.ChannelID
	for _, field := range strings.Fields(terms) {
		if name, ok := strings.CutPrefix(field, "in:"); ok {
			channelID = c.channels[name]
			continue
		}
		words = append(words, field)
	}

	return c.list(func(p *model.Post) bool {
		if channelID != "" && p.ChannelID != channelID {
			return false
		}
		for _, w := range words {
			if !strings.Contains(p.Message, w) {
				return false
			}
		}
		return true
	}), nil
}

func (c *Chat) CreatePost(ctx context.Context, channelID model.ChannelID, message string, rootID model.PostID) (*model.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("create_post", string(channelID)); err != nil {
		return nil, err
	}
	now := c.tick()
	post := &model.Post{
		ID:        c.nextID(),
		RootID:    rootID,
		ChannelID: channelID,
		CreateAt:  now,
		UpdateAt:  now,
		Message:   message,
	}
	c.posts[post.ID] = post
	return clonePost(post), nil
}

func (c *Chat) PatchPost(ctx context.Context, postID model.PostID, message string) (*model.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("patch_post", string(postID)); err != nil {
		return nil, err
	}
	post, ok := c.posts[postID]
	if !ok {
		return nil, goerr.New("post not found", goerr.V("post_id", postID))
	}
	post.Message = message
	post.UpdateAt = c.tick()
	return clonePost(post), nil
}

func (c *Chat) AddReaction(ctx context.Context, userID model.UserID, postID model.PostID, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("add_reaction", emoji); err != nil {
		return err
	}
	post, ok := c.posts[postID]
	if !ok {
		return goerr.New("post not found", goerr.V("post_id", postID))
	}
	post.Metadata.Reactions = append(post.Metadata.Reactions, &model.Reaction{
		UserID:    userID,
		PostID:    postID,
		EmojiName: emoji,
	})
	return nil
}

func (c *Chat) RemoveReaction(ctx context.Context, userID model.UserID, postID model.PostID, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("remove_reaction", emoji); err != nil {
		return err
	}
	post, ok := c.posts[postID]
	if !ok {
		return goerr.New("post not found", goerr.V("post_id", postID))
	}
	kept := post.Metadata.Reactions[:0]
	for _, r := range post.Metadata.Reactions {
		if r.UserID == userID && r.EmojiName == emoji {
			continue
		}
		kept = append(kept, r)
	}
	post.Metadata.Reactions = kept
	return nil
}

func (c *Chat) record(op, arg string) error {
	c.Calls = append(c.Calls, op+":"+arg)
	if err, ok := c.failures[op]; ok {
		return err
	}
	return nil
}

func (c *Chat) tick() int64 {
	c.clock++
	return c.clock
}

func (c *Chat) nextID() model.PostID {
	c.seq++
	return model.PostID(fmt.Sprintf("post%04d", c.seq))
}

// list builds a page ordered newest first, as the platform does
func (c *Chat) list(match func(*model.Post) bool) *model.PostList {
	out := &model.PostList{Posts: make(map[model.PostID]*model.Post)}
	var posts []*model.Post
	for _, p := range c.posts {
		if match(p) {
			posts = append(posts, p)
		}
	}
	sortPosts(posts)
	for i := len(posts) - 1; i >= 0; i-- {
		out.Order = append(out.Order, posts[i].ID)
		out.Posts[posts[i].ID] = clonePost(posts[i])
	}
	return out
}

// Count returns how many times the operation was called
func (c *Chat) Count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.Calls {
		if strings.HasPrefix(call, op+":") {
			n++
		}
	}
	return n
}

func sortPosts(posts []*model.Post) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreateAt != posts[j].CreateAt {
			return posts[i].CreateAt < posts[j].CreateAt
		}
		return posts[i].ID < posts[j].ID
	})
}

func clonePost(p *model.Post) *model.Post {
	copied := *p
	copied.Metadata.Reactions = nil
	for _, r := range p.Metadata.Reactions {
		rc := *r
		copied.Metadata.Reactions = append(copied.Metadata.Reactions, &rc)
	}
	copied.Metadata.Embeds = nil
	for _, e := range p.Metadata.Embeds {
		ec := *e
		copied.Metadata.Embeds = append(copied.Metadata.Embeds, &ec)
	}
	return &copied
}
