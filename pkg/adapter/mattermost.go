package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the platform answers a single post lookup with a non-success status
var ErrNotFound = goerr.New("post not found")

// Chat is the interface for the chat platform (Mattermost REST API v4)
type Chat interface {
	// Origin returns the base URL of the platform, used to recognize links to its own posts
	Origin() string

	ListChannels(ctx context.Context, userID model.UserID, teamID string) ([]model.ChannelID, error)
	GetPostsSince(ctx context.Context, channelID model.ChannelID, since int64) (*model.PostList, error)
	GetPinnedPosts(ctx context.Context, channelID model.ChannelID) (*model.PostList, error)
	GetThread(ctx context.Context, postID model.PostID) (*model.PostList, error)
	GetPost(ctx context.Context, postID model.PostID) (*model.Post, error)
	SearchPosts(ctx context.Context, teamID, terms string) (*model.PostList, error)
	CreatePost(ctx context.Context, channelID model.ChannelID, message string, rootID model.PostID) (*model.Post, error)
	PatchPost(ctx context.Context, postID model.PostID, message string) (*model.Post, error)
	AddReaction(ctx context.Context, userID model.UserID, postID model.PostID, emoji string) error
	RemoveReaction(ctx context.Context, userID model.UserID, postID model.PostID, emoji string) error
}

type MattermostClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type MattermostOption func(*MattermostClient)

func WithHTTPClient(client *http.Client) MattermostOption {
	return func(m *MattermostClient) {
		m.httpClient = client
	}
}

// WithRateLimiter shares a request limiter between clients of several bots
func WithRateLimiter(limiter *rate.Limiter) MattermostOption {
	return func(m *MattermostClient) {
		m.limiter = limiter
	}
}

// NewMattermost creates a client acting with the access token of one bot account
func NewMattermost(baseURL, token string, opts ...MattermostOption) *MattermostClient {
	m := &MattermostClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MattermostClient) Origin() string {
	return m.baseURL
}

func (m *MattermostClient) ListChannels(ctx context.Context, userID model.UserID, teamID string) ([]model.ChannelID, error) {
	var members []struct {
		ChannelID model.ChannelID `json:"channel_id"`
	}
	path := "/api/v4/users/" + url.PathEscape(string(userID)) + "/teams/" + url.PathEscape(teamID) + "/channels/members"
	if err := m.do(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, goerr.Wrap(err, "failed to list channel memberships", goerr.V("user_id", userID), goerr.V("team_id", teamID))
	}

	channels := make([]model.ChannelID, 0, len(members))
	for _, member := range members {
		channels = append(channels, member.ChannelID)
	}
	return channels, nil
}

func (m *MattermostClient) GetPostsSince(ctx context.Context, channelID model.ChannelID, since int64) (*model.PostList, error) {
	path := "/api/v4/channels/" + url.PathEscape(string(channelID)) + "/posts?since=" + strconv.FormatInt(since, 10)
	var list model.PostList
	if err := m.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, goerr.Wrap(err, "failed to get channel posts", goerr.V("channel_id", channelID), goerr.V("since", since))
	}
	return &list, nil
}

func (m *MattermostClient) GetPinnedPosts(ctx context.Context, channelID model.ChannelID) (*model.PostList, error) {
	path := "/api/v4/channels/" + url.PathEscape(string(channelID)) + "/pinned"
	var list model.PostList
	if err := m.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, goerr.Wrap(err, "failed to get pinned posts", goerr.V("channel_id", channelID))
	}
	return &list, nil
}

func (m *MattermostClient) GetThread(ctx context.Context, postID model.PostID) (*model.PostList, error) {
	path := "/api/v4/posts/" + url.PathEscape(string(postID)) + "/thread"
	var list model.PostList
	if err := m.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, goerr.Wrap(err, "failed to get thread", goerr.V("post_id", postID))
	}
	return &list, nil
}

func (m *MattermostClient) GetPost(ctx context.Context, postID model.PostID) (*model.Post, error) {
	path := "/api/v4/posts/" + url.PathEscape(string(postID))
	var post model.Post
	if err := m.do(ctx, http.MethodGet, path, nil, &post); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			return nil, goerr.Wrap(ErrNotFound, "failed to get post", goerr.V("post_id", postID), goerr.V("status", apiErr.status))
		}
		return nil, goerr.Wrap(err, "failed to get post", goerr.V("post_id", postID))
	}
	return &post, nil
}

func (m *MattermostClient) SearchPosts(ctx context.Context, teamID, terms string) (*model.PostList, error) {
	body := map[string]any{
		"terms":        terms,
		"is_or_search": false,
	}
	path := "/api/v4/teams/" + url.PathEscape(teamID) + "/posts/search"
	var list model.PostList
	if err := m.do(ctx, http.MethodPost, path, body, &list); err != nil {
		return nil, goerr.Wrap(err, "failed to search posts", goerr.V("team_id", teamID), goerr.V("terms", terms))
	}
	return &list, nil
}

func (m *MattermostClient) CreatePost(ctx context.Context, channelID model.ChannelID, message string, rootID model.PostID) (*model.Post, error) {
	body := map[string]any{
		"channel_id": channelID,
		"message":    message,
	}
	if rootID != "" {
		body["root_id"] = rootID
	}

	var post model.Post
	if err := m.do(ctx, http.MethodPost, "/api/v4/posts", body, &post); err != nil {
		return nil, goerr.Wrap(err, "failed to create post", goerr.V("channel_id", channelID), goerr.V("root_id", rootID))
	}
	return &post, nil
}

func (m *MattermostClient) PatchPost(ctx context.Context, postID model.PostID, message string) (*model.Post, error) {
	body := map[string]any{
		"message": message,
	}
	path := "/api/v4/posts/" + url.PathEscape(string(postID)) + "/patch"
	var post model.Post
	if err := m.do(ctx, http.MethodPut, path, body, &post); err != nil {
		return nil, goerr.Wrap(err, "failed to patch post", goerr.V("post_id", postID))
	}
	return &post, nil
}

func (m *MattermostClient) AddReaction(ctx context.Context, userID model.UserID, postID model.PostID, emoji string) error {
	body := map[string]any{
		"user_id":    userID,
		"post_id":    postID,
		"emoji_name": emoji,
	}
	if err := m.do(ctx, http.MethodPost, "/api/v4/reactions", body, nil); err != nil {
		return goerr.Wrap(err, "failed to add reaction", goerr.V("post_id", postID), goerr.V("emoji", emoji))
	}
	return nil
}

func (m *MattermostClient) RemoveReaction(ctx context.Context, userID model.UserID, postID model.PostID, emoji string) error {
	path := "/api/v4/users/" + url.PathEscape(string(userID)) +
		"/posts/" + url.PathEscape(string(postID)) +
		"/reactions/" + url.PathEscape(emoji)
	if err := m.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return goerr.Wrap(err, "failed to remove reaction", goerr.V("post_id", postID), goerr.V("emoji", emoji))
	}
	return nil
}

// apiError is a non-success HTTP response from the platform
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return "mattermost API returned " + strconv.Itoa(e.status) + ": " + e.body
}

// do sends a request and decodes a JSON response into out when out is not nil
func (m *MattermostClient) do(ctx context.Context, method, path string, body any, out any) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return goerr.Wrap(err, "rate limiter aborted request")
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal request body")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.V("path", path))
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "failed to send request", goerr.V("method", method), goerr.V("path", path))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return goerr.Wrap(&apiError{status: resp.StatusCode, body: string(raw)}, "mattermost API returned error",
			goerr.V("method", method),
			goerr.V("path", path),
			goerr.V("status", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode response", goerr.V("path", path))
	}
	return nil
}
