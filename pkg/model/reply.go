package model

import (
	"time"

	"github.com/google/uuid"
)

type ReplyLogID string

// NewReplyLogID generates a new unique ReplyLogID
func NewReplyLogID() ReplyLogID {
	return ReplyLogID(uuid.New().String())
}

// ReplyLog records one answered post
type ReplyLog struct {
	ID        ReplyLogID `firestore:"id"`
	Bot       string     `firestore:"bot"`
	ChannelID ChannelID  `firestore:"channel_id"`
	PostID    PostID     `firestore:"post_id"`
	RootID    PostID     `firestore:"root_id"`
	ReplyID   PostID     `firestore:"reply_id"`
	Answer    string     `firestore:"answer"`
	Memory    bool       `firestore:"memory"`
	CreatedAt time.Time  `firestore:"created_at"`
}

// Exchange is the archived form of a single reply cycle
type Exchange struct {
	Bot       string    `json:"bot"`
	ChannelID ChannelID `json:"channel_id"`
	PostID    PostID    `json:"post_id"`
	RootID    PostID    `json:"root_id"`
	Messages  []Message `json:"messages"`
	Answer    string    `json:"answer"`
	Memory    string    `json:"memory,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
