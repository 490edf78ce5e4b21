package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/model"
)

// ErrLockHeld is returned when another worker owns the lease of a thread
var ErrLockHeld = goerr.New("thread lock is held by another worker")

// Repository keeps the coordination state of the engine. Posts and memory
// records live on the chat platform; only leases and reply logs live here.
type Repository interface {
	// AcquireThreadLock takes a lease on the thread root for owner until ttl expires.
	// It returns ErrLockHeld if a live lease of another owner exists.
	AcquireThreadLock(ctx context.Context, rootID model.PostID, owner string, ttl time.Duration) error

	// ReleaseThreadLock drops the lease if it is still owned by owner
	ReleaseThreadLock(ctx context.Context, rootID model.PostID, owner string) error

	// PutReplyLog saves a record of an answered post
	PutReplyLog(ctx context.Context, log *model.ReplyLog) error

	// ListReplyLogs retrieves reply logs of a thread ordered by creation time
	ListReplyLogs(ctx context.Context, rootID model.PostID) ([]*model.ReplyLog, error)
}
