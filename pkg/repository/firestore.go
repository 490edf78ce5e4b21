package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionThreadLocks = "thread_locks"
	collectionReplies     = "replies"
)

// Firestore implements Repository. Leases are checked and written inside a
// transaction so that workers in different processes exclude each other.
type Firestore struct {
	client *firestore.Client
	now    func() time.Time
}

type threadLockDoc struct {
	RootID    string    `firestore:"root_id"`
	Owner     string    `firestore:"owner"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

// New creates a Firestore repository
func New(projectID, databaseID string) (*Firestore, error) {
	ctx := context.Background()
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return &Firestore{
		client: client,
		now:    time.Now,
	}, nil
}

// Close closes the Firestore client
func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) AcquireThreadLock(ctx context.Context, rootID model.PostID, owner string, ttl time.Duration) error {
	ref := f.client.Collection(collectionThreadLocks).Doc(string(rootID))

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := f.now()
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get thread lock")
		}

		if snap != nil && snap.Exists() {
			var cur threadLockDoc
			if err := snap.DataTo(&cur); err != nil {
				return goerr.Wrap(err, "failed to decode thread lock")
			}
			if cur.Owner != owner && now.Before(cur.ExpiresAt) {
				return goerr.Wrap(ErrLockHeld, "failed to acquire thread lock", goerr.V("owner", cur.Owner))
			}
		}

		return tx.Set(ref, threadLockDoc{
			RootID:    string(rootID),
			Owner:     owner,
			ExpiresAt: now.Add(ttl),
		})
	})
	if err != nil {
		return goerr.Wrap(err, "thread lock transaction failed", goerr.V("root_id", rootID))
	}
	return nil
}

func (f *Firestore) ReleaseThreadLock(ctx context.Context, rootID model.PostID, owner string) error {
	ref := f.client.Collection(collectionThreadLocks).Doc(string(rootID))

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return goerr.Wrap(err, "failed to get thread lock")
		}

		var cur threadLockDoc
		if err := snap.DataTo(&cur); err != nil {
			return goerr.Wrap(err, "failed to decode thread lock")
		}
		if cur.Owner != owner {
			return nil
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to release thread lock", goerr.V("root_id", rootID))
	}
	return nil
}

func (f *Firestore) PutReplyLog(ctx context.Context, log *model.ReplyLog) error {
	if log.ID == "" {
		return goerr.New("reply log ID is empty")
	}

	if _, err := f.client.Collection(collectionReplies).Doc(string(log.ID)).Set(ctx, log); err != nil {
		return goerr.Wrap(err, "failed to put reply log", goerr.V("id", log.ID))
	}
	return nil
}

func (f *Firestore) ListReplyLogs(ctx context.Context, rootID model.PostID) ([]*model.ReplyLog, error) {
	iter := f.client.Collection(collectionReplies).
		Where("root_id", "==", string(rootID)).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var logs []*model.ReplyLog
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate reply logs", goerr.V("root_id", rootID))
		}

		var log model.ReplyLog
		if err := doc.DataTo(&log); err != nil {
			return nil, goerr.Wrap(err, "failed to decode reply log", goerr.V("doc_id", doc.Ref.ID))
		}
		logs = append(logs, &log)
	}
	return logs, nil
}
