package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/model"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// Memory is a process local Repository. Its leases only exclude workers of
// the same process.
type Memory struct {
	mu      sync.Mutex
	leases  map[model.PostID]lease
	replies map[model.PostID][]*model.ReplyLog
	now     func() time.Time
}

type MemoryOption func(*Memory)

// WithClock replaces the clock used for lease expiration
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		leases:  make(map[model.PostID]lease),
		replies: make(map[model.PostID][]*model.ReplyLog),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) AcquireThreadLock(ctx context.Context, rootID model.PostID, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.leases[rootID]; ok && cur.owner != owner && now.Before(cur.expiresAt) {
		return goerr.Wrap(ErrLockHeld, "failed to acquire thread lock",
			goerr.V("root_id", rootID),
			goerr.V("owner", cur.owner))
	}

	m.leases[rootID] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return nil
}

func (m *Memory) ReleaseThreadLock(ctx context.Context, rootID model.PostID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.leases[rootID]; ok && cur.owner == owner {
		delete(m.leases, rootID)
	}
	return nil
}

func (m *Memory) PutReplyLog(ctx context.Context, log *model.ReplyLog) error {
	if log.ID == "" {
		return goerr.New("reply log ID is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *log
	m.replies[log.RootID] = append(m.replies[log.RootID], &copied)
	return nil
}

func (m *Memory) ListReplyLogs(ctx context.Context, rootID model.PostID) ([]*model.ReplyLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logs := make([]*model.ReplyLog, 0, len(m.replies[rootID]))
	for _, l := range m.replies[rootID] {
		copied := *l
		logs = append(logs, &copied)
	}
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].CreatedAt.Before(logs[j].CreatedAt)
	})
	return logs, nil
}
