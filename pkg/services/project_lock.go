package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ProjectLocker serializes assistant and generation work per project.
type ProjectLocker interface {
	// Lock blocks until the project's lock is held or ctx is done.
	// The returned function releases the lock and must be called exactly once.
	Lock(ctx context.Context, projectID uuid.UUID) (func(), error)
}

var _ ProjectLocker = (*ProjectLocks)(nil)

// ProjectLocks serializes work per project. Entries are dropped once no
// goroutine holds or waits for them.
type ProjectLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*projectLock
}

type projectLock struct {
	sem  chan struct{}
	refs int
}

func NewProjectLocks() *ProjectLocks {
	return &ProjectLocks{locks: make(map[uuid.UUID]*projectLock)}
}

// Lock blocks until the project's lock is held or ctx is done.
// The returned function releases the lock and must be called exactly once.
func (l *ProjectLocks) Lock(ctx context.Context, projectID uuid.UUID) (func(), error) {
	l.mu.Lock()
	pl, ok := l.locks[projectID]
	if !ok {
		pl = &projectLock{sem: make(chan struct{}, 1)}
		l.locks[projectID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(projectID, pl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-pl.sem
			l.release(projectID, pl)
		})
	}, nil
}

func (l *ProjectLocks) release(projectID uuid.UUID, pl *projectLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, projectID)
	}
}

// size is the number of tracked projects.
func (l *ProjectLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
