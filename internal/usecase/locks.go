package usecase

import "sync"

// UserLocks serializes ledger mutations per user id. A single instance is
// shared between the chat and credit services so a concurrent debit and grant
// for the same user never interleave their read-modify-write cycles.
type UserLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the mutex for userID and returns the matching unlock func.
func (l *UserLocks) Lock(userID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
