package services

import "sync"

// UserLocks serializes work per user. Entries are dropped once no caller
// holds or waits on them.
type UserLocks struct {
	mu      sync.Mutex
	entries map[uint]*userLockEntry
}

type userLockEntry struct {
	mu      sync.Mutex
	holders int
}

func NewUserLocks() *UserLocks {
	return &UserLocks{entries: make(map[uint]*userLockEntry)}
}

// Lock blocks until the caller owns userID and returns the release func.
func (locks *UserLocks) Lock(userID uint) func() {
	locks.mu.Lock()
	entry, ok := locks.entries[userID]
	if !ok {
		entry = &userLockEntry{}
		locks.entries[userID] = entry
	}
	entry.holders++
	locks.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			locks.mu.Lock()
			entry.holders--
			if entry.holders == 0 {
				delete(locks.entries, userID)
			}
			locks.mu.Unlock()
		})
	}
}

func (locks *UserLocks) size() int {
	locks.mu.Lock()
	defer locks.mu.Unlock()
	return len(locks.entries)
}
