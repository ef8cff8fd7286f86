package services

import (
	"errors"
	"sort"

	"golang.org/x/time/rate"
)

var ErrJobInterrupted = errors.New("job interrupted")

// BatchOptions bound how bulk jobs walk the user list.
type BatchOptions struct {
	BatchSize      int
	Concurrency    int
	UsersPerSecond float64
}

func (options BatchOptions) normalized() BatchOptions {
	if options.BatchSize <= 0 {
		options.BatchSize = 50
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 1
	}
	if options.UsersPerSecond < 0 {
		options.UsersPerSecond = 0
	}
	return options
}

// newUserLimiter returns nil when pacing is disabled.
func newUserLimiter(usersPerSecond float64) *rate.Limiter {
	if usersPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(usersPerSecond), 1)
}

type UserFailure struct {
	UserID uint   `json:"user_id"`
	Error  string `json:"error"`
}

func uniqueSortedUserIDs(userIDs []uint) []uint {
	seen := make(map[uint]struct{}, len(userIDs))
	unique := make([]uint, 0, len(userIDs))
	for _, userID := range userIDs {
		if userID == 0 {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		unique = append(unique, userID)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	return unique
}

func chunkUserIDs(userIDs []uint, size int) [][]uint {
	if size <= 0 {
		size = len(userIDs)
	}
	chunks := make([][]uint, 0, (len(userIDs)+size-1)/max(size, 1))
	for start := 0; start < len(userIDs); start += size {
		end := min(start+size, len(userIDs))
		chunks = append(chunks, userIDs[start:end])
	}
	return chunks
}
