package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/terraincognita07/soberly/internal/services"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	TotalsTTL          = 10 * time.Minute
	totalsCallTimeout  = 2 * time.Second
	totalsKeyPrefix    = "soberly:totals"
	totalsCacheVersion = 1
)

// cachedTotals is the stored form of services.UserTotals. Version lets a
// deploy with a different shape treat old entries as misses.
type cachedTotals struct {
	Version        int     `msgpack:"v"`
	TotalDays      int     `msgpack:"td"`
	CurrentRunDays int     `msgpack:"cr"`
	LongestRunDays int     `msgpack:"lr"`
	TotalRuns      int     `msgpack:"tr"`
	AvgRunLength   float64 `msgpack:"avg"`
}

// TotalsCache keeps per-user stats totals in Redis. A nil cache or a nil
// Redis client turns every call into a miss or a no-op.
type TotalsCache struct {
	redis  *RedisCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewTotalsCache(redis *RedisCache, ttl time.Duration, logger *zap.Logger) *TotalsCache {
	if ttl <= 0 {
		ttl = TotalsTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TotalsCache{redis: redis, ttl: ttl, logger: logger.Named("totals_cache")}
}

func totalsKey(userID uint) string {
	return fmt.Sprintf("%s:%d", totalsKeyPrefix, userID)
}

func (tc *TotalsCache) Get(ctx context.Context, userID uint) (services.UserTotals, bool) {
	if tc == nil || tc.redis == nil {
		return services.UserTotals{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, totalsCallTimeout)
	defer cancel()

	data, err := tc.redis.Get(ctx, totalsKey(userID))
	if err != nil {
		tc.logger.Debug("totals cache get failed", zap.Uint("user_id", userID), zap.Error(err))
		return services.UserTotals{}, false
	}
	if data == nil {
		return services.UserTotals{}, false
	}
	return decodeTotals(data)
}

func (tc *TotalsCache) Set(ctx context.Context, userID uint, totals services.UserTotals) {
	if tc == nil || tc.redis == nil {
		return
	}
	data, err := encodeTotals(totals)
	if err != nil {
		tc.logger.Warn("encode cached totals failed", zap.Uint("user_id", userID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, totalsCallTimeout)
	defer cancel()
	if err := tc.redis.Set(ctx, totalsKey(userID), data, tc.ttl); err != nil {
		tc.logger.Debug("totals cache set failed", zap.Uint("user_id", userID), zap.Error(err))
	}
}

// Invalidate drops the user's entry. A failed delete is logged at warn
// level since the entry then lives until its TTL expires.
func (tc *TotalsCache) Invalidate(ctx context.Context, userID uint) {
	if tc == nil || tc.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, totalsCallTimeout)
	defer cancel()
	if err := tc.redis.Delete(ctx, totalsKey(userID)); err != nil {
		tc.logger.Warn("totals cache invalidate failed", zap.Uint("user_id", userID), zap.Error(err))
	}
}

func encodeTotals(totals services.UserTotals) ([]byte, error) {
	return msgpack.Marshal(cachedTotals{
		Version:        totalsCacheVersion,
		TotalDays:      totals.TotalDays,
		CurrentRunDays: totals.CurrentRunDays,
		LongestRunDays: totals.LongestRunDays,
		TotalRuns:      totals.TotalRuns,
		AvgRunLength:   totals.AvgRunLength,
	})
}

func decodeTotals(data []byte) (services.UserTotals, bool) {
	var cached cachedTotals
	if err := msgpack.Unmarshal(data, &cached); err != nil {
		return services.UserTotals{}, false
	}
	if cached.Version != totalsCacheVersion {
		return services.UserTotals{}, false
	}
	return services.UserTotals{
		TotalDays:      cached.TotalDays,
		CurrentRunDays: cached.CurrentRunDays,
		LongestRunDays: cached.LongestRunDays,
		TotalRuns:      cached.TotalRuns,
		AvgRunLength:   cached.AvgRunLength,
	}, true
}
