package graphrag

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// contextCacheTTL bounds how long an assembled context block stays cached
// before the next build/resume call is forced to re-assemble it.
const contextCacheTTL = 30 * time.Minute

// ContextCache memoizes AssembleServiceContext output keyed by "run_id:service"
// so repeated build/resume calls within one run don't re-walk the graph
// (SPEC_FULL.md §10's Redis-backed context cache). A nil client disables
// caching transparently -- callers always fall through to assembling fresh.
type ContextCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewContextCache wraps client. Pass nil to get a no-op cache (every Get
// misses, every Set is a no-op), matching the component's degrade-gracefully
// posture when Redis is not configured.
func NewContextCache(client *redis.Client, logger *zap.Logger) *ContextCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextCache{client: client, logger: logger}
}

func cacheKey(runID, service string) string {
	return "graphrag:context:" + runID + ":" + service
}

// Get returns the cached context block and true on a hit. Any Redis error
// (including a cold cache) is treated as a miss, never surfaced to the caller.
func (c *ContextCache) Get(ctx context.Context, runID, service string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, cacheKey(runID, service)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set stores body for runID/service with contextCacheTTL. Errors are logged
// and otherwise swallowed -- a failed cache write never fails the caller's
// context-assembly request.
func (c *ContextCache) Set(ctx context.Context, runID, service, body string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(runID, service), body, contextCacheTTL).Err(); err != nil {
		c.logger.Warn("context cache write failed", zap.String("service", service), zap.Error(err))
	}
}

// Invalidate drops the cached context blocks of the named services for runID, used after a
// BuildKnowledgeGraph rebuild since previously assembled blocks may now be stale.
func (c *ContextCache) Invalidate(ctx context.Context, runID string, services []string) {
	if c == nil || c.client == nil {
		return
	}
	for _, service := range services {
		c.client.Del(ctx, cacheKey(runID, service))
	}
}
