package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sorapixel/internal/domain"
)

// BalanceCache holds short-lived balance snapshots keyed by account id.
// Cache failures degrade to a miss; they never fail a ledger call.
//
// Get reports the account's generation even on a miss. Invalidate bumps it,
// and Set only stores when the generation still matches, so a snapshot read
// before a mutation can never be written back after that mutation's
// invalidation.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (b domain.Balance, gen uint64, ok bool)
	Set(ctx context.Context, accountID string, b domain.Balance, gen uint64)
	Invalidate(ctx context.Context, accountID string)
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (domain.Balance, uint64, bool) {
	return domain.Balance{}, 0, false
}
func (noopCache) Set(context.Context, string, domain.Balance, uint64) {}
func (noopCache) Invalidate(context.Context, string)                  {}

// MemoryCache is a process-local BalanceCache with a fixed TTL.
type MemoryCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cacheEntry
	gens    map[string]uint64
}

type cacheEntry struct {
	balance domain.Balance
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
	}
}

func (c *MemoryCache) Get(_ context.Context, accountID string) (domain.Balance, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.gens[accountID]
	e, ok := c.entries[accountID]
	if !ok {
		return domain.Balance{}, gen, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, accountID)
		return domain.Balance{}, gen, false
	}
	return e.balance, gen, true
}

func (c *MemoryCache) Set(_ context.Context, accountID string, b domain.Balance, gen uint64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[accountID] != gen {
		return
	}
	c.entries[accountID] = cacheEntry{balance: b, expires: c.now().Add(c.ttl)}
}

func (c *MemoryCache) Invalidate(_ context.Context, accountID string) {
	c.mu.Lock()
	c.gens[accountID]++
	delete(c.entries, accountID)
	c.mu.Unlock()
}

// setIfGen writes the snapshot only while the generation key still holds the
// value the reader observed. A missing generation key reads as 0.
var setIfGen = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if (gen or '0') ~= ARGV[2] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// RedisCache shares snapshots between API replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "sorapixel:balance:", logger: logger}
}

func (c *RedisCache) keys(accountID string) (string, string) {
	return c.prefix + accountID, c.prefix + "gen:" + accountID
}

func (c *RedisCache) Get(ctx context.Context, accountID string) (domain.Balance, uint64, bool) {
	balKey, genKey := c.keys(accountID)
	vals, err := c.client.MGet(ctx, balKey, genKey).Result()
	if err != nil || len(vals) != 2 {
		c.logger.Warn().Err(err).Str("account_id", accountID).Msg("ledger: balance cache get failed")
		// An unreadable generation must not match any later Set.
		return domain.Balance{}, ^uint64(0), false
	}
	var gen uint64
	if s, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseUint(s, 10, 64); err != nil {
			return domain.Balance{}, ^uint64(0), false
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		return domain.Balance{}, gen, false
	}
	var b domain.Balance
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return domain.Balance{}, gen, false
	}
	return b, gen, true
}

func (c *RedisCache) Set(ctx context.Context, accountID string, b domain.Balance, gen uint64) {
	if c.ttl <= 0 || gen == ^uint64(0) {
		return
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	balKey, genKey := c.keys(accountID)
	err = setIfGen.Run(ctx, c.client, []string{balKey, genKey},
		string(raw), strconv.FormatUint(gen, 10), c.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Str("account_id", accountID).Msg("ledger: balance cache set failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, accountID string) {
	balKey, genKey := c.keys(accountID)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Del(ctx, balKey)
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("account_id", accountID).Msg("ledger: balance cache invalidate failed")
	}
}

var (
	_ BalanceCache = noopCache{}
	_ BalanceCache = (*MemoryCache)(nil)
	_ BalanceCache = (*RedisCache)(nil)
)
