package ledger

import (
	fp "BTCFiRisk/internal/math"
	"BTCFiRisk/internal/state"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var _ Cache = (*RedisCache)(nil)

// RedisConfig holds Redis cache configuration.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration // per-position expiry; 0 keeps entries forever
	KeyPrefix string
}

// RedisCache shares cached positions across engine replicas. Each position is
// a hash under <prefix>:position:<addr>; a set under <prefix>:positions
// indexes the known accounts for stats.
type RedisCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "btcfi"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisCache{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// Ping checks the Redis connection.
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) key(acct Account) string {
	return rc.keyPrefix + ":" + AccountPath(acct)
}

func (rc *RedisCache) indexKey() string {
	return rc.keyPrefix + ":positions"
}

func (rc *RedisCache) Get(ctx context.Context, acct Account) (CachedPosition, bool, error) {
	fields, err := rc.client.HGetAll(ctx, rc.key(acct)).Result()
	if err != nil {
		return CachedPosition{}, false, fmt.Errorf("redis get position: %w", err)
	}
	if len(fields) == 0 {
		return CachedPosition{}, false, nil
	}
	entry, err := decodePosition(acct, fields)
	if err != nil {
		return CachedPosition{}, false, err
	}
	return entry, true, nil
}

func (rc *RedisCache) Put(ctx context.Context, entry CachedPosition) error {
	key := rc.key(entry.Account)
	_, err := rc.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodePosition(entry))
		if rc.ttl > 0 {
			pipe.Expire(ctx, key, rc.ttl)
		}
		pipe.SAdd(ctx, rc.indexKey(), entry.Account.Hex())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put position: %w", err)
	}
	return nil
}

// All returns every indexed position that has not expired. Expired accounts
// are pruned from the index as they are found.
func (rc *RedisCache) All(ctx context.Context) ([]CachedPosition, error) {
	members, err := rc.client.SMembers(ctx, rc.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list positions: %w", err)
	}

	pipe := rc.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGetAll(ctx, rc.key(common.HexToAddress(m)))
	}
	if len(members) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis load positions: %w", err)
		}
	}

	out := make([]CachedPosition, 0, len(members))
	var expired []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			expired = append(expired, members[i])
			continue
		}
		entry, err := decodePosition(common.HexToAddress(members[i]), fields)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}

	if len(expired) > 0 {
		rc.client.SRem(ctx, rc.indexKey(), expired...)
	}
	return out, nil
}

func encodePosition(entry CachedPosition) map[string]interface{} {
	return map[string]interface{}{
		"collateral": entry.Position.Collateral.Dec(),
		"debt":       entry.Position.Debt.Dec(),
		"fetched_at": entry.FetchedAt.UnixNano(),
		"block":      entry.BlockNumber,
	}
}

func decodePosition(acct Account, fields map[string]string) (CachedPosition, error) {
	collateral, err := fp.ParseUnits(fields["collateral"])
	if err != nil {
		return CachedPosition{}, fmt.Errorf("decode cached collateral for %s: %w", acct.Hex(), err)
	}
	debt, err := fp.ParseUnits(fields["debt"])
	if err != nil {
		return CachedPosition{}, fmt.Errorf("decode cached debt for %s: %w", acct.Hex(), err)
	}
	fetchedAt, _ := strconv.ParseInt(fields["fetched_at"], 10, 64)
	block, _ := strconv.ParseUint(fields["block"], 10, 64)

	return CachedPosition{
		Account:     acct,
		Position:    state.Position{Collateral: collateral, Debt: debt},
		FetchedAt:   time.Unix(0, fetchedAt),
		BlockNumber: block,
	}, nil
}
