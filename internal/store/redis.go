package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Each record is a hash: v (version), d (JSON data), u (updated at, RFC3339Nano).
var (
	casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
local expected = tonumber(ARGV[1])
if cur == false then
  if expected ~= 0 then return -1 end
elseif tonumber(cur) ~= expected then
  return -1
end
local nv = expected + 1
redis.call('HSET', KEYS[1], 'v', nv, 'd', ARGV[2], 'u', ARGV[3])
return nv
`)

	putScript = redis.NewScript(`
local nv = redis.call('HINCRBY', KEYS[1], 'v', 1)
redis.call('HSET', KEYS[1], 'd', ARGV[1], 'u', ARGV[2])
return nv
`)
)

// RedisKV stores records in Redis hashes; writes are atomic Lua scripts.
type RedisKV struct {
	client redis.Cmdable
	prefix string
}

func NewRedisKV(client redis.Cmdable, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (r *RedisKV) Get(ctx context.Context, key string) (*Record, error) {
	fields, err := r.client.HGetAll(ctx, r.prefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	version, err := strconv.ParseInt(fields["v"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse version of %s: %w", key, err)
	}
	updatedAt, _ := time.Parse(time.RFC3339Nano, fields["u"])

	return &Record{
		Key:       key,
		Version:   version,
		Data:      []byte(fields["d"]),
		UpdatedAt: updatedAt,
	}, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, data []byte) (int64, error) {
	version, err := putScript.Run(ctx, r.client, []string{r.prefix + key},
		string(data), time.Now().UTC().Format(time.RFC3339Nano)).Int64()
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return version, nil
}

func (r *RedisKV) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, data []byte) (int64, error) {
	version, err := casScript.Run(ctx, r.client, []string{r.prefix + key},
		expectedVersion, string(data), time.Now().UTC().Format(time.RFC3339Nano)).Int64()
	if err != nil {
		return 0, fmt.Errorf("compare-and-swap %s: %w", key, err)
	}
	if version < 0 {
		return 0, ErrVersionConflict
	}
	return version, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// Keys walks the keyspace with SCAN, so it never blocks the server.
func (r *RedisKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	match := globEscaper.Replace(r.prefix+prefix) + "*"
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", prefix, err)
		}
		for _, key := range batch {
			seen[strings.TrimPrefix(key, r.prefix)] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
