package targetlock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/me/testfleet/pkg/model"
)

// RedisBackend keeps one hash per target plus a set indexing every id.
// Create and Update run as Lua scripts so each is atomic per record.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisBackend creates a RedisBackend storing keys under prefix.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "testfleet:target:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (b *RedisBackend) key(id string) string { return b.prefix + id }

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
func (b *RedisBackend) indexKey() string     { return b.prefix + "_index" }

// KEYS[1] record, KEYS[2] index; ARGV id, occupied, holder, updated_at.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'occupied', ARGV[2], 'holder', ARGV[3], 'updated_at', ARGV[4])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

// KEYS[1] record. ARGV pairs are (flag, value): filter occupied, filter
// holder, set occupied, set holder; ARGV[9] is updated_at.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if ARGV[1] == '1' and redis.call('HGET', KEYS[1], 'occupied') ~= ARGV[2] then
  return 0
end
if ARGV[3] == '1' and redis.call('HGET', KEYS[1], 'holder') ~= ARGV[4] then
  return 0
end
if ARGV[5] == '1' then
  redis.call('HSET', KEYS[1], 'occupied', ARGV[6])
end
if ARGV[7] == '1' then
  redis.call('HSET', KEYS[1], 'holder', ARGV[8])
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[9])
return 1
`)

func flagged[T any](v *T, encode func(T) string) (string, string) {
	if v == nil {
		return "0", ""
	}
	return "1", encode(*v)
}

func encodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func identity(s string) string { return s }

func (b *RedisBackend) Search(ctx context.Context, q model.TargetQuery, _ model.Projection) ([]model.TargetRecord, error) {
	var ids []string
	if q.ID != nil {
		ids = []string{*q.ID}
	} else {
		members, err := b.client.SMembers(ctx, b.indexKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		sort.Strings(members)
		ids = members
	}

	var out []model.TargetRecord
	for _, id := range ids {
		fields, err := b.client.HGetAll(ctx, b.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		rec := model.TargetRecord{
			ID:       id,
			Occupied: fields["occupied"] == "1",
			Holder:   fields["holder"],
		}
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
		if q.Matches(&rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (b *RedisBackend) Create(ctx context.Context, rec model.TargetRecord) error {
	n, err := createScript.Run(ctx, b.client,
		[]string{b.key(rec.ID), b.indexKey()},
		rec.ID, encodeBool(rec.Occupied), rec.Holder, b.now().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (b *RedisBackend) Update(ctx context.Context, filter model.TargetQuery, patch model.TargetPatch) (int, error) {
	ids := []string{}
	if filter.ID != nil {
		ids = append(ids, *filter.ID)
	} else {
		members, err := b.client.SMembers(ctx, b.indexKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("update: %w", err)
		}
		ids = members
	}

	fOccFlag, fOcc := flagged(filter.Occupied, encodeBool)
	fHolderFlag, fHolder := flagged(filter.Holder, identity)
	pOccFlag, pOcc := flagged(patch.Occupied, encodeBool)
	pHolderFlag, pHolder := flagged(patch.Holder, identity)
	now := b.now().Format(time.RFC3339Nano)

	matched := 0
	for _, id := range ids {
		n, err := updateScript.Run(ctx, b.client, []string{b.key(id)},
			fOccFlag, fOcc, fHolderFlag, fHolder,
			pOccFlag, pOcc, pHolderFlag, pHolder,
			now,
		).Int()
		if err != nil {
			return matched, fmt.Errorf("update %s: %w", id, err)
		}
		matched += n
	}
	return matched, nil
}
