package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultDelayKey = "notifications:delayed"

// DelayStore parks a message until its due time for brokers without native delays.
type DelayStore interface {
	Schedule(ctx context.Context, queue, key string, body []byte, due time.Time) error
}

// claimDueScript atomically removes and returns up to ARGV[2] members with
// score <= ARGV[1], so concurrent pumps never publish the same entry twice.
const claimDueScript = `
local items = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
if #items > 0 then
    redis.call("ZREM", KEYS[1], unpack(items))
end
return items
`

type delayedEntry struct {
	ID    string          `json:"id"`
	Queue string          `json:"queue"`
	Key   string          `json:"key,omitempty"`
	Body  json.RawMessage `json:"body"`
}

// RedisDelayStore keeps delayed messages in a sorted set scored by due time
// (unix milliseconds).
type RedisDelayStore struct {
	rdb   redis.Cmdable
	key   string
	claim *redis.Script
}

var _ DelayStore = (*RedisDelayStore)(nil)

func NewRedisDelayStore(rdb redis.Cmdable, key string) *RedisDelayStore {
	if key == "" {
		key = defaultDelayKey
	}
	return &RedisDelayStore{rdb: rdb, key: key, claim: redis.NewScript(claimDueScript)}
}

// Schedule parks body for queue until due. key is the partition key the
// message is published with when it falls due.
func (s *RedisDelayStore) Schedule(ctx context.Context, queue, key string, body []byte, due time.Time) error {
	member, err := json.Marshal(delayedEntry{ID: uuid.NewString(), Queue: queue, Key: key, Body: body})
	if err != nil {
		return fmt.Errorf("encode delayed entry: %w", err)
	}
	return s.add(ctx, member, due)
}

func (s *RedisDelayStore) add(ctx context.Context, member []byte, due time.Time) error {
	err := s.rdb.ZAdd(ctx, s.key, redis.Z{Score: float64(due.UnixMilli()), Member: member}).Err()
	if err != nil {
		return &TemporaryError{fmt.Errorf("schedule delayed message: %w", err)}
	}
	return nil
}

// Len returns the number of parked messages.
func (s *RedisDelayStore) Len(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, s.key).Result()
}

// Pump publishes up to limit entries due at or before now through p. Entries
// that fail to publish are put back as due now and retried on the next pump.
func (s *RedisDelayStore) Pump(ctx context.Context, p Publisher, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := s.claim.Run(ctx, s.rdb, []string{s.key}, strconv.FormatInt(now.UnixMilli(), 10), limit).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("claim due messages: %w", err)
	}

	var (
		moved int
		errs  []error
	)
	for _, raw := range res {
		var e delayedEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			errs = append(errs, fmt.Errorf("drop corrupt delayed entry: %w", err))
			continue
		}
		if err := p.Publish(ctx, keyedBody{key: e.Key, body: e.Body}, e.Queue); err != nil {
			errs = append(errs, fmt.Errorf("publish delayed %s to %s: %w", e.ID, e.Queue, err))
			if addErr := s.add(ctx, []byte(raw), now); addErr != nil {
				errs = append(errs, addErr)
			}
			continue
		}
		moved++
	}
	return moved, errors.Join(errs...)
}
