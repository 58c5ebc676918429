package syncstatus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// updateScript applies a progress delta only when the run id still matches
var updateScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'run_id') ~= ARGV[1] then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'fetched', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'synced', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'skipped', ARGV[4])
redis.call('HINCRBY', KEYS[1], 'errored', ARGV[5])
if ARGV[6] ~= '' then
	redis.call('HSET', KEYS[1], 'folder', ARGV[6])
end
if tonumber(ARGV[7]) > 0 then
	redis.call('HSET', KEYS[1], 'page', ARGV[7])
end
if tonumber(ARGV[8]) > 0 then
	redis.call('HSET', KEYS[1], 'estimated_total', ARGV[8])
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[9])
redis.call('EXPIRE', KEYS[1], ARGV[10])
return 1
`)

var finishScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'run_id') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'phase', ARGV[2], 'is_complete', '1', 'error', ARGV[3], 'updated_at', ARGV[4])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisStore keeps statuses in Redis hashes so every instance sees the same progress.
// Each user has a set of account ids pointing at their hashes.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient creates a client for addr
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisStore wraps client. Entries expire ttl after their last write.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "mailtriage"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Ping checks the connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) statusKey(key Key) string {
	return fmt.Sprintf("%s:sync:%d:%d", r.prefix, key.UserID, key.AccountID)
}

func (r *RedisStore) userKey(userID int64) string {
	return fmt.Sprintf("%s:sync:user:%d", r.prefix, userID)
}

func (r *RedisStore) Begin(ctx context.Context, key Key, runID string) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	sk := r.statusKey(key)
	uk := r.userKey(key.UserID)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sk)
		pipe.HSet(ctx, sk,
			"user_id", key.UserID,
			"account_id", key.AccountID,
			"run_id", runID,
			"phase", string(PhaseSyncing),
			"folder", "",
			"page", 0,
			"estimated_total", 0,
			"fetched", 0,
			"synced", 0,
			"skipped", 0,
			"errored", 0,
			"is_complete", "0",
			"error", "",
			"started_at", ts,
			"updated_at", ts,
		)
		pipe.Expire(ctx, sk, r.ttl)
		pipe.SAdd(ctx, uk, key.AccountID)
		pipe.Expire(ctx, uk, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to begin sync status: %w", err)
	}
	return nil
}

func (r *RedisStore) Update(ctx context.Context, key Key, runID string, p Progress) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	err := updateScript.Run(ctx, r.client, []string{r.statusKey(key)},
		runID, p.Fetched, p.Synced, p.Skipped, p.Errored,
		p.Folder, p.Page, p.EstimatedTotal, ts, int(r.ttl.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

func (r *RedisStore) Complete(ctx context.Context, key Key, runID string) error {
	return r.finish(ctx, key, runID, PhaseComplete, "")
}

func (r *RedisStore) Fail(ctx context.Context, key Key, runID string, reason string) error {
	return r.finish(ctx, key, runID, PhaseError, reason)
}

func (r *RedisStore) finish(ctx context.Context, key Key, runID string, phase Phase, reason string) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	err := finishScript.Run(ctx, r.client, []string{r.statusKey(key)},
		runID, string(phase), reason, ts, int(r.ttl.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to finish sync status: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key Key) (*Status, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.statusKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get sync status: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return decodeStatus(key, fields), true, nil
}

// ListByUser returns the user's statuses ordered by account id. Index entries whose
// hash expired are pruned.
func (r *RedisStore) ListByUser(ctx context.Context, userID int64) ([]*Status, error) {
	uk := r.userKey(userID)
	members, err := r.client.SMembers(ctx, uk).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sync statuses: %w", err)
	}

	var out []*Status
	for _, m := range members {
		accountID, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		s, ok, err := r.Get(ctx, Key{UserID: userID, AccountID: accountID})
		if err != nil {
			return nil, err
		}
		if !ok {
			r.client.SRem(ctx, uk, m)
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func decodeStatus(key Key, f map[string]string) *Status {
	atoi := func(name string) int {
		n, _ := strconv.Atoi(f[name])
		return n
	}
	parseTime := func(name string) time.Time {
		t, _ := time.Parse(time.RFC3339Nano, f[name])
		return t
	}

	return &Status{
		UserID:         key.UserID,
		AccountID:      key.AccountID,
		RunID:          f["run_id"],
		Phase:          Phase(f["phase"]),
		Folder:         f["folder"],
		Page:           atoi("page"),
		EstimatedTotal: atoi("estimated_total"),
		Fetched:        atoi("fetched"),
		Synced:         atoi("synced"),
		Skipped:        atoi("skipped"),
		Errored:        atoi("errored"),
		IsComplete:     f["is_complete"] == "1",
		Error:          f["error"],
		StartedAt:      parseTime("started_at"),
		UpdatedAt:      parseTime("updated_at"),
	}
}
