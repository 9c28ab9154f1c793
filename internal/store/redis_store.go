package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Popie52/jobscheduler/internal/model"
)

const (
	redisQueuedKey   = "scheduler:jobs:queued"
	redisRunningKey  = "scheduler:jobs:running"
	redisJobPrefix   = "scheduler:job:"
	redisDatasetPref = "scheduler:dataset:"
)

// Queued members are "<created_at ms, zero padded>:<id>" scored by
// priority, so ZRANGE order is priority then age. Job hashes are read
// through a prefix argument, so this needs a non-cluster server.
var fetchScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local maxRetries = tonumber(ARGV[2])
local out = {}
for _, member in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
	if #out >= limit then break end
	local id = string.sub(member, string.find(member, ':', 1, true) + 1)
	local key = ARGV[3] .. id
	local status = redis.call('HGET', key, 'status')
	local attempts = tonumber(redis.call('HGET', key, 'attempts') or '0')
	if status == 'queued' and attempts < maxRetries then
		table.insert(out, id)
	end
end
return out
`)

var claimScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'queued' then
	return 0
end
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts') or '0')
if attempts >= tonumber(ARGV[1]) then
	return 0
end
local member = redis.call('HGET', KEYS[1], 'queue_member')
redis.call('HSET', KEYS[1], 'status', 'running', 'attempts', attempts + 1, 'updated_at', ARGV[2])
if member then
	redis.call('ZREM', KEYS[2], member)
end
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
return 1
`)

// Refuses to overwrite an existing job.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'id', ARGV[1], 'type', ARGV[2], 'payload', ARGV[3], 'status', ARGV[4],
	'priority', ARGV[5], 'attempts', ARGV[6], 'created_at', ARGV[7],
	'updated_at', ARGV[8], 'queue_member', ARGV[9])
if ARGV[4] == 'queued' then
	redis.call('ZADD', KEYS[2], ARGV[10], ARGV[9])
end
return 1
`)

var outcomeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local member = redis.call('HGET', KEYS[1], 'queue_member')
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'result', ARGV[2], 'error_message', ARGV[3], 'updated_at', ARGV[4])
if member then
	redis.call('ZREM', KEYS[2], member)
end
redis.call('ZREM', KEYS[3], ARGV[5])
return 1
`)

// RedisJobStore keeps each job in a hash and queued ids in a sorted set.
// Fetch and claim are Lua scripts, so each runs as one atomic step on the
// server.
type RedisJobStore struct {
	rdb        *redis.Client
	maxRetries int
}

func NewRedisJobStore(rdb *redis.Client, maxRetries int) *RedisJobStore {
	return &RedisJobStore{
		rdb:        rdb,
		maxRetries: maxRetries,
	}
}

// queueScore is the priority alone; float64 holds every priority up to
// 2^53 exactly. Age ordering within a priority comes from queueMember.
func queueScore(priority int) float64 {
	return float64(priority)
}

// queueMember sorts lexically by creation time, then id. Times before the
// epoch sort as the epoch.
func queueMember(createdAt time.Time, id string) string {
	ms := createdAt.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%020d:%s", ms, id)
}

func (s *RedisJobStore) FetchEligible(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	ids, err := fetchScript.Run(ctx, s.rdb,
		[]string{redisQueuedKey},
		limit, s.maxRetries, redisJobPrefix,
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("fetch eligible: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, redisJobPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]*model.Job, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		j, err := parseRedisJob(ids[i], fields)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *RedisJobStore) Claim(ctx context.Context, jobID string) (bool, error) {
	now := time.Now().UTC()
	won, err := claimScript.Run(ctx, s.rdb,
		[]string{redisJobPrefix + jobID, redisQueuedKey, redisRunningKey},
		s.maxRetries, now.Format(time.RFC3339Nano), now.UnixMilli(), jobID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", jobID, err)
	}
	return won == 1, nil
}

func (s *RedisJobStore) RecordOutcome(ctx context.Context, jobID string, outcome model.Outcome) error {
	result, err := outcome.ResultJSON()
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	ok, err := outcomeScript.Run(ctx, s.rdb,
		[]string{redisJobPrefix + jobID, redisQueuedKey, redisRunningKey},
		string(outcome.Status), string(result), outcome.ErrorMessage,
		time.Now().UTC().Format(time.RFC3339Nano), jobID,
	).Int()
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", jobID, err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

func (s *RedisJobStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisJobStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	content, err := s.rdb.HGet(ctx, redisDatasetPref+id, "content").Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset %s: %w", id, err)
	}
	return &model.Dataset{ID: id, Content: json.RawMessage(content)}, nil
}

func (s *RedisJobStore) PutDataset(ctx context.Context, d *model.Dataset) error {
	return s.rdb.HSet(ctx, redisDatasetPref+d.ID, "content", string(d.Content)).Err()
}

func (s *RedisJobStore) Enqueue(ctx context.Context, job *model.Job) error {
	prepareEnqueue(job, time.Now().UTC())

	ok, err := enqueueScript.Run(ctx, s.rdb,
		[]string{redisJobPrefix + job.ID, redisQueuedKey},
		job.ID, string(job.Type), string(job.Payload), string(job.Status),
		job.Priority, job.Attempts,
		job.CreatedAt.UTC().Format(time.RFC3339Nano),
		job.UpdatedAt.UTC().Format(time.RFC3339Nano),
		queueMember(job.CreatedAt, job.ID), queueScore(job.Priority),
	).Int()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	return nil
}

func (s *RedisJobStore) CountStaleRunning(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.rdb.ZCount(ctx, redisRunningKey,
		"-inf", "("+strconv.FormatInt(cutoff.UnixMilli(), 10),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("count stale running: %w", err)
	}
	return int(n), nil
}

func (s *RedisJobStore) Close() error {
	return s.rdb.Close()
}

func parseRedisJob(id string, f map[string]string) (*model.Job, error) {
	j := &model.Job{
		ID:           id,
		Type:         model.JobType(f["type"]),
		Status:       model.Status(f["status"]),
		ErrorMessage: f["error_message"],
	}
	if p := f["payload"]; p != "" {
		j.Payload = json.RawMessage(p)
	}
	if r := f["result"]; r != "" {
		j.Result = json.RawMessage(r)
	}

	var err error
	if j.Priority, err = atoiField(f, "priority"); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	if j.Attempts, err = atoiField(f, "attempts"); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	if j.CreatedAt, err = timeField(f, "created_at"); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	if j.UpdatedAt, err = timeField(f, "updated_at"); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return j, nil
}

func atoiField(f map[string]string, name string) (int, error) {
	v, ok := f[name]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", name, err)
	}
	return n, nil
}

func timeField(f map[string]string, name string) (time.Time, error) {
	v, ok := f[name]
	if !ok || v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", name, err)
	}
	return t, nil
}
