package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultQueueName     = "reminders"
	defaultLeaseTimeout  = 2 * time.Minute
	defaultKeepCompleted = 1000
	defaultKeepFailed    = 5000
	maxErrorLength       = 1024
)

var addScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "payload", ARGV[2], "state", "delayed",
  "runAt", ARGV[3], "attempts", 0, "maxAttempts", ARGV[4], "createdAt", ARGV[5])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
return 1
`)

var leaseScript = goredis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
local key = ARGV[4] .. id
redis.call("ZREM", KEYS[1], id)
redis.call("ZADD", KEYS[2], ARGV[2], id)
local attempts = redis.call("HINCRBY", key, "attempts", 1)
redis.call("HSET", key, "state", "active", "leaseToken", ARGV[3], "leaseUntil", ARGV[2])
local fields = redis.call("HMGET", key, "payload", "maxAttempts", "runAt")
return {id, fields[1] or "", tostring(attempts), fields[2] or "0", fields[3] or "0"}
`)

var completeScript = goredis.NewScript(`
if redis.call("HGET", KEYS[3], "leaseToken") ~= ARGV[2] then
  return 0
end
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[3], "leaseToken", "leaseUntil")
redis.call("HSET", KEYS[3], "state", "completed", "finishedAt", ARGV[3])
redis.call("LPUSH", KEYS[2], ARGV[1])
local keep = tonumber(ARGV[4])
local pruned = redis.call("LRANGE", KEYS[2], keep, -1)
for _, old in ipairs(pruned) do
  redis.call("DEL", ARGV[5] .. old)
end
redis.call("LTRIM", KEYS[2], 0, keep - 1)
return 1
`)

var failScript = goredis.NewScript(`
if redis.call("HGET", KEYS[4], "leaseToken") ~= ARGV[2] then
  return -1
end
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[4], "leaseToken", "leaseUntil")
redis.call("HSET", KEYS[4], "lastError", ARGV[4])
if ARGV[5] ~= "" then
  redis.call("HSET", KEYS[4], "state", "delayed", "runAt", ARGV[5])
  redis.call("ZADD", KEYS[2], ARGV[5], ARGV[1])
  return 1
end
redis.call("HSET", KEYS[4], "state", "failed", "finishedAt", ARGV[3])
redis.call("LPUSH", KEYS[3], ARGV[1])
local keep = tonumber(ARGV[6])
local pruned = redis.call("LRANGE", KEYS[3], keep, -1)
for _, old in ipairs(pruned) do
  redis.call("DEL", ARGV[7] .. old)
end
redis.call("LTRIM", KEYS[3], 0, keep - 1)
return 0
`)

var requeueScript = goredis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
local requeued = 0
local failed = {}
for _, id in ipairs(ids) do
  local key = ARGV[3] .. id
  redis.call("ZREM", KEYS[1], id)
  redis.call("HDEL", key, "leaseToken", "leaseUntil")
  local attempts = tonumber(redis.call("HGET", key, "attempts") or "0")
  local maxAttempts = tonumber(redis.call("HGET", key, "maxAttempts") or "0")
  if attempts >= maxAttempts then
    redis.call("HSET", key, "state", "failed", "finishedAt", ARGV[1], "lastError", "lease expired")
    redis.call("LPUSH", KEYS[3], id)
    table.insert(failed, id)
  else
    redis.call("HSET", key, "state", "delayed", "runAt", ARGV[1])
    redis.call("ZADD", KEYS[2], ARGV[1], id)
    requeued = requeued + 1
  end
end
if #failed > 0 then
  local keep = tonumber(ARGV[4])
  local pruned = redis.call("LRANGE", KEYS[3], keep, -1)
  for _, old in ipairs(pruned) do
    redis.call("DEL", ARGV[3] .. old)
  end
  redis.call("LTRIM", KEYS[3], 0, keep - 1)
end
local out = {tostring(requeued)}
for _, id in ipairs(failed) do
  table.insert(out, id)
end
return out
`)

// RedisOptions tunes a RedisJobQueue.
type RedisOptions struct {
	Name          string
	LeaseTimeout  time.Duration
	KeepCompleted int
	KeepFailed    int
	Retry         RetryPolicy
	// Now overrides the clock used for run times and lease deadlines.
	Now func() time.Time
}

var _ JobQueue = (*RedisJobQueue)(nil)

// RedisJobQueue keeps delayed jobs in a sorted set scored by run time, leased
// jobs in a sorted set scored by lease deadline, and job state in one hash per
// job. Every transition is a single Lua script, so callers need no locking.
// Scripts derive job hash keys from ARGV, so the queue needs a single Redis
// node or a hash-tagged name such as "{reminders}" under Redis Cluster.
type RedisJobQueue struct {
	client        *goredis.Client
	name          string
	leaseTimeout  time.Duration
	keepCompleted int
	keepFailed    int
	retry         RetryPolicy
	now           func() time.Time
	newToken      func() string
}

func NewRedisJobQueue(client *goredis.Client, opts RedisOptions) (*RedisJobQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = defaultQueueName
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = defaultLeaseTimeout
	}
	if opts.KeepCompleted < 1 {
		opts.KeepCompleted = defaultKeepCompleted
	}
	if opts.KeepFailed < 1 {
		opts.KeepFailed = defaultKeepFailed
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &RedisJobQueue{
		client:        client,
		name:          name,
		leaseTimeout:  opts.LeaseTimeout,
		keepCompleted: opts.KeepCompleted,
		keepFailed:    opts.KeepFailed,
		retry:         opts.Retry.normalized(),
		now:           opts.Now,
		newToken:      uuid.NewString,
	}, nil
}

func (q *RedisJobQueue) Add(ctx context.Context, jobID string, payload domain.ReminderPayload, delay time.Duration) (bool, error) {
	if strings.TrimSpace(jobID) == "" {
		return false, fmt.Errorf("job id is required")
	}
	if err := payload.Validate(); err != nil {
		return false, fmt.Errorf("invalid reminder payload: %w", err)
	}
	if delay < 0 {
		delay = 0
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal reminder payload: %w", err)
	}

	now := q.now()
	runAt := now.Add(delay)

	added, err := addScript.Run(ctx, q.client,
		[]string{q.jobKey(jobID), q.delayedKey()},
		jobID, string(body), runAt.UnixMilli(), q.retry.MaxAttempts, now.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to add job %q: %w", jobID, err)
	}

	return added == 1, nil
}

func (q *RedisJobQueue) Lease(ctx context.Context) (*Job, error) {
	now := q.now()
	leaseUntil := now.Add(q.leaseTimeout)
	token := q.newToken()

	fields, err := leaseScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.activeKey()},
		now.UnixMilli(), leaseUntil.UnixMilli(), token, q.jobKeyPrefix(),
	).StringSlice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}
	if len(fields) != 5 {
		return nil, fmt.Errorf("unexpected lease reply length %d", len(fields))
	}

	job := &Job{
		ID:         fields[0],
		LeaseToken: token,
		LeaseUntil: time.UnixMilli(leaseUntil.UnixMilli()),
	}
	// A malformed payload is still returned so the caller can complete it.
	_ = json.Unmarshal([]byte(fields[1]), &job.Payload)
	job.Attempt, _ = strconv.Atoi(fields[2])
	job.MaxAttempts, _ = strconv.Atoi(fields[3])
	if runAtMillis, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
		job.RunAt = time.UnixMilli(runAtMillis)
	}

	return job, nil
}

func (q *RedisJobQueue) Complete(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}

	ok, err := completeScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.completedKey(), q.jobKey(job.ID)},
		job.ID, job.LeaseToken, q.now().UnixMilli(), q.keepCompleted, q.jobKeyPrefix(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to complete job %q: %w", job.ID, err)
	}
	if ok != 1 {
		return fmt.Errorf("complete job %q: %w", job.ID, ErrLeaseLost)
	}
	return nil
}

func (q *RedisJobQueue) Fail(ctx context.Context, job *Job, cause error) (FailResult, error) {
	if job == nil {
		return FailResult{}, fmt.Errorf("job is required")
	}

	now := q.now()
	result := FailResult{}
	retryAt := ""
	if !job.FinalAttempt() {
		result.Retrying = true
		result.NextRunAt = now.Add(q.retry.Delay(job.Attempt))
		retryAt = strconv.FormatInt(result.NextRunAt.UnixMilli(), 10)
	}

	reply, err := failScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.delayedKey(), q.failedKey(), q.jobKey(job.ID)},
		job.ID, job.LeaseToken, now.UnixMilli(), truncateError(cause), retryAt, q.keepFailed, q.jobKeyPrefix(),
	).Int()
	if err != nil {
		return FailResult{}, fmt.Errorf("failed to fail job %q: %w", job.ID, err)
	}
	if reply == -1 {
		return FailResult{}, fmt.Errorf("fail job %q: %w", job.ID, ErrLeaseLost)
	}

	return result, nil
}

func (q *RedisJobQueue) RequeueExpired(ctx context.Context, limit int) (RequeueResult, error) {
	if limit < 1 {
		limit = 100
	}

	reply, err := requeueScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.delayedKey(), q.failedKey()},
		q.now().UnixMilli(), limit, q.jobKeyPrefix(), q.keepFailed,
	).StringSlice()
	if err != nil {
		return RequeueResult{}, fmt.Errorf("failed to requeue expired leases: %w", err)
	}
	if len(reply) == 0 {
		return RequeueResult{}, nil
	}

	requeued, _ := strconv.Atoi(reply[0])
	return RequeueResult{
		Requeued:     requeued,
		FailedJobIDs: reply[1:],
	}, nil
}

func (q *RedisJobQueue) Get(ctx context.Context, jobID string) (*JobInfo, error) {
	values, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %q: %w", jobID, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("job %q: %w", jobID, domain.ErrNotFound)
	}

	info := &JobInfo{
		ID:        values["id"],
		State:     JobState(values["state"]),
		LastError: values["lastError"],
	}
	_ = json.Unmarshal([]byte(values["payload"]), &info.Payload)
	info.Attempts, _ = strconv.Atoi(values["attempts"])
	info.MaxAttempts, _ = strconv.Atoi(values["maxAttempts"])
	info.RunAt = parseMillis(values["runAt"])
	info.CreatedAt = parseMillis(values["createdAt"])
	if raw, ok := values["finishedAt"]; ok && raw != "" {
		finishedAt := parseMillis(raw)
		info.FinishedAt = &finishedAt
	}

	return info, nil
}

func (q *RedisJobQueue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	delayed := pipe.ZCard(ctx, q.delayedKey())
	active := pipe.ZCard(ctx, q.activeKey())
	completed := pipe.LLen(ctx, q.completedKey())
	failed := pipe.LLen(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	return Counts{
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (q *RedisJobQueue) jobKeyPrefix() string { return q.name + ":job:" }
func (q *RedisJobQueue) jobKey(id string) string { return q.jobKeyPrefix() + id }
func (q *RedisJobQueue) delayedKey() string      { return q.name + ":delayed" }
func (q *RedisJobQueue) activeKey() string       { return q.name + ":active" }
func (q *RedisJobQueue) completedKey() string    { return q.name + ":completed" }
func (q *RedisJobQueue) failedKey() string       { return q.name + ":failed" }

func parseMillis(raw string) time.Time {
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
