// Package queue is the durable job queue behind score jobs: a Redis-backed
// ready list with leased in-flight entries, delayed retries and terminal sets.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"scoring-service/internal/backoff"
	"scoring-service/internal/config"
)

var (
	// ErrLeaseLost is returned when a claim no longer owns its entry, either
	// because the lease expired and the entry was reclaimed or it was never held.
	ErrLeaseLost = errors.New("queue: lease lost")
	// ErrEntryNotFound is returned for ids the queue holds no metadata for.
	ErrEntryNotFound = errors.New("queue: entry not found")
)

// State is the position of an entry in the queue.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Options control how a single entry is retried. Zero fields fall back to the
// queue defaults.
type Options struct {
	MaxAttempts int
	Backoff     backoff.Exponential
	// Delay postpones the first attempt.
	Delay time.Duration
}

// Entry is the queue's view of one job.
type Entry struct {
	JobID        string
	Payload      json.RawMessage
	AttemptsMade int
	MaxAttempts  int
	Backoff      backoff.Exponential
	State        State
	LastError    string
	CreatedAt    time.Time
}

// Claim is an entry leased to one consumer until Deadline.
type Claim struct {
	Entry
	Lease    string
	Deadline time.Time
}

// FailResult reports what happened to an entry after a failed attempt.
type FailResult struct {
	AttemptsMade int
	Exhausted    bool
	RetryAt      time.Time
}

// Reclaimed is an entry whose lease expired without a completion.
type Reclaimed struct {
	JobID        string
	AttemptsMade int
	Exhausted    bool
}

// Metrics are point-in-time entry counts per state.
type Metrics struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// RedisQueue coordinates waiting, active, delayed and terminal entries in Redis.
type RedisQueue struct {
	client       *redis.Client
	waitingKey   string
	activeKey    string
	delayedKey   string
	completedKey string
	failedKey    string
	metaPrefix   string
	leaseTTL     time.Duration
	retention    time.Duration
	defaults     Options
	now          func() time.Time
}

// Option customizes a RedisQueue.
type Option func(*RedisQueue)

// WithClock replaces the wall clock used for lease deadlines and retry times.
func WithClock(now func() time.Time) Option {
	return func(q *RedisQueue) { q.now = now }
}

// WithLeaseTimeout overrides how long a claim is held without renewal.
func WithLeaseTimeout(d time.Duration) Option {
	return func(q *RedisQueue) {
		if d > 0 {
			q.leaseTTL = d
		}
	}
}

// NewRedisQueue builds a queue named by cfg.QueueName on an existing client.
func NewRedisQueue(client *redis.Client, cfg config.Config, opts ...Option) *RedisQueue {
	name := cfg.QueueName
	if name == "" {
		name = "scoring-jobs"
	}
	lease := cfg.LeaseTimeout
	if lease == 0 {
		lease = 30 * time.Second
	}
	retention := cfg.ScoreJobTTL
	if retention == 0 {
		retention = 7 * 24 * time.Hour
	}
	maxAttempts := cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	policy := backoff.Default()
	if cfg.RetryDelay > 0 {
		policy.Initial = cfg.RetryDelay
	}
	if cfg.BackoffMultiplier >= 1 {
		policy.Multiplier = cfg.BackoffMultiplier
	}

	q := &RedisQueue{
		client:       client,
		waitingKey:   name + ":waiting",
		activeKey:    name + ":active",
		delayedKey:   name + ":delayed",
		completedKey: name + ":completed",
		failedKey:    name + ":failed",
		metaPrefix:   name + ":job:",
		leaseTTL:     lease,
		retention:    retention,
		defaults:     Options{MaxAttempts: maxAttempts, Backoff: policy},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// LeaseTimeout reports how long a claim stays valid without renewal.
func (q *RedisQueue) LeaseTimeout() time.Duration {
	return q.leaseTTL
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.metaPrefix + jobID
}

// Enqueue adds jobID with its payload. Enqueueing an id the queue already
// holds is a no-op that returns the existing entry with created=false.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, payload []byte, opts Options) (Entry, bool, error) {
	if jobID == "" {
		return Entry{}, false, errors.New("queue: empty job id")
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = q.defaults.MaxAttempts
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff.Initial = q.defaults.Backoff.Initial
	}
	if opts.Backoff.Multiplier < 1 {
		opts.Backoff.Multiplier = q.defaults.Backoff.Multiplier
	}
	now := q.now()
	runAt := now.Add(opts.Delay)

	res, err := enqueueScript.Run(ctx, q.client,
		[]string{q.metaKey(jobID), q.waitingKey, q.delayedKey},
		jobID,
		string(payload),
		opts.MaxAttempts,
		opts.Backoff.Initial.Milliseconds(),
		strconv.FormatFloat(opts.Backoff.Multiplier, 'f', -1, 64),
		opts.Backoff.Max.Milliseconds(),
		now.UnixMilli(),
		runAt.UnixMilli(),
	).Int()
	if err != nil {
		return Entry{}, false, fmt.Errorf("queue: enqueue %s: %w", jobID, err)
	}
	entry, err := q.Get(ctx, jobID)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, res == 1, nil
}

// promoteOnDequeue bounds how many due retries one Dequeue moves to waiting.
const promoteOnDequeue = 100

// Dequeue leases the oldest waiting entry, after moving retries that are due
// into waiting. It returns nil, nil when nothing is waiting.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Claim, error) {
	lease := uuid.NewString()
	now := q.now()
	deadline := now.Add(q.leaseTTL)
	id, err := dequeueScript.Run(ctx, q.client,
		[]string{q.waitingKey, q.activeKey, q.delayedKey},
		q.metaPrefix, deadline.UnixMilli(), lease, now.UnixMilli(), promoteOnDequeue,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	entry, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Claim{Entry: entry, Lease: lease, Deadline: deadline}, nil
}

// ExtendLease pushes the claim's deadline out by a full lease timeout.
func (q *RedisQueue) ExtendLease(ctx context.Context, claim *Claim) error {
	deadline := q.now().Add(q.leaseTTL)
	ok, err := extendScript.Run(ctx, q.client,
		[]string{q.metaKey(claim.JobID), q.activeKey},
		claim.JobID, claim.Lease, deadline.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("queue: extend lease %s: %w", claim.JobID, err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	claim.Deadline = deadline
	return nil
}

// Complete marks the claimed entry successful.
func (q *RedisQueue) Complete(ctx context.Context, claim *Claim) error {
	ok, err := completeScript.Run(ctx, q.client,
		[]string{q.metaKey(claim.JobID), q.activeKey, q.completedKey},
		claim.JobID, claim.Lease, q.now().UnixMilli(), q.retention.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("queue: complete %s: %w", claim.JobID, err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Fail records a failed attempt. The entry is scheduled for retry after its
// backoff delay, or moved to the failed set once its attempts are exhausted.
func (q *RedisQueue) Fail(ctx context.Context, claim *Claim, cause error) (FailResult, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := q.now()
	retryAt := now.Add(claim.Backoff.Delay(claim.AttemptsMade + 1))
	vals, err := failScript.Run(ctx, q.client,
		[]string{q.metaKey(claim.JobID), q.activeKey, q.delayedKey, q.failedKey},
		claim.JobID, claim.Lease, now.UnixMilli(), retryAt.UnixMilli(), msg, q.retention.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return FailResult{}, fmt.Errorf("queue: fail %s: %w", claim.JobID, err)
	}
	if len(vals) != 2 {
		return FailResult{}, fmt.Errorf("queue: fail %s: unexpected reply %v", claim.JobID, vals)
	}
	if vals[0] < 0 {
		return FailResult{}, ErrLeaseLost
	}
	res := FailResult{AttemptsMade: int(vals[0]), Exhausted: vals[1] == 1}
	if !res.Exhausted {
		res.RetryAt = retryAt
	}
	return res, nil
}

// PromoteScheduled moves delayed entries whose retry time has passed back to waiting.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, limit int) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey, q.waitingKey},
		q.now().UnixMilli(), limit, q.metaPrefix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: promote: %w", err)
	}
	return n, nil
}

// RequeueExpired reclaims active entries whose lease deadline has passed.
// Each reclaim counts as a failed attempt.
func (q *RedisQueue) RequeueExpired(ctx context.Context, limit int) ([]Reclaimed, error) {
	raw, err := reclaimScript.Run(ctx, q.client,
		[]string{q.activeKey, q.waitingKey, q.failedKey},
		q.now().UnixMilli(), limit, q.metaPrefix, q.retention.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("queue: requeue expired: %w", err)
	}
	out := make([]Reclaimed, 0, len(raw)/3)
	for i := 0; i+2 < len(raw); i += 3 {
		id, _ := raw[i].(string)
		attempts, _ := raw[i+1].(int64)
		exhausted, _ := raw[i+2].(int64)
		out = append(out, Reclaimed{JobID: id, AttemptsMade: int(attempts), Exhausted: exhausted == 1})
	}
	return out, nil
}

// Metrics returns entry counts per state. Completed and failed only grow
// until their entries age out with the retention window.
func (q *RedisQueue) Metrics(ctx context.Context) (Metrics, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.waitingKey)
	active := pipe.ZCard(ctx, q.activeKey)
	completed := pipe.ZCard(ctx, q.completedKey)
	failed := pipe.ZCard(ctx, q.failedKey)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Metrics{}, fmt.Errorf("queue: metrics: %w", err)
	}
	return Metrics{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

// Failed lists up to count ids from the failed set, most recent first.
func (q *RedisQueue) Failed(ctx context.Context, count int64) ([]string, error) {
	if count <= 0 {
		count = 10
	}
	ids, err := q.client.ZRevRange(ctx, q.failedKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: failed entries: %w", err)
	}
	return ids, nil
}

// Get returns the queue's metadata for jobID.
func (q *RedisQueue) Get(ctx context.Context, jobID string) (Entry, error) {
	fields, err := q.client.HGetAll(ctx, q.metaKey(jobID)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("queue: get %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return Entry{}, ErrEntryNotFound
	}
	return parseEntry(jobID, fields), nil
}

func parseEntry(jobID string, f map[string]string) Entry {
	atoi := func(k string) int64 {
		n, _ := strconv.ParseInt(f[k], 10, 64)
		return n
	}
	mult, _ := strconv.ParseFloat(f["backoff_multiplier"], 64)
	e := Entry{
		JobID:        jobID,
		AttemptsMade: int(atoi("attempts")),
		MaxAttempts:  int(atoi("max_attempts")),
		Backoff: backoff.Exponential{
			Initial:    time.Duration(atoi("backoff_initial_ms")) * time.Millisecond,
			Multiplier: mult,
			Max:        time.Duration(atoi("backoff_max_ms")) * time.Millisecond,
		},
		State:     State(f["state"]),
		LastError: f["last_error"],
		CreatedAt: time.UnixMilli(atoi("created_at_ms")).UTC(),
	}
	if p, ok := f["payload"]; ok && p != "" {
		e.Payload = json.RawMessage(p)
	}
	return e
}
