package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job states, matching the states exposed to the log history scan.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is a named unit of asynchronous work with a JSON payload.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Backoff     time.Duration   `json:"backoff"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Option configures a single enqueued job.
type Option func(*Job)

// WithAttempts sets how many delivery attempts the job gets before it is
// permanently failed. Default is 1 (no retry).
func WithAttempts(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// WithBackoff sets the base retry delay. The delay doubles on every
// subsequent attempt (exponential schedule).
func WithBackoff(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.Backoff = d
		}
	}
}

// Retention bounds how long and how many completed/failed jobs are kept.
// Whichever bound is hit first wins.
type Retention struct {
	Age   time.Duration
	Count int64
}

// Config configures a RedisQueue.
type Config struct {
	Addr     string
	Password string
	// Client overrides Addr/Password with a pre-built client. Used by
	// tests and by processes sharing one connection across queues.
	Client    *redis.Client
	Name      string
	Group     string
	Consumer  string
	Block     time.Duration
	ClaimIdle time.Duration
	MaxLen    int64
	ReadCount int64
	Retention Retention
}

// RedisQueue is a durable work queue over a Redis stream. Delivery is
// at-least-once: stalled messages are reclaimed after ClaimIdle. Job
// records live in hashes; per-state sorted sets double as job history.
type RedisQueue struct {
	client       *redis.Client
	name         string
	group        string
	consumerBase string
	block        time.Duration
	claimIdle    time.Duration
	maxLen       int64
	readCount    int64
	retention    Retention
	once         sync.Once

	mu          sync.RWMutex
	onCompleted func(Job)
	onFailed    func(Job)
}

// New builds a queue for the named stream.
func New(cfg Config) (*RedisQueue, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("queue name required")
	}
	client := cfg.Client
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("redis addr required")
		}
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "workers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	retention := cfg.Retention
	if retention.Age <= 0 {
		retention.Age = 7 * 24 * time.Hour
	}
	if retention.Count <= 0 {
		retention.Count = 1000
	}

	return &RedisQueue{
		client:       client,
		name:         name,
		group:        group,
		consumerBase: consumer,
		block:        block,
		claimIdle:    claimIdle,
		maxLen:       maxLen,
		readCount:    readCount,
		retention:    retention,
	}, nil
}

// OnCompleted registers a hook invoked after a job is durably completed.
func (q *RedisQueue) OnCompleted(fn func(Job)) {
	q.mu.Lock()
	q.onCompleted = fn
	q.mu.Unlock()
}

// OnFailed registers a hook invoked after a job exhausts its attempts.
func (q *RedisQueue) OnFailed(fn func(Job)) {
	q.mu.Lock()
	q.onFailed = fn
	q.mu.Unlock()
}

// Enqueue durably queues a named job. It returns once the job record and
// its stream entry are written; processing happens later.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any, opts ...Option) (Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Job{}, errors.New("job name required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal payload: %w", err)
	}
	now := time.Now().UTC()
	job := Job{
		ID:          uuid.NewString(),
		Name:        name,
		Payload:     raw,
		Status:      StatusWaiting,
		MaxAttempts: 1,
		Backoff:     2 * time.Second,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&job)
		}
	}
	if err := q.writeJob(ctx, job, ""); err != nil {
		return Job{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.streamKey(),
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": job.ID, "job_name": job.Name},
	}).Err(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Job loads a job record by ID.
func (q *RedisQueue) Job(ctx context.Context, id string) (Job, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Job{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	return decodeJob(id, data), true, nil
}

// Jobs returns the retained job records in the requested states, oldest
// first within each state. No states means all states.
func (q *RedisQueue) Jobs(ctx context.Context, statuses ...string) ([]Job, error) {
	if len(statuses) == 0 {
		statuses = []string{StatusWaiting, StatusActive, StatusCompleted, StatusFailed}
	}
	var jobs []Job
	for _, status := range statuses {
		ids, err := q.client.ZRange(ctx, q.statusKey(status), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			job, ok, err := q.Job(ctx, id)
			if err != nil {
				return nil, err
			}
			if ok {
				jobs = append(jobs, job)
			}
		}
	}
	return jobs, nil
}

// Run starts concurrency consumer goroutines pulling from the stream and
// invoking handler. A handler error requeues the job with exponential
// backoff until its attempts are exhausted, after which it is marked
// failed. Run returns immediately; consumers stop when ctx is done.
func (q *RedisQueue) Run(ctx context.Context, concurrency int, handler func(context.Context, Job) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		// "0" so jobs enqueued before the first worker started are seen.
		err := q.client.XGroupCreateMkStream(ctx, q.streamKey(), q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("create consumer group", "queue", q.name, "err", err)
		}
	})
}

func (q *RedisQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimStalled(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.streamKey(), ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisQueue) claimStalled(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.streamKey(),
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, Job) error) {
	jobID, _ := msg.Values["job_id"].(string)
	if jobID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markActive(ctx, jobID)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if err := handler(ctx, job); err == nil {
		job.Status = StatusCompleted
		job.Error = ""
		_ = q.writeJob(ctx, job, StatusActive)
		q.ackAndDel(ctx, msg.ID)
		if fn := q.completedHook(); fn != nil {
			fn(job)
		}
		return
	} else if job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		job.Error = err.Error()
		_ = q.writeJob(ctx, job, StatusActive)
		q.ackAndDel(ctx, msg.ID)
		if fn := q.failedHook(); fn != nil {
			fn(job)
		}
		return
	} else {
		slog.Warn("job attempt failed, will retry",
			"queue", q.name, "job", job.Name, "jobId", job.ID,
			"attempt", job.Attempts, "maxAttempts", job.MaxAttempts, "err", err)
		job.Status = StatusWaiting
		job.Error = err.Error()
		_ = q.writeJob(ctx, job, StatusActive)
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(retryDelay(job)):
	}
	_ = q.requeueAndAck(ctx, msg.ID, job)
}

// retryDelay doubles the base backoff on every attempt after the first.
func retryDelay(job Job) time.Duration {
	delay := job.Backoff
	for i := 1; i < job.Attempts; i++ {
		delay *= 2
	}
	return delay
}

func (q *RedisQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.streamKey(), q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.streamKey(), msgID).Result()
}

func (q *RedisQueue) requeueAndAck(ctx context.Context, msgID string, job Job) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.streamKey(),
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": job.ID, "job_name": job.Name},
	})
	pipe.XAck(ctx, q.streamKey(), q.group, msgID)
	pipe.XDel(ctx, q.streamKey(), msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) markActive(ctx context.Context, jobID string) (Job, error) {
	job, ok, err := q.Job(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, fmt.Errorf("job %s not found", jobID)
	}
	prev := job.Status
	job.Attempts++
	job.Status = StatusActive
	if err := q.writeJob(ctx, job, prev); err != nil {
		return Job{}, err
	}
	return job, nil
}

// writeJob persists the record, moves it between state sets, and trims
// retained history on terminal transitions.
func (q *RedisQueue) writeJob(ctx context.Context, job Job, prevStatus string) error {
	job.UpdatedAt = time.Now().UTC()
	payload := map[string]any{
		"name":        job.Name,
		"payload":     string(job.Payload),
		"status":      job.Status,
		"attempts":    strconv.Itoa(job.Attempts),
		"maxAttempts": strconv.Itoa(job.MaxAttempts),
		"backoffMs":   strconv.FormatInt(job.Backoff.Milliseconds(), 10),
		"error":       job.Error,
		"createdAt":   job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":   job.UpdatedAt.Format(time.RFC3339Nano),
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), payload)
	pipe.Expire(ctx, q.jobKey(job.ID), q.retention.Age)
	if prevStatus != "" && prevStatus != job.Status {
		pipe.ZRem(ctx, q.statusKey(prevStatus), job.ID)
	}
	pipe.ZAdd(ctx, q.statusKey(job.Status), redis.Z{
		Score:  float64(job.UpdatedAt.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if job.Status == StatusCompleted || job.Status == StatusFailed {
		q.trim(ctx, job.Status)
	}
	return nil
}

// trim enforces the retention policy on a terminal state set: entries
// older than Age or beyond the newest Count are purged with their records.
func (q *RedisQueue) trim(ctx context.Context, status string) {
	key := q.statusKey(status)
	cutoff := strconv.FormatInt(time.Now().UTC().Add(-q.retention.Age).UnixMilli(), 10)
	if expired, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result(); err == nil && len(expired) > 0 {
		for _, id := range expired {
			_ = q.client.Del(ctx, q.jobKey(id)).Err()
		}
		_ = q.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err()
	}
	total, err := q.client.ZCard(ctx, key).Result()
	if err != nil || total <= q.retention.Count {
		return
	}
	excess := total - q.retention.Count
	if over, err := q.client.ZRange(ctx, key, 0, excess-1).Result(); err == nil {
		for _, id := range over {
			_ = q.client.Del(ctx, q.jobKey(id)).Err()
		}
	}
	_ = q.client.ZRemRangeByRank(ctx, key, 0, excess-1).Err()
}

func (q *RedisQueue) completedHook() func(Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.onCompleted
}

func (q *RedisQueue) failedHook() func(Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.onFailed
}

func (q *RedisQueue) streamKey() string {
	return "docvault:queue:" + q.name
}

func (q *RedisQueue) jobKey(jobID string) string {
	return fmt.Sprintf("docvault:job:%s:%s", q.name, jobID)
}

func (q *RedisQueue) statusKey(status string) string {
	return fmt.Sprintf("docvault:queue:%s:%s", q.name, status)
}

func decodeJob(jobID string, data map[string]string) Job {
	job := Job{ID: jobID}
	job.Name = data["name"]
	if v := data["payload"]; v != "" {
		job.Payload = json.RawMessage(v)
	}
	job.Status = data["status"]
	job.Error = data["error"]
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		job.Attempts = n
	}
	if n, err := strconv.Atoi(data["maxAttempts"]); err == nil {
		job.MaxAttempts = n
	}
	if ms, err := strconv.ParseInt(data["backoffMs"], 10, 64); err == nil {
		job.Backoff = time.Duration(ms) * time.Millisecond
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		job.UpdatedAt = t
	}
	return job
}
