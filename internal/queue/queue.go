package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrEmpty = errors.New("queue empty")

const (
	JobVerifyRecheck    = "verify_recheck"
	JobIssueCertificate = "issue_certificate"
	JobRenewCertificate = "renew_certificate"
	JobDomainCleanup    = "domain_cleanup"
	JobHealthCheck      = "health_check"
)

type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	MappingID string    `json:"mapping_id"`
	TenantID  string    `json:"tenant_id"`
	Attempt   int       `json:"attempt"`
	ReadyAt   time.Time `json:"ready_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Enqueuer is what services see; the full queue also pops.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job) error
}

// RedisQueue holds jobs in a sorted set scored by ready-at time, so
// delayed work (verification backoff, retry-after hints) needs no extra
// machinery: a job simply is not due until the clock passes its score.
type RedisQueue struct {
	client    *redis.Client
	queueName string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:    client,
		queueName: "domain_jobs",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.ReadyAt.IsZero() {
		job.ReadyAt = time.Now()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.client.ZAdd(ctx, q.queueName, redis.Z{
		Score:  float64(job.ReadyAt.Unix()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}

	return nil
}

// PopDue removes and returns the oldest job whose ready-at time has
// passed, or ErrEmpty when nothing is due yet.
func (q *RedisQueue) PopDue(ctx context.Context, now time.Time) (*Job, error) {
	members, err := q.client.ZRangeByScore(ctx, q.queueName, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrEmpty
	}

	// ZRem returns 0 when another worker claimed the job first; the caller
	// just polls again.
	removed, err := q.client.ZRem(ctx, q.queueName, members[0]).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if removed == 0 {
		return nil, ErrEmpty
	}

	var job Job
	if err := json.Unmarshal([]byte(members[0]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// Cancel drops all pending jobs for a mapping. Best-effort: jobs already
// claimed by a worker are beyond reach, which removal tolerates.
func (q *RedisQueue) Cancel(ctx context.Context, mappingID string) error {
	members, err := q.client.ZRange(ctx, q.queueName, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, member := range members {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			continue
		}
		if job.MappingID == mappingID {
			q.client.ZRem(ctx, q.queueName, member)
		}
	}
	return nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueName).Result()
}
