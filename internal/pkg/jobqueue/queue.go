package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/metrics"
)

const (
	// Redis key prefixes
	JobKeyPrefix       = "job:"
	JobUniqueKeyPrefix = "job_unique:"
	JobQueueKey        = "job_queue"
	JobProcessingKey   = "job_processing"
	JobStatsKey        = "job_stats"

	DefaultMaxRetries = 3
	DefaultWorkers    = 2
	JobTTL            = 24 * time.Hour
)

var ErrNoHandler = errors.New("jobqueue: no handler registered")

// Handler executes one job. A returned error marks the job failed and
// schedules a retry while retries remain.
type Handler func(ctx context.Context, job *Job) error

// Queue manages background jobs using Redis
type Queue struct {
	client     *redis.Client
	workers    int
	workerPool chan struct{}
	handlers   map[JobType]Handler
	stopCh     chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	stuckAge      time.Duration
	stuckInterval time.Duration
	retryDelay    time.Duration
}

func NewQueue(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Queue{
		client:        client,
		workers:       workers,
		workerPool:    make(chan struct{}, workers),
		handlers:      make(map[JobType]Handler),
		stopCh:        make(chan struct{}),
		stuckAge:      10 * time.Minute,
		stuckInterval: time.Minute,
		retryDelay:    time.Minute,
	}
}

// Handle registers the handler for jobType. Register before Start.
func (q *Queue) Handle(jobType JobType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

func (q *Queue) handler(jobType JobType) (Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	q.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	// recovers jobs left in processing by a crashed worker
	q.wg.Add(1)
	go q.stuckSweeper(ctx, q.stuckAge, q.stuckInterval)
}

// Stop stops the job queue workers and waits for running jobs.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.cancel()
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	for len(q.workerPool) > 0 {
		<-q.workerPool
	}
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) stuckSweeper(ctx context.Context, maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if n, err := q.RecoverStuck(ctx, maxAge); err != nil {
				log.Errorf("[JobQueue] Sweeper error: %v", err)
			} else if n > 0 {
				log.Warnf("[JobQueue] Recovered %d stuck jobs", n)
			}
		}
	}
}

// RecoverStuck moves jobs that have been processing for longer than maxAge
// back to the pending queue and drops processing entries without job data.
func (q *Queue) RecoverStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	now := time.Now()
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Sweeper could not load job %s: %v", id, err)
			}
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}

		started := job.UpdatedAt
		if job.ProcessedAt != nil && !job.ProcessedAt.IsZero() {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= maxAge {
			continue
		}

		log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, now.Sub(started))
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered by sweeper"
		job.UpdatedAt = now
		if err := q.requeueJob(ctx, job); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	for {
		select {
		case <-q.stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		case <-q.workerPool:
		}

		job, err := q.dequeueJob(ctx)
		if err != nil {
			q.workerPool <- struct{}{}
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
			time.Sleep(time.Second)
			continue
		}

		log.Debugf("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
		q.processJob(ctx, job)
		q.workerPool <- struct{}{}
	}
}

// EnqueueJob adds a new job to the queue
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	job := newJob(jobType, payload)
	if err := q.push(ctx, job); err != nil {
		return nil, err
	}
	log.Debugf("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

// EnqueueUnique adds a job unless a job with the same type and key is still
// queued or running. It reports whether a job was enqueued.
func (q *Queue) EnqueueUnique(ctx context.Context, jobType JobType, key string, payload map[string]interface{}) (*Job, bool, error) {
	job := newJob(jobType, payload)
	job.UniqueKey = uniqueKey(jobType, key)

	ok, err := q.client.SetNX(ctx, job.UniqueKey, job.ID, JobTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve job key: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	if err := q.push(ctx, job); err != nil {
		_ = q.client.Del(ctx, job.UniqueKey).Err()
		return nil, false, err
	}
	return job, true, nil
}

func uniqueKey(jobType JobType, key string) string {
	return JobUniqueKeyPrefix + string(jobType) + ":" + key
}

func newJob(jobType JobType, payload map[string]interface{}) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// dequeueJob moves the next job id to the processing list and loads the job.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	jobID, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		q.removeFromProcessing(ctx, jobID)
		return nil, fmt.Errorf("job data not found for ID %s: %w", jobID, err)
	}
	return job, nil
}

// processJob runs a job through its handler and records the outcome.
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	err := ErrNoHandler
	if h, ok := q.handler(job.Type); ok {
		err = h(ctx, job)
	}

	if err == nil {
		job.MarkAsCompleted()
		metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), string(JobStatusCompleted)).Inc()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeCompletedJob(ctx, job)
		q.removeFromProcessing(ctx, job.ID)
		return
	}

	log.Errorf("[JobQueue] Job %s (%s) failed: %v", job.ID, job.Type, err)
	job.MarkAsFailed(err.Error())

	if job.IsRetryable() && !errors.Is(err, ErrNoHandler) {
		log.Infof("[JobQueue] Retrying job %s (Attempt %d/%d)", job.ID, job.RetryCount, job.MaxRetries)
		job.MarkAsRetrying()
		q.updateJob(ctx, job)
		q.removeFromProcessing(ctx, job.ID)
		metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), string(JobStatusRetrying)).Inc()

		id := job.ID
		time.AfterFunc(q.retryDelay*time.Duration(job.RetryCount), func() {
			if err := q.client.LPush(context.Background(), JobQueueKey, id).Err(); err != nil {
				log.Errorf("[JobQueue] Failed to requeue job %s for retry: %v", id, err)
			}
		})
		return
	}

	log.Errorf("[JobQueue] Job %s permanently failed after %d attempts", job.ID, job.RetryCount)
	metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), string(JobStatusFailed)).Inc()
	q.updateJobStats(ctx, JobStatusFailed, 1)
	q.updateJob(ctx, job)
	q.releaseUnique(ctx, job)
	q.removeFromProcessing(ctx, job.ID)
}

func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}

	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

// requeueJob moves a job back to the pending queue and resets its status
func (q *Queue) requeueJob(ctx context.Context, job *Job) error {
	job.Status = JobStatusPending
	job.UpdatedAt = time.Now()
	q.updateJob(ctx, job)
	if err := q.client.LRem(ctx, JobProcessingKey, 1, job.ID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing: %v", job.ID, err)
	}
	if err := q.client.RPush(ctx, JobQueueKey, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

// removeCompletedJob deletes a completed job and frees its unique key.
func (q *Queue) removeCompletedJob(ctx context.Context, job *Job) {
	if err := q.client.Del(ctx, JobKeyPrefix+job.ID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove completed job %s from Redis: %v", job.ID, err)
	}
	q.releaseUnique(ctx, job)
}

func (q *Queue) releaseUnique(ctx context.Context, job *Job) {
	if job.UniqueKey == "" {
		return
	}
	if err := q.client.Del(ctx, job.UniqueKey).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to release key %s: %v", job.UniqueKey, err)
	}
}

func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID. A missing job returns redis.Nil.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if countInt, err := json.Number(count).Int64(); err == nil {
			result[JobStatus(status)] = countInt
		}
	}
	return result, nil
}

func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}
