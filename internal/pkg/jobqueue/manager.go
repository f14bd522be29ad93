package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/billing"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/config"
)

const (
	sweepLockPrefix = "lock:sweep:"
	sweepTimeout    = 2 * time.Minute
	// events failing this often are left for manual replay
	maxReplayAttempts = 20
)

// PeriodResetter rolls usage periods over.
type PeriodResetter interface {
	DueAccounts(ctx context.Context, now time.Time, limit int) ([]uint, error)
	ResetPeriod(ctx context.Context, accountID uint, now time.Time) (bool, error)
}

// PendingEvents lists webhook events that were stored but never processed.
type PendingEvents interface {
	ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]models.BillingWebhookEvent, error)
}

// EventReplayer reprocesses a stored webhook event.
type EventReplayer interface {
	Replay(ctx context.Context, providerEventID string) (billing.IngestResult, error)
}

type enqueuer interface {
	EnqueueUnique(ctx context.Context, jobType JobType, key string, payload map[string]interface{}) (*Job, bool, error)
}

// Manager owns the queue workers and the cron sweeps that feed them.
type Manager struct {
	queue    *Queue
	enqueue  enqueuer
	cron     *cron.Cron
	locker   *redsync.Redsync
	cfg      config.Jobs
	periods  PeriodResetter
	pending  PendingEvents
	replayer EventReplayer
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

// NewManager registers the job handlers on queue. locker may be nil, then
// sweeps run without a cross-instance lock.
func NewManager(queue *Queue, locker *redsync.Redsync, cfg config.Jobs, periods PeriodResetter, pending PendingEvents, replayer EventReplayer) *Manager {
	m := &Manager{
		queue:    queue,
		enqueue:  queue,
		locker:   locker,
		cfg:      cfg,
		periods:  periods,
		pending:  pending,
		replayer: replayer,
		now:      time.Now,
	}
	if queue != nil {
		queue.Handle(JobTypePeriodReset, m.handlePeriodReset)
		queue.Handle(JobTypeWebhookReplay, m.handleWebhookReplay)
	}
	return m
}

func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the workers and schedules the sweeps.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(m.cfg.PeriodResetSchedule, m.cronJob("period_reset", m.SweepDuePeriods)); err != nil {
		return fmt.Errorf("schedule period reset sweep: %w", err)
	}
	if _, err := c.AddFunc(m.cfg.ReplaySchedule, m.cronJob("webhook_replay", m.SweepStaleEvents)); err != nil {
		return fmt.Errorf("schedule webhook replay sweep: %w", err)
	}

	m.queue.Start()
	c.Start()
	m.cron = c
	m.running = true
	log.Infof("[JobQueue Manager] Started (period reset %q, webhook replay %q)", m.cfg.PeriodResetSchedule, m.cfg.ReplaySchedule)
	return nil
}

// Stop waits up to five seconds for running sweeps, then stops the workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping sweeps and workers...")
	select {
	case <-m.cron.Stop().Done():
	case <-time.After(5 * time.Second):
		log.Warn("[JobQueue Manager] Sweeps still running after 5s, stopping workers anyway")
	}
	m.queue.Stop()
	m.running = false
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// cronJob wraps a sweep with a timeout and, with several server instances,
// a Redis lock so only one of them sweeps per tick.
func (m *Manager) cronJob(name string, sweep func(context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		if m.locker != nil {
			mutex := m.locker.NewMutex(sweepLockPrefix+name, redsync.WithExpiry(sweepTimeout), redsync.WithTries(1))
			if err := mutex.LockContext(ctx); err != nil {
				// another instance holds the lock for this tick
				log.Debugf("[JobQueue Manager] %s sweep skipped: %v", name, err)
				return
			}
			defer func() {
				if ok, err := mutex.Unlock(); !ok || err != nil {
					log.Warnf("[JobQueue Manager] %s sweep unlock: %v", name, err)
				}
			}()
		}

		n, err := sweep(ctx)
		if err != nil {
			log.Errorf("[JobQueue Manager] %s sweep failed: %v", name, err)
			return
		}
		if n > 0 {
			log.Infof("[JobQueue Manager] %s sweep enqueued %d jobs", name, n)
		}
	}
}

// SweepDuePeriods enqueues a reset job for every account whose usage period elapsed.
func (m *Manager) SweepDuePeriods(ctx context.Context) (int, error) {
	now := m.now().UTC()
	ids, err := m.periods.DueAccounts(ctx, now, m.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, id := range ids {
		key := strconv.FormatUint(uint64(id), 10)
		_, ok, err := m.enqueue.EnqueueUnique(ctx, JobTypePeriodReset, key, PeriodResetJobPayload{AccountID: id, DueAt: now}.ToMap())
		if err != nil {
			return enqueued, err
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, nil
}

// SweepStaleEvents enqueues a replay job for webhook events that were
// received but not processed within ReplayOlderThan.
func (m *Manager) SweepStaleEvents(ctx context.Context) (int, error) {
	olderThan := m.now().Add(-m.cfg.ReplayOlderThan)
	events, err := m.pending.ListUnprocessed(ctx, olderThan, m.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, ev := range events {
		if ev.Attempts >= maxReplayAttempts {
			log.Warnf("[JobQueue Manager] event %s failed %d times, skipping automatic replay", ev.ProviderEventID, ev.Attempts)
			continue
		}
		payload := WebhookReplayJobPayload{ProviderEventID: ev.ProviderEventID, Attempts: ev.Attempts}
		_, ok, err := m.enqueue.EnqueueUnique(ctx, JobTypeWebhookReplay, ev.ProviderEventID, payload.ToMap())
		if err != nil {
			return enqueued, err
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, nil
}

func (m *Manager) handlePeriodReset(ctx context.Context, job *Job) error {
	payload, err := PeriodResetJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	_, err = m.periods.ResetPeriod(ctx, payload.AccountID, m.now())
	return err
}

func (m *Manager) handleWebhookReplay(ctx context.Context, job *Job) error {
	payload, err := WebhookReplayJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	res, err := m.replayer.Replay(ctx, payload.ProviderEventID)
	if errors.Is(err, billing.ErrEventNotFound) {
		log.Warnf("[JobQueue Manager] event %s vanished before replay", payload.ProviderEventID)
		return nil
	}
	if err != nil {
		return err
	}
	log.Infof("[JobQueue Manager] replayed event %s: %s", payload.ProviderEventID, res.Reason)
	return nil
}
