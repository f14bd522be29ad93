package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/billing"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/config"
)

type recordingEnqueuer struct {
	keys map[string]JobType
	jobs []*Job
}

func (r *recordingEnqueuer) EnqueueUnique(_ context.Context, jobType JobType, key string, payload map[string]interface{}) (*Job, bool, error) {
	if r.keys == nil {
		r.keys = map[string]JobType{}
	}
	if _, seen := r.keys[uniqueKey(jobType, key)]; seen {
		return nil, false, nil
	}
	r.keys[uniqueKey(jobType, key)] = jobType
	job := newJob(jobType, payload)
	r.jobs = append(r.jobs, job)
	return job, true, nil
}

type fakePeriods struct {
	due   []uint
	reset []uint
}

func (f *fakePeriods) DueAccounts(context.Context, time.Time, int) ([]uint, error) {
	return f.due, nil
}

func (f *fakePeriods) ResetPeriod(_ context.Context, id uint, _ time.Time) (bool, error) {
	f.reset = append(f.reset, id)
	return true, nil
}

type fakeEvents struct {
	events   []models.BillingWebhookEvent
	replayed []string
	err      error
}

func (f *fakeEvents) ListUnprocessed(context.Context, time.Time, int) ([]models.BillingWebhookEvent, error) {
	return f.events, nil
}

func (f *fakeEvents) Replay(_ context.Context, id string) (billing.IngestResult, error) {
	f.replayed = append(f.replayed, id)
	if f.err != nil {
		return billing.IngestResult{}, f.err
	}
	return billing.IngestResult{Accepted: true, Reason: billing.ReasonProcessed, EventID: id}, nil
}

func newTestManager(periods *fakePeriods, events *fakeEvents) (*Manager, *recordingEnqueuer) {
	q := NewQueue(nil, 1)
	m := NewManager(q, nil, config.Jobs{BatchSize: 10, ReplayOlderThan: time.Minute}, periods, events, events)
	rec := &recordingEnqueuer{}
	m.enqueue = rec
	return m, rec
}

func TestSweepDuePeriods_EnqueuesOncePerAccount(t *testing.T) {
	periods := &fakePeriods{due: []uint{1, 2}}
	m, rec := newTestManager(periods, &fakeEvents{})

	n, err := m.SweepDuePeriods(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// still queued: the next tick adds nothing
	n, err = m.SweepDuePeriods(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.Len(t, rec.jobs, 2)
	assert.Equal(t, JobTypePeriodReset, rec.jobs[0].Type)

	for _, job := range rec.jobs {
		require.NoError(t, m.handlePeriodReset(context.Background(), job))
	}
	assert.Equal(t, []uint{1, 2}, periods.reset)
}

func TestSweepStaleEvents_SkipsPoisonEvents(t *testing.T) {
	events := &fakeEvents{events: []models.BillingWebhookEvent{
		{ProviderEventID: "evt_1", Attempts: 1},
		{ProviderEventID: "evt_2", Attempts: maxReplayAttempts},
	}}
	m, rec := newTestManager(&fakePeriods{}, events)

	n, err := m.SweepStaleEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, rec.jobs, 1)

	require.NoError(t, m.handleWebhookReplay(context.Background(), rec.jobs[0]))
	assert.Equal(t, []string{"evt_1"}, events.replayed)
}

func TestHandleWebhookReplay(t *testing.T) {
	events := &fakeEvents{}
	m, _ := newTestManager(&fakePeriods{}, events)
	job := newJob(JobTypeWebhookReplay, WebhookReplayJobPayload{ProviderEventID: "evt_9"}.ToMap())

	events.err = billing.ErrEventNotFound
	assert.NoError(t, m.handleWebhookReplay(context.Background(), job))

	events.err = errors.New("deadlock")
	assert.Error(t, m.handleWebhookReplay(context.Background(), job))
}

func TestManager_RegistersHandlers(t *testing.T) {
	m, _ := newTestManager(&fakePeriods{}, &fakeEvents{})

	_, ok := m.GetQueue().handler(JobTypePeriodReset)
	assert.True(t, ok)
	_, ok = m.GetQueue().handler(JobTypeWebhookReplay)
	assert.True(t, ok)
}

func TestManager_StopWithoutStart(t *testing.T) {
	m, _ := newTestManager(&fakePeriods{}, &fakeEvents{})

	assert.False(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManager_StartRejectsBadSchedule(t *testing.T) {
	m, _ := newTestManager(&fakePeriods{}, &fakeEvents{})
	m.cfg.PeriodResetSchedule = "every now and then"

	assert.Error(t, m.Start())
	assert.False(t, m.IsRunning())
}
