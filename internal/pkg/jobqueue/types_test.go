package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       Job
		retryable bool
	}{
		{"failed with retries left", Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}, true},
		{"failed without retries left", Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}, false},
		{"completed", Job{Status: JobStatusCompleted, RetryCount: 1, MaxRetries: 3}, false},
		{"pending", Job{Status: JobStatusPending, MaxRetries: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_Lifecycle(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 2}

	before := time.Now()
	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.ProcessedAt.Before(before))

	job.MarkAsFailed("boom")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "boom", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
}

// Payloads pass through Redis as JSON, so numbers come back as float64.
func TestPayloadsSurviveStorage(t *testing.T) {
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stored := roundTrip(t, PeriodResetJobPayload{AccountID: 42, DueAt: due}.ToMap())
	reset, err := PeriodResetJobPayloadFromMap(stored)
	require.NoError(t, err)
	assert.EqualValues(t, 42, reset.AccountID)
	assert.True(t, due.Equal(reset.DueAt))

	stored = roundTrip(t, WebhookReplayJobPayload{ProviderEventID: "evt_1", Attempts: 3}.ToMap())
	replay, err := WebhookReplayJobPayloadFromMap(stored)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", replay.ProviderEventID)
	assert.Equal(t, 3, replay.Attempts)
}

func TestPayloadFromMap_InvalidData(t *testing.T) {
	_, err := PeriodResetJobPayloadFromMap(map[string]interface{}{"account_id": "not-a-number"})
	assert.Error(t, err)
}

func roundTrip(t *testing.T, m map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(Job{Payload: m})
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.Unmarshal(data, &job))
	return job.Payload
}
