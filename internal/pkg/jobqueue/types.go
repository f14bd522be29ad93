package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypePeriodReset   JobType = "period_reset"
	JobTypeWebhookReplay JobType = "webhook_replay"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	UniqueKey   string                 `json:"unique_key,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// PeriodResetJobPayload rolls the usage period of one account.
type PeriodResetJobPayload struct {
	AccountID uint      `json:"account_id"`
	DueAt     time.Time `json:"due_at"`
}

func (p PeriodResetJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"account_id": p.AccountID,
		"due_at":     p.DueAt.UTC().Format(time.RFC3339),
	}
}

func PeriodResetJobPayloadFromMap(data map[string]interface{}) (*PeriodResetJobPayload, error) {
	return payloadFromMap[PeriodResetJobPayload](data)
}

// WebhookReplayJobPayload reprocesses a stored webhook event that was never
// marked processed.
type WebhookReplayJobPayload struct {
	ProviderEventID string `json:"provider_event_id"`
	Attempts        int    `json:"attempts"`
}

func (p WebhookReplayJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"provider_event_id": p.ProviderEventID,
		"attempts":          p.Attempts,
	}
}

func WebhookReplayJobPayloadFromMap(data map[string]interface{}) (*WebhookReplayJobPayload, error) {
	return payloadFromMap[WebhookReplayJobPayload](data)
}

// payloadFromMap round-trips through JSON; numbers stored in Redis come back as float64.
func payloadFromMap[T any](data map[string]interface{}) (*T, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload T
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
