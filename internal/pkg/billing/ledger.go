package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/ExpandFox/app/models"
)

var ErrEventNotFound = errors.New("billing: event not found")

// maximum stored length of a processing error
const maxProcessingError = 2000

// RecordInput is one delivered provider event.
type RecordInput struct {
	ProviderEventID string
	EventType       string
	Payload         []byte
	ReceivedAt      time.Time
}

type RecordResult struct {
	IsNew bool
	Event *models.BillingWebhookEvent
}

// Ledger is the append-only store of provider events and the authority on
// whether an event was seen before. Deduplication relies on the unique index
// on provider_event_id, never on a prior read.
type Ledger struct {
	db       *gorm.DB
	provider string
}

func NewLedger(db *gorm.DB, provider string) *Ledger {
	return &Ledger{db: db, provider: provider}
}

// Record inserts the event unless its id is already stored. A duplicate is
// not an error: IsNew is false and the stored row is returned.
func (l *Ledger) Record(ctx context.Context, in RecordInput) (RecordResult, error) {
	event := &models.BillingWebhookEvent{
		Provider:        l.provider,
		ProviderEventID: in.ProviderEventID,
		EventType:       in.EventType,
		Payload:         datatypes.JSON(in.Payload),
		ReceivedAt:      in.ReceivedAt.UTC().Truncate(time.Second),
	}

	tx := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return RecordResult{}, fmt.Errorf("record event %s: %w", in.ProviderEventID, tx.Error)
	}

	stored, err := l.Get(ctx, in.ProviderEventID)
	if err != nil {
		return RecordResult{}, err
	}
	return RecordResult{IsNew: tx.RowsAffected > 0, Event: stored}, nil
}

func (l *Ledger) Get(ctx context.Context, providerEventID string) (*models.BillingWebhookEvent, error) {
	var stored models.BillingWebhookEvent
	err := l.db.WithContext(ctx).Where("provider_event_id = ?", providerEventID).First(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", providerEventID, err)
	}
	return &stored, nil
}

// MarkProcessed sets processed_at once; later calls leave the first value.
func (l *Ledger) MarkProcessed(ctx context.Context, id uint) error {
	now := time.Now().UTC().Truncate(time.Second)
	return l.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]interface{}{
			"processed_at":     now,
			"processing_error": "",
			"attempts":         gorm.Expr("attempts + 1"),
		}).Error
}

// MarkFailed records a failed processing attempt. processed_at stays NULL so
// a provider retry or the replay sweep processes the event again.
func (l *Ledger) MarkFailed(ctx context.Context, id uint, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]interface{}{
			"processing_error": truncateUTF8(msg, maxProcessingError),
			"attempts":         gorm.Expr("attempts + 1"),
		}).Error
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ListUnprocessed returns events received before olderThan that were never
// processed, oldest first.
func (l *Ledger) ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]models.BillingWebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.BillingWebhookEvent
	err := l.db.WithContext(ctx).
		Where("processed_at IS NULL AND received_at < ?", olderThan.UTC()).
		Order("received_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	return events, nil
}
