package models

import "time"

const (
	UpgradeStatusPending  = "pending"
	UpgradeStatusApproved = "approved"
	UpgradeStatusRejected = "rejected"
)

// UpgradeRequest is a user-initiated plan change. PendingKey carries the
// account id while the request is pending and is cleared on approval or
// rejection; its unique index allows at most one pending request per account.
type UpgradeRequest struct {
	ID            uint       `gorm:"primaryKey" json:"-"`
	PublicID      string     `gorm:"type:char(36);not null;uniqueIndex" json:"request_id"`
	AccountID     uint       `gorm:"not null;index" json:"account_id"`
	FromPlan      string     `gorm:"type:varchar(50);not null" json:"from_plan"`
	ToPlan        string     `gorm:"type:varchar(50);not null" json:"to_plan"`
	Amount        int64      `gorm:"not null" json:"amount"`
	Status        string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	PaymentMethod string     `gorm:"type:varchar(64);not null;default:''" json:"payment_method"`
	PaymentRef    string     `gorm:"type:varchar(191);not null;default:''" json:"payment_ref"`
	RejectReason  string     `gorm:"type:varchar(255);not null;default:''" json:"reject_reason,omitempty"`
	PendingKey    *string    `gorm:"type:varchar(32);uniqueIndex" json:"-"`
	DecidedAt     *time.Time `gorm:"type:timestamp;default:null" json:"decided_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPending reports whether the request still awaits a payment decision.
func (r *UpgradeRequest) IsPending() bool {
	return r != nil && r.Status == UpgradeStatusPending
}
