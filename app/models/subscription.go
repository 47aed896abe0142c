package models

import "time"

const (
	BillingIntervalMonthly = "monthly"
	BillingIntervalYearly  = "yearly"
)

// Raw processor subscription status strings mirrored into local rows.
const (
	BillingStatusActive     = "active"
	BillingStatusTrialing   = "trialing"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
	BillingStatusUnpaid     = "unpaid"
)

// Subscription mirrors a processor subscription into the local datastore.
// Rows are upserted keyed on StripeSubscriptionID and never deleted; a
// terminated subscription transitions to status canceled instead.
type Subscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"not null;index" json:"user_id"`
	PlanID               uint       `gorm:"not null;index" json:"plan_id"`
	Status               string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"stripe_subscription_id"`
	StripeCustomerID     string     `gorm:"type:varchar(191);not null;index" json:"stripe_customer_id"`
	CurrentPeriodStart   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	Interval             string     `gorm:"type:varchar(16);not null;default:'monthly'" json:"interval"`
	CancelAtPeriodEnd    bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCurrentlyActive reports whether the row is active and its period has not
// ended. A missing period end counts as active until told otherwise.
func (s *Subscription) IsCurrentlyActive(now time.Time) bool {
	if s.Status != BillingStatusActive {
		return false
	}
	if s.CurrentPeriodEnd == nil {
		return true
	}
	return s.CurrentPeriodEnd.After(now)
}
