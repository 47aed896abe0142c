package models

import "time"

// Activation sources. Processor-verified and provisional activations must be
// distinguishable in reporting even though both end in status active.
const (
	ActivationSourceProcessor   = "processor"
	ActivationSourceCheckout    = "checkout"
	ActivationSourceProvisional = "provisional"
)

// SubscriptionActivation is the audit trail for every write that sets a
// business profile to active: which path did it, when, and why.
type SubscriptionActivation struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	BusinessProfileID uint      `gorm:"not null;index" json:"business_profile_id"`
	Source            string    `gorm:"type:varchar(20);not null;index" json:"source"`
	Reason            string    `gorm:"type:varchar(255)" json:"reason"`
	RunID             string    `gorm:"type:char(36);default:null;index" json:"run_id,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
