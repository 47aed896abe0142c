package models

import "time"

const (
	ORDER_PENDING  = "pending"
	ORDER_PAID     = "paid"
	ORDER_FAILED   = "failed"
	ORDER_REFUNDED = "refunded"
)

// Order is a one-off purchase (featured placement, event promotion) paid
// through the processor outside of a subscription.
type Order struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	UserID                uint      `gorm:"not null;index" json:"user_id"`
	OrderNumber           string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_number"`
	Description           string    `gorm:"type:varchar(255)" json:"description"`
	TotalCents            int64     `gorm:"not null;default:0" json:"total_cents"`
	Status                string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	StripeSessionID       string    `gorm:"type:varchar(191);default:null;index" json:"-"`
	StripePaymentIntentID string    `gorm:"type:varchar(191);default:null;index" json:"-"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
