package models

import (
	"time"

	"gorm.io/gorm"
)

// SubscriptionPlan describes a purchasable tier for business profiles.
type SubscriptionPlan struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"type:varchar(100);not null" json:"name"`
	Slug             string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	PriceMonthly     int64     `gorm:"not null;default:0" json:"price_monthly"`
	PriceYearly      int64     `gorm:"not null;default:0" json:"price_yearly"`
	MaxListings      int       `gorm:"not null;default:10" json:"max_listings"`
	FeaturedListings bool      `gorm:"default:false" json:"featured_listings"`
	AnalyticsEnabled bool      `gorm:"default:false" json:"analytics_enabled"`
	IsActive         bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FirstActivePlan returns the lowest-id active plan. Plan selection order is
// deliberately deterministic so repeated fallback resolution picks the same
// plan.
func FirstActivePlan(db *gorm.DB) (*SubscriptionPlan, error) {
	var plan SubscriptionPlan
	if err := db.Where("is_active = ?", true).Order("id ASC").First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindPlanByID returns the plan with the given id.
func FindPlanByID(db *gorm.DB, id uint) (*SubscriptionPlan, error) {
	var plan SubscriptionPlan
	if err := db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}
