package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscription status values carried on a business profile. These are the
// app-facing states; the local Subscription rows mirror the raw processor
// status strings instead.
const (
	SUBSCRIPTION_NONE     = "none"
	SUBSCRIPTION_PENDING  = "pending"
	SUBSCRIPTION_ACTIVE   = "active"
	SUBSCRIPTION_PAST_DUE = "past_due"
	SUBSCRIPTION_CANCELED = "canceled"
)

// BusinessProfile is the directory-facing record for a business. Its
// subscription fields are a cache of billing state and are mutated only by
// the webhook handler and the batch reconciler.
type BusinessProfile struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	UserID               uint           `gorm:"not null;uniqueIndex" json:"user_id"`
	Name                 string         `gorm:"type:varchar(200);not null" json:"name" validate:"required,min=2,max=200"`
	Slug                 string         `gorm:"type:varchar(200);uniqueIndex;not null" json:"slug"`
	Description          string         `gorm:"type:text" json:"description"`
	SubscriptionStatus   string         `gorm:"type:varchar(20);not null;default:'none';index" json:"subscription_status"`
	StripeSubscriptionID string         `gorm:"type:varchar(191);default:null;index" json:"-"`
	StripeCustomerID     string         `gorm:"type:varchar(191);default:null;index" json:"-"`
	SubscriptionStart    *time.Time     `gorm:"type:timestamp;default:null" json:"subscription_start,omitempty"`
	SubscriptionEnd      *time.Time     `gorm:"type:timestamp;default:null" json:"subscription_end,omitempty"`
	PlanID               uint           `gorm:"default:null;index" json:"plan_id"`
	ActiveListingCount   int64          `gorm:"not null;default:0" json:"active_listing_count"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

// HasActiveSubscription reports whether the cached status is active.
func (p *BusinessProfile) HasActiveSubscription() bool {
	return p.SubscriptionStatus == SUBSCRIPTION_ACTIVE
}

// FindBusinessProfileByUserID returns the profile owned by the given user.
func FindBusinessProfileByUserID(db *gorm.DB, userID uint) (*BusinessProfile, error) {
	var profile BusinessProfile
	if err := db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindBusinessProfileByStripeCustomerID returns the profile linked to a
// Stripe customer id.
func FindBusinessProfileByStripeCustomerID(db *gorm.DB, customerID string) (*BusinessProfile, error) {
	var profile BusinessProfile
	if err := db.Where("stripe_customer_id = ?", customerID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindBusinessProfileBySlug returns the profile with the given public slug.
func FindBusinessProfileBySlug(db *gorm.DB, slug string) (*BusinessProfile, error) {
	var profile BusinessProfile
	if err := db.Where("slug = ?", slug).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}
