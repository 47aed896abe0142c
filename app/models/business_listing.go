package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	LISTING_DRAFT   = "draft"
	LISTING_PENDING = "pending"
	LISTING_ACTIVE  = "active"
	LISTING_EXPIRED = "expired"
	LISTING_REMOVED = "removed"
)

// BusinessListing is a single directory entry owned by a business profile.
type BusinessListing struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	BusinessProfileID uint           `gorm:"not null;index" json:"business_profile_id"`
	Title             string         `gorm:"type:varchar(200);not null" json:"title" validate:"required,min=2,max=200"`
	Slug              string         `gorm:"type:varchar(200);uniqueIndex;not null" json:"slug"`
	Category          string         `gorm:"type:varchar(100);index" json:"category"`
	Description       string         `gorm:"type:text" json:"description"`
	Address           string         `gorm:"type:varchar(255)" json:"address"`
	Phone             string         `gorm:"type:varchar(50)" json:"phone"`
	Website           string         `gorm:"type:varchar(255)" json:"website"`
	Status            string         `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	Featured          bool           `gorm:"default:false;index" json:"featured"`
	ViewCount         int64          `gorm:"not null;default:0" json:"view_count"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

// CountActiveListings returns the live number of active listings for a
// profile. This is the source of truth the cached ActiveListingCount on the
// profile must match after every reconciliation pass.
func CountActiveListings(db *gorm.DB, profileID uint) (int64, error) {
	var count int64
	err := db.Model(&BusinessListing{}).
		Where("business_profile_id = ? AND status = ?", profileID, LISTING_ACTIVE).
		Count(&count).Error
	return count, err
}
