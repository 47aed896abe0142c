package entitlements

import (
	"github.com/LocalSpotHQ/LocalSpot/app/models"
)

// MaxListings returns how many active listings a plan allows. A nil plan
// means no subscription and gets the free allowance.
func MaxListings(plan *models.SubscriptionPlan) int {
	if plan == nil {
		return 1
	}
	if plan.MaxListings <= 0 {
		return 1
	}
	return plan.MaxListings
}

// CanFeatureListings reports whether the plan includes featured placement.
func CanFeatureListings(plan *models.SubscriptionPlan) bool {
	return plan != nil && plan.FeaturedListings
}

// HasAnalytics reports whether the plan includes the analytics dashboard.
func HasAnalytics(plan *models.SubscriptionPlan) bool {
	return plan != nil && plan.AnalyticsEnabled
}

// ListingQuotaReached combines the cached active listing count on a profile
// with the plan allowance.
func ListingQuotaReached(profile *models.BusinessProfile, plan *models.SubscriptionPlan) bool {
	if profile == nil {
		return true
	}
	return profile.ActiveListingCount >= int64(MaxListings(plan))
}
