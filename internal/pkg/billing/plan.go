package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
	"gorm.io/gorm"
)

// ErrPlanResolution is returned when not even the default plan could be
// created, which means the datastore itself is unavailable.
var ErrPlanResolution = errors.New("billing: plan resolution failed")

// Default plan created when the plan table is empty. Selection by "first
// active plan" is a deliberate fallback, not a price mapping; mismatches are
// surfaced through warning logs and the activation audit trail.
const (
	defaultPlanName        = "Starter"
	defaultPlanSlug        = "starter"
	defaultPlanMonthly     = 1900
	defaultPlanYearly      = 19000
	defaultPlanMaxListings = 10
)

// PlanResolver maps external subscription ids onto internal plan records.
type PlanResolver struct {
	repo Repository
}

// NewPlanResolver creates a plan resolver from an injected repository.
func NewPlanResolver(repo Repository) *PlanResolver {
	return &PlanResolver{repo: repo}
}

// Resolve returns the internal plan id for an external subscription id.
// Priority: the plan already recorded on the local subscription row, then
// the first active plan, then a freshly created default plan. It always
// returns a valid plan id unless plan creation itself fails.
func (r *PlanResolver) Resolve(ctx context.Context, stripeSubscriptionID string) (uint, error) {
	_ = ctx
	if id := strings.TrimSpace(stripeSubscriptionID); id != "" {
		sub, err := r.repo.FindSubscriptionByStripeID(id)
		if err == nil && sub.PlanID > 0 {
			return sub.PlanID, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %v", ErrPlanResolution, err)
		}
	}

	plan, err := r.Default(ctx)
	if err != nil {
		return 0, err
	}
	return plan.ID, nil
}

// Default returns the first active plan, creating the hard-coded default
// when none exists.
func (r *PlanResolver) Default(ctx context.Context) (*models.SubscriptionPlan, error) {
	_ = ctx
	plan, err := r.repo.FirstActivePlan()
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPlanResolution, err)
	}

	created := &models.SubscriptionPlan{
		Name:         defaultPlanName,
		Slug:         defaultPlanSlug,
		PriceMonthly: defaultPlanMonthly,
		PriceYearly:  defaultPlanYearly,
		MaxListings:  defaultPlanMaxListings,
		IsActive:     true,
	}
	if err := r.repo.CreatePlan(created); err != nil {
		return nil, fmt.Errorf("%w: create default plan: %v", ErrPlanResolution, err)
	}
	return created, nil
}

// normalizeProcessorStatus maps raw processor status strings onto the local
// subscription status vocabulary.
func normalizeProcessorStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return models.BillingStatusActive
	case "past_due":
		return models.BillingStatusPastDue
	case "canceled", "cancelled":
		return models.BillingStatusCanceled
	case "unpaid":
		return models.BillingStatusUnpaid
	case "":
		return models.BillingStatusActive
	default:
		return models.BillingStatusIncomplete
	}
}

// profileStatusFor maps a local subscription status onto the app-facing
// profile status vocabulary.
func profileStatusFor(subscriptionStatus string) string {
	switch subscriptionStatus {
	case models.BillingStatusActive:
		return models.SUBSCRIPTION_ACTIVE
	case models.BillingStatusPastDue, models.BillingStatusUnpaid:
		return models.SUBSCRIPTION_PAST_DUE
	case models.BillingStatusCanceled:
		return models.SUBSCRIPTION_CANCELED
	case models.BillingStatusIncomplete:
		return models.SUBSCRIPTION_PENDING
	default:
		return models.SUBSCRIPTION_NONE
	}
}

// normalizeInterval coerces processor interval strings to the local enum.
func normalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "year", "yearly", "annual":
		return models.BillingIntervalYearly
	default:
		return models.BillingIntervalMonthly
	}
}
