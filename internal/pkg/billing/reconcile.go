package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
)

const profileBatchSize = 100

// Reconciler walks every business profile, repairs subscription drift via
// the state resolver, and recomputes the cached active listing count. It is
// the self-healing backstop for missed or failed webhook deliveries and must
// converge on the same end state the webhook path produces.
type Reconciler struct {
	repo      Repository
	processor ProcessorClient
	resolver  *StateResolver
	plans     *PlanResolver
	locker    Locker
	now       func() time.Time
}

// NewReconciler wires a batch reconciler from its collaborators.
func NewReconciler(repo Repository, processor ProcessorClient, locker Locker) *Reconciler {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Reconciler{
		repo:      repo,
		processor: processor,
		resolver:  NewStateResolver(repo, processor),
		plans:     NewPlanResolver(repo),
		locker:    locker,
		now:       time.Now,
	}
}

// Run executes one full reconciliation pass. Individual profile failures are
// collected into the summary instead of aborting the run; only a failure to
// enumerate profiles at all is fatal. Cancellation via ctx stops between
// profiles, never mid-write.
func (r *Reconciler) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: r.now(),
		Errors:    []ItemError{},
	}
	log.Infof("[Reconcile] Starting run %s", summary.RunID)

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			summary.FinishedAt = r.now()
			return summary, fmt.Errorf("reconciliation run %s canceled: %w", summary.RunID, err)
		}

		profiles, err := r.repo.ListProfiles(offset, profileBatchSize)
		if err != nil {
			summary.FinishedAt = r.now()
			return summary, fmt.Errorf("list business profiles: %w", err)
		}
		if len(profiles) == 0 {
			break
		}

		for i := range profiles {
			if err := ctx.Err(); err != nil {
				summary.FinishedAt = r.now()
				return summary, fmt.Errorf("reconciliation run %s canceled: %w", summary.RunID, err)
			}
			r.reconcileProfile(ctx, &profiles[i], summary)
		}
		offset += len(profiles)
	}

	summary.FinishedAt = r.now()
	log.Infof("[Reconcile] Run %s done: total=%d updated=%d alreadyCorrect=%d stripeUpdated=%d manualReview=%d errors=%d",
		summary.RunID, summary.Total, summary.Updated, summary.AlreadyCorrect,
		summary.StripeUpdated, summary.ManualReview, len(summary.Errors))
	return summary, nil
}

// reconcileProfile repairs one profile. Errors are recorded per stage; a
// failed subscription repair does not prevent the listing count sync.
func (r *Reconciler) reconcileProfile(ctx context.Context, profile *models.BusinessProfile, summary *RunSummary) {
	summary.Total++

	if err := r.reconcileSubscription(ctx, profile, summary); err != nil {
		summary.Errors = append(summary.Errors, ItemError{
			BusinessProfileID: profile.ID,
			Stage:             "subscription",
			Message:           err.Error(),
		})
		log.Errorf("[Reconcile] Profile %d subscription repair failed: %v", profile.ID, err)
	}

	if _, err := r.SyncListingCount(ctx, profile, summary.RunID); err != nil {
		summary.Errors = append(summary.Errors, ItemError{
			BusinessProfileID: profile.ID,
			Stage:             "listing_count",
			Message:           err.Error(),
		})
		log.Errorf("[Reconcile] Profile %d listing count sync failed: %v", profile.ID, err)
	}
}

func (r *Reconciler) reconcileSubscription(ctx context.Context, profile *models.BusinessProfile, summary *RunSummary) error {
	user, err := r.repo.GetUser(profile.UserID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", profile.UserID, err)
	}

	state, err := r.resolver.Resolve(ctx, user, profile)
	if err != nil {
		return err
	}

	if !state.HasActive {
		if profile.HasActiveSubscription() {
			// Deliberate: an unverifiable absence is not a verified
			// cancellation. Flag for a human instead of downgrading.
			summary.ManualReview++
		} else {
			summary.AlreadyCorrect++
		}
		return nil
	}

	if profile.HasActiveSubscription() && profileLinkConsistent(profile, state.Subscription) {
		summary.AlreadyCorrect++
		return nil
	}

	sub := state.Subscription
	err = r.locker.WithProfileLock(ctx, profile.ID, func() error {
		if err := r.repo.UpdateProfileGuarded(profile, map[string]interface{}{
			"subscription_status":    profileStatusFor(sub.Status),
			"stripe_subscription_id": sub.StripeSubscriptionID,
			"stripe_customer_id":     sub.StripeCustomerID,
			"subscription_start":     sub.CurrentPeriodStart,
			"subscription_end":       sub.CurrentPeriodEnd,
			"plan_id":                sub.PlanID,
		}); err != nil {
			return err
		}
		if err := r.repo.SaveUserBillingFlags(user.ID, models.ACCOUNT_TYPE_BUSINESS, true); err != nil {
			return err
		}
		if state.Source == SourceProcessor {
			return r.repo.CreateActivation(&models.SubscriptionActivation{
				BusinessProfileID: profile.ID,
				Source:            models.ActivationSourceProcessor,
				Reason:            "batch repair from processor subscription " + sub.StripeSubscriptionID,
				RunID:             summary.RunID,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	summary.Updated++
	if state.Source == SourceProcessor {
		summary.StripeUpdated++
	}
	return nil
}

// profileLinkConsistent reports whether the profile's cached link fields
// already mirror the subscription row (invariant: the profile's end date
// equals the linked subscription's period end).
func profileLinkConsistent(profile *models.BusinessProfile, sub *models.Subscription) bool {
	if profile.StripeSubscriptionID != sub.StripeSubscriptionID {
		return false
	}
	if profile.PlanID != sub.PlanID {
		return false
	}
	if sub.CurrentPeriodEnd == nil {
		return profile.SubscriptionEnd == nil
	}
	return profile.SubscriptionEnd != nil && profile.SubscriptionEnd.Equal(*sub.CurrentPeriodEnd)
}

// SyncListingCount recomputes the cached active listing count for one
// profile and applies the provisional activation heuristic: live listings
// with no recorded subscription are treated as presumptive evidence of an
// active one. The provisional path writes its own audit record so it stays
// distinguishable from processor-verified activation.
func (r *Reconciler) SyncListingCount(ctx context.Context, profile *models.BusinessProfile, runID string) (int64, error) {
	count, err := r.repo.CountActiveListings(profile.ID)
	if err != nil {
		return 0, fmt.Errorf("count active listings: %w", err)
	}

	if count != profile.ActiveListingCount {
		if err := r.repo.UpdateProfileListingCount(profile.ID, count); err != nil {
			return 0, fmt.Errorf("update listing count: %w", err)
		}
		profile.ActiveListingCount = count
	}

	if count == 0 || profile.HasActiveSubscription() {
		return count, nil
	}

	plan, err := r.plans.Default(ctx)
	if err != nil {
		return count, err
	}

	priorStatus := profile.SubscriptionStatus
	err = r.locker.WithProfileLock(ctx, profile.ID, func() error {
		if err := r.repo.UpdateProfileGuarded(profile, map[string]interface{}{
			"subscription_status": models.SUBSCRIPTION_ACTIVE,
			"plan_id":             plan.ID,
		}); err != nil {
			// Another writer already touched the profile; it owns the
			// outcome now.
			if errors.Is(err, ErrStaleProfile) {
				return nil
			}
			return err
		}
		log.Warnf("[Reconcile] Provisionally activated profile %d: %d live listings without a recorded subscription", profile.ID, count)
		return r.repo.CreateActivation(&models.SubscriptionActivation{
			BusinessProfileID: profile.ID,
			Source:            models.ActivationSourceProvisional,
			Reason:            fmt.Sprintf("%d active listings with subscription status %q", count, priorStatus),
			RunID:             runID,
		})
	})
	if err != nil {
		return count, err
	}
	return count, nil
}

// SyncListingCountByID is the single-profile entry point used outside batch
// runs.
func (r *Reconciler) SyncListingCountByID(ctx context.Context, profileID uint) (int64, error) {
	profile, err := r.repo.GetProfileByID(profileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("business profile %d not found", profileID)
		}
		return 0, err
	}
	return r.SyncListingCount(ctx, profile, "")
}
