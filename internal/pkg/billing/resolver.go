package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
)

// StateResolver determines the authoritative subscription state for a user
// by querying local records first and the payment processor second.
// Processor hits are written back into the local subscription table, so the
// local store works as a self-healing cache.
type StateResolver struct {
	repo      Repository
	processor ProcessorClient
	plans     *PlanResolver
	now       func() time.Time
}

// NewStateResolver wires a resolver from its injected collaborators.
func NewStateResolver(repo Repository, processor ProcessorClient) *StateResolver {
	return &StateResolver{
		repo:      repo,
		processor: processor,
		plans:     NewPlanResolver(repo),
		now:       time.Now,
	}
}

// Resolve walks the priority chain for one user: local active subscription,
// then the processor by customer id, then none. It never downgrades an
// active profile on its own; absence of proof is not proof of cancellation.
func (r *StateResolver) Resolve(ctx context.Context, user *models.User, profile *models.BusinessProfile) (ResolvedState, error) {
	sub, err := r.repo.FindActiveSubscriptionByUser(user.ID)
	if err == nil {
		if sub.IsCurrentlyActive(r.now()) {
			return ResolvedState{HasActive: true, Subscription: sub, Source: SourceLocal}, nil
		}
		// Local row exists but its period ended; fall through to the
		// processor, which may have renewed it.
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ResolvedState{Source: SourceNone}, fmt.Errorf("local subscription lookup for user %d: %w", user.ID, err)
	}

	customerID := r.customerIDFor(user, profile)
	if customerID == "" {
		r.logUnverifiedActive(user, profile)
		return ResolvedState{Source: SourceNone}, nil
	}

	subs, err := r.processor.ListActiveSubscriptions(ctx, customerID, 1)
	if err != nil {
		if errors.Is(err, ErrProcessorNotFound) {
			r.logUnverifiedActive(user, profile)
			return ResolvedState{Source: SourceNone}, nil
		}
		return ResolvedState{Source: SourceNone}, fmt.Errorf("processor subscription list for customer %s: %w", customerID, err)
	}
	if len(subs) == 0 {
		r.logUnverifiedActive(user, profile)
		return ResolvedState{Source: SourceNone}, nil
	}

	local, err := r.AdoptProcessorSubscription(ctx, user.ID, subs[0])
	if err != nil {
		return ResolvedState{Source: SourceNone}, err
	}
	return ResolvedState{HasActive: true, Subscription: local, Source: SourceProcessor}, nil
}

// AdoptProcessorSubscription upserts a processor-reported subscription into
// the local table with a plan attached, keyed on the external id so replays
// and concurrent observers merge instead of duplicating.
func (r *StateResolver) AdoptProcessorSubscription(ctx context.Context, userID uint, ps ProcessorSubscription) (*models.Subscription, error) {
	planID, err := r.plans.Resolve(ctx, ps.ID)
	if err != nil {
		return nil, err
	}

	start := ps.CurrentPeriodStart
	end := ps.CurrentPeriodEnd
	local := &models.Subscription{
		UserID:               userID,
		PlanID:               planID,
		Status:               normalizeProcessorStatus(ps.Status),
		StripeSubscriptionID: ps.ID,
		StripeCustomerID:     ps.CustomerID,
		CurrentPeriodStart:   &start,
		CurrentPeriodEnd:     &end,
		Interval:             normalizeInterval(ps.Interval),
		CancelAtPeriodEnd:    ps.CancelAtPeriodEnd,
	}
	if err := r.repo.UpsertSubscription(local); err != nil {
		return nil, fmt.Errorf("upsert subscription %s: %w", ps.ID, err)
	}
	return local, nil
}

// customerIDFor picks the external customer id: profile first, user second.
func (r *StateResolver) customerIDFor(user *models.User, profile *models.BusinessProfile) string {
	if profile != nil {
		if id := strings.TrimSpace(profile.StripeCustomerID); id != "" {
			return id
		}
	}
	return strings.TrimSpace(user.StripeCustomerID)
}

// logUnverifiedActive records the deliberate no-downgrade case: the profile
// claims active but no authority could confirm it. Cancellation is driven
// only by explicit processor events.
func (r *StateResolver) logUnverifiedActive(user *models.User, profile *models.BusinessProfile) {
	if profile == nil || !profile.HasActiveSubscription() {
		return
	}
	log.Warnf("[Billing] Profile %d (user %d) is active but no subscription could be verified; leaving status untouched for manual review", profile.ID, user.ID)
}
