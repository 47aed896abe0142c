package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestResolvePrefersLocalActiveSubscription(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	user := repo.addUser(&models.User{Name: "Pia", Email: "pia@example.com", StripeCustomerID: "cus_1"})
	end := fixedNow().Add(14 * 24 * time.Hour)
	require.NoError(t, repo.UpsertSubscription(&models.Subscription{
		UserID:               user.ID,
		PlanID:               1,
		Status:               models.BillingStatusActive,
		StripeSubscriptionID: "sub_local",
		CurrentPeriodEnd:     &end,
	}))

	resolver := NewStateResolver(repo, processor)
	resolver.now = fixedNow

	state, err := resolver.Resolve(context.Background(), user, nil)
	require.NoError(t, err)
	assert.True(t, state.HasActive)
	assert.Equal(t, SourceLocal, state.Source)
	assert.Equal(t, "sub_local", state.Subscription.StripeSubscriptionID)
	assert.Zero(t, processor.listCalls, "local hit must not reach the processor")
}

func TestResolveAdoptsProcessorSubscription(t *testing.T) {
	// Local store knows nothing, the processor reports an active
	// subscription: the resolver adopts it as a local row so the next
	// lookup is answered locally.
	repo := newFakeRepo()
	processor := newFakeProcessor()
	user := repo.addUser(&models.User{Name: "Ben", Email: "ben@example.com", StripeCustomerID: "cus_42"})
	processor.addSubscription(ProcessorSubscription{
		ID:                 "sub_remote",
		CustomerID:         "cus_42",
		Status:             "active",
		Interval:           "month",
		CurrentPeriodStart: fixedNow().Add(-10 * 24 * time.Hour),
		CurrentPeriodEnd:   fixedNow().Add(20 * 24 * time.Hour),
	})

	resolver := NewStateResolver(repo, processor)
	resolver.now = fixedNow

	state, err := resolver.Resolve(context.Background(), user, nil)
	require.NoError(t, err)
	assert.True(t, state.HasActive)
	assert.Equal(t, SourceProcessor, state.Source)
	require.NotNil(t, state.Subscription)
	assert.NotZero(t, state.Subscription.ID)
	assert.NotZero(t, state.Subscription.PlanID, "adoption must attach a plan")

	local, err := repo.FindSubscriptionByStripeID("sub_remote")
	require.NoError(t, err)
	assert.Equal(t, user.ID, local.UserID)
	assert.Equal(t, models.BillingStatusActive, local.Status)
	assert.Equal(t, models.BillingIntervalMonthly, local.Interval)

	// Self-healing cache: the second resolve is served locally.
	state, err = resolver.Resolve(context.Background(), user, nil)
	require.NoError(t, err)
	assert.True(t, state.HasActive)
	assert.Equal(t, SourceLocal, state.Source)
	assert.Equal(t, 1, processor.listCalls)
}

func TestResolveUsesProfileCustomerIDFirst(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	user := repo.addUser(&models.User{Name: "Mara", Email: "mara@example.com", StripeCustomerID: "cus_user"})
	profile := repo.addProfile(&models.BusinessProfile{UserID: user.ID, Name: "Mara's Café", Slug: "maras-cafe", StripeCustomerID: "cus_profile"})
	processor.addSubscription(ProcessorSubscription{
		ID:               "sub_profile",
		CustomerID:       "cus_profile",
		Status:           "active",
		CurrentPeriodEnd: fixedNow().Add(30 * 24 * time.Hour),
	})

	resolver := NewStateResolver(repo, processor)
	resolver.now = fixedNow

	state, err := resolver.Resolve(context.Background(), user, profile)
	require.NoError(t, err)
	assert.True(t, state.HasActive)
	assert.Equal(t, "sub_profile", state.Subscription.StripeSubscriptionID)
}

func TestResolveExpiredLocalRowFallsThroughToProcessor(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	user := repo.addUser(&models.User{Name: "Ole", Email: "ole@example.com", StripeCustomerID: "cus_7"})
	pastEnd := fixedNow().Add(-24 * time.Hour)
	require.NoError(t, repo.UpsertSubscription(&models.Subscription{
		UserID:               user.ID,
		PlanID:               1,
		Status:               models.BillingStatusActive,
		StripeSubscriptionID: "sub_old",
		CurrentPeriodEnd:     &pastEnd,
	}))
	processor.addSubscription(ProcessorSubscription{
		ID:               "sub_renewed",
		CustomerID:       "cus_7",
		Status:           "active",
		CurrentPeriodEnd: fixedNow().Add(30 * 24 * time.Hour),
	})

	resolver := NewStateResolver(repo, processor)
	resolver.now = fixedNow

	state, err := resolver.Resolve(context.Background(), user, nil)
	require.NoError(t, err)
	assert.True(t, state.HasActive)
	assert.Equal(t, SourceProcessor, state.Source)
	assert.Equal(t, "sub_renewed", state.Subscription.StripeSubscriptionID)
}

func TestResolveWithoutAnyEvidenceReturnsNone(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	user := repo.addUser(&models.User{Name: "Kim", Email: "kim@example.com"})
	profile := repo.addProfile(&models.BusinessProfile{
		UserID:             user.ID,
		Name:               "Kim's Books",
		Slug:               "kims-books",
		SubscriptionStatus: models.SUBSCRIPTION_ACTIVE,
	})

	resolver := NewStateResolver(repo, processor)
	resolver.now = fixedNow

	// No customer id at all: nothing to ask the processor about. The
	// resolver reports none and leaves downgrading to a human.
	state, err := resolver.Resolve(context.Background(), user, profile)
	require.NoError(t, err)
	assert.False(t, state.HasActive)
	assert.Equal(t, SourceNone, state.Source)
	assert.Equal(t, models.SUBSCRIPTION_ACTIVE, repo.profiles[profile.ID].SubscriptionStatus)
}

func TestResolveProcessorListEmptyReturnsNone(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	user := repo.addUser(&models.User{Name: "Lu", Email: "lu@example.com", StripeCustomerID: "cus_gone"})

	resolver := NewStateResolver(repo, processor)
	resolver.now = fixedNow

	state, err := resolver.Resolve(context.Background(), user, nil)
	require.NoError(t, err)
	assert.False(t, state.HasActive)
	assert.Equal(t, SourceNone, state.Source)
	assert.Empty(t, repo.subscriptions)
}
