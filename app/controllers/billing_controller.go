package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/billing"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/cache"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/database"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/entitlements"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/env"
)

// Billing collaborators are injected once at startup instead of constructed
// per request, so tests can swap in doubles.
var (
	billingEvents     *billing.EventHandler
	billingReconciler *billing.Reconciler
)

// SetupBilling injects the billing engine into the controller layer.
func SetupBilling(events *billing.EventHandler, reconciler *billing.Reconciler) {
	billingEvents = events
	billingReconciler = reconciler
}

// HandleStripeWebhook receives processor events. The signature is verified
// against the exact raw body before anything else is read; the idempotency
// ledger then guards against at-least-once redelivery.
func HandleStripeWebhook(c *fiber.Ctx) error {
	if billingEvents == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "billing_not_configured"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	if secret == "" {
		log.Error("[Billing] STRIPE_WEBHOOK_SECRET is not configured")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "billing_not_configured"})
	}

	event, err := webhook.ConstructEventWithOptions(rawBody, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	created, stored, err := billingEvents.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		// Only a cleanly processed row is a duplicate. A recorded delivery
		// whose apply failed gets another chance on redelivery.
		if stored.IsProcessed() {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
		}
		log.Infof("[Billing] Reapplying event %s (%s) after earlier failure", event.ID, event.Type)
	}

	handled, applyErr := billingEvents.Apply(ctx, string(event.Type), event.Data.Raw)
	if err := billingEvents.MarkWebhookProcessed(ctx, stored.ID, applyErr); err != nil {
		log.Errorf("[Billing] Failed to mark webhook %d processed: %v", stored.ID, err)
	}

	if applyErr != nil {
		if errors.Is(applyErr, billing.ErrUnmatchedEntity) {
			log.Warnf("[Billing] Event %s (%s) references unknown entity: %v", event.ID, event.Type, applyErr)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unmatched_entity"})
		}
		log.Errorf("[Billing] Event %s (%s) failed: %v", event.ID, event.Type, applyErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}
	if !handled {
		// Accepted no-op so the processor stops redelivering event types
		// outside this engine's interest.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "ignored": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

// HandleAdminReconcile triggers a full reconciliation pass and returns its
// summary. Guarded by basic auth in the router.
func HandleAdminReconcile(c *fiber.Ctx) error {
	if billingReconciler == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "billing_not_configured"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	summary, err := billingReconciler.Run(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "reconciliation_failed",
			"message": err.Error(),
			"summary": summary,
		})
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

const subscriptionSnapshotTTL = 60 * time.Second

// HandleBusinessSubscription returns the cached subscription snapshot for a
// business profile by slug. Snapshots are served from Redis for a short TTL;
// ?refresh=true drops the cached copy first.
func HandleBusinessSubscription(c *fiber.Ctx) error {
	slug := c.Params("slug")
	cacheKey := "billing:snapshot:" + slug
	if c.QueryBool("refresh") {
		_ = cache.Delete(cacheKey)
	} else if hit, err := cache.Get(cacheKey); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(fiber.StatusOK).SendString(hit)
	}

	profile, err := models.FindBusinessProfileBySlug(database.GetDB(), slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "business_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	// Plan lookup is best effort; a missing plan falls back to the free
	// allowance.
	var plan *models.SubscriptionPlan
	if profile.PlanID > 0 {
		plan, _ = models.FindPlanByID(database.GetDB(), profile.PlanID)
	}

	snapshot := fiber.Map{
		"business":             profile.Slug,
		"subscription_status":  profile.SubscriptionStatus,
		"subscription_end":     profile.SubscriptionEnd,
		"plan_id":              profile.PlanID,
		"active_listing_count": profile.ActiveListingCount,
		"max_listings":         entitlements.MaxListings(plan),
		"featured_listings":    entitlements.CanFeatureListings(plan),
		"analytics_enabled":    entitlements.HasAnalytics(plan),
		"quota_reached":        entitlements.ListingQuotaReached(profile, plan),
	}

	// Cache writes are best effort.
	if payload, err := json.Marshal(snapshot); err == nil {
		_ = cache.Set(cacheKey, payload, subscriptionSnapshotTTL)
	}
	return c.Status(fiber.StatusOK).JSON(snapshot)
}
