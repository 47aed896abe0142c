package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
)

// ErrUnmatchedEntity marks an event whose referenced entity does not exist
// locally. The webhook endpoint answers these with a client error so the
// delivery is not silently swallowed.
var ErrUnmatchedEntity = errors.New("billing: event references an unknown entity")

// Inbound event types the state machine acts on. Everything else is
// accepted and ignored to avoid redelivery storms.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventPaymentSucceeded     = "payment_intent.succeeded"
	EventPaymentFailed        = "payment_intent.payment_failed"
)

// Locker serializes billing writes per profile across the webhook path and
// the batch reconciler.
type Locker interface {
	WithProfileLock(ctx context.Context, profileID uint, fn func() error) error
}

// NoopLocker satisfies Locker without any cross-process coordination.
// Used in tests and in single-writer deployments without Redis.
type NoopLocker struct{}

func (NoopLocker) WithProfileLock(ctx context.Context, profileID uint, fn func() error) error {
	return fn()
}

// EventHandler applies one processor event to local state. Every transition
// is an idempotent upsert keyed by external subscription id or order number,
// so at-least-once delivery converges on the same end state.
type EventHandler struct {
	repo      Repository
	processor ProcessorClient
	resolver  *StateResolver
	locker    Locker
}

// NewEventHandler wires the event state machine from its collaborators.
func NewEventHandler(repo Repository, processor ProcessorClient, locker Locker) *EventHandler {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &EventHandler{
		repo:      repo,
		processor: processor,
		resolver:  NewStateResolver(repo, processor),
		locker:    locker,
	}
}

// Apply dispatches a verified event payload by type. The returned bool
// reports whether the event type was one this engine acts on.
func (h *EventHandler) Apply(ctx context.Context, eventType string, payload []byte) (bool, error) {
	switch eventType {
	case EventCheckoutCompleted:
		return true, h.applyCheckoutCompleted(ctx, payload)
	case EventInvoicePaid:
		return true, h.applyInvoicePaid(ctx, payload)
	case EventInvoicePaymentFailed:
		return true, h.applyInvoicePaymentFailed(ctx, payload)
	case EventSubscriptionDeleted:
		return true, h.applySubscriptionDeleted(ctx, payload)
	case EventPaymentSucceeded:
		return true, h.applyPaymentSucceeded(payload)
	case EventPaymentFailed:
		return true, h.applyPaymentFailed(payload)
	default:
		log.Debugf("[Billing] Ignoring event type %s", eventType)
		return false, nil
	}
}

type checkoutSessionPayload struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID           string      `json:"id"`
	Customer     string      `json:"customer"`
	Subscription string      `json:"subscription"`
	PeriodEnd    interface{} `json:"period_end"`
}

type subscriptionPayload struct {
	ID                string      `json:"id"`
	Customer          string      `json:"customer"`
	Status            string      `json:"status"`
	CancelAtPeriodEnd bool        `json:"cancel_at_period_end"`
	CurrentPeriodEnd  interface{} `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd interface{} `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type paymentIntentPayload struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

func (h *EventHandler) applyCheckoutCompleted(ctx context.Context, payload []byte) error {
	var session checkoutSessionPayload
	if err := json.Unmarshal(payload, &session); err != nil {
		return fmt.Errorf("parse checkout session: %w", err)
	}

	if session.Mode == "payment" {
		return h.applyOrderCheckout(session)
	}
	return h.applySubscriptionCheckout(ctx, session)
}

// applySubscriptionCheckout finishes a subscription purchase: adopt the new
// processor subscription locally, activate the owning profile, and flip the
// user to a business account.
func (h *EventHandler) applySubscriptionCheckout(ctx context.Context, session checkoutSessionPayload) error {
	userID, err := metadataUserID(session.Metadata)
	if err != nil {
		return err
	}

	user, err := h.repo.GetUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user %d from checkout metadata", ErrUnmatchedEntity, userID)
		}
		return err
	}

	profile, err := h.repo.GetProfileByUserID(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no business profile for user %d", ErrUnmatchedEntity, user.ID)
		}
		return err
	}

	ps, err := h.processor.GetSubscription(ctx, session.Subscription)
	if err != nil {
		return fmt.Errorf("retrieve checkout subscription %s: %w", session.Subscription, err)
	}
	if ps.CustomerID == "" {
		ps.CustomerID = session.Customer
	}

	local, err := h.resolver.AdoptProcessorSubscription(ctx, user.ID, *ps)
	if err != nil {
		return err
	}

	status := profileStatusFor(local.Status)
	return h.locker.WithProfileLock(ctx, profile.ID, func() error {
		if err := h.repo.UpdateProfileGuarded(profile, map[string]interface{}{
			"subscription_status":    status,
			"stripe_subscription_id": local.StripeSubscriptionID,
			"stripe_customer_id":     local.StripeCustomerID,
			"subscription_start":     local.CurrentPeriodStart,
			"subscription_end":       local.CurrentPeriodEnd,
			"plan_id":                local.PlanID,
		}); err != nil {
			return err
		}
		if err := h.repo.SaveUserBillingFlags(user.ID, models.ACCOUNT_TYPE_BUSINESS, status == models.SUBSCRIPTION_ACTIVE); err != nil {
			return err
		}
		if status != models.SUBSCRIPTION_ACTIVE {
			return nil
		}
		return h.repo.CreateActivation(&models.SubscriptionActivation{
			BusinessProfileID: profile.ID,
			Source:            models.ActivationSourceCheckout,
			Reason:            "checkout session " + session.ID,
		})
	})
}

// applyOrderCheckout finishes a one-off order purchase.
func (h *EventHandler) applyOrderCheckout(session checkoutSessionPayload) error {
	orderNumber := strings.TrimSpace(session.Metadata["order_number"])
	if orderNumber == "" {
		return fmt.Errorf("%w: checkout session %s has no order_number metadata", ErrUnmatchedEntity, session.ID)
	}

	order, err := h.repo.FindOrderByNumber(orderNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: order %s", ErrUnmatchedEntity, orderNumber)
		}
		return err
	}

	order.Status = models.ORDER_PAID
	order.StripeSessionID = session.ID
	order.StripePaymentIntentID = session.PaymentIntent
	return h.repo.SaveOrder(order)
}

func (h *EventHandler) applyInvoicePaid(ctx context.Context, payload []byte) error {
	var invoice invoicePayload
	if err := json.Unmarshal(payload, &invoice); err != nil {
		return fmt.Errorf("parse invoice: %w", err)
	}
	if invoice.Subscription == "" {
		return fmt.Errorf("%w: invoice %s carries no subscription id", ErrUnmatchedEntity, invoice.ID)
	}

	profile, err := h.repo.GetProfileByStripeCustomerID(invoice.Customer)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no profile for customer %s", ErrUnmatchedEntity, invoice.Customer)
		}
		return err
	}

	// Refresh period bounds from the processor; the invoice payload's own
	// period fields describe the invoice, not the subscription.
	ps, err := h.processor.GetSubscription(ctx, invoice.Subscription)
	if err != nil {
		return fmt.Errorf("retrieve subscription %s for paid invoice: %w", invoice.Subscription, err)
	}
	if ps.CustomerID == "" {
		ps.CustomerID = invoice.Customer
	}

	local, err := h.resolver.AdoptProcessorSubscription(ctx, profile.UserID, *ps)
	if err != nil {
		return err
	}

	status := profileStatusFor(local.Status)
	return h.locker.WithProfileLock(ctx, profile.ID, func() error {
		if err := h.repo.UpdateProfileGuarded(profile, map[string]interface{}{
			"subscription_status":    status,
			"stripe_subscription_id": local.StripeSubscriptionID,
			"subscription_end":       local.CurrentPeriodEnd,
			"plan_id":                local.PlanID,
		}); err != nil {
			return err
		}
		if err := h.repo.SaveUserBillingFlags(profile.UserID, models.ACCOUNT_TYPE_BUSINESS, status == models.SUBSCRIPTION_ACTIVE); err != nil {
			return err
		}
		if status != models.SUBSCRIPTION_ACTIVE {
			return nil
		}
		return h.repo.CreateActivation(&models.SubscriptionActivation{
			BusinessProfileID: profile.ID,
			Source:            models.ActivationSourceProcessor,
			Reason:            "invoice " + invoice.ID + " paid",
		})
	})
}

func (h *EventHandler) applyInvoicePaymentFailed(ctx context.Context, payload []byte) error {
	var invoice invoicePayload
	if err := json.Unmarshal(payload, &invoice); err != nil {
		return fmt.Errorf("parse invoice: %w", err)
	}
	if invoice.Subscription == "" {
		return fmt.Errorf("%w: invoice %s carries no subscription id", ErrUnmatchedEntity, invoice.ID)
	}

	subMatched, err := h.repo.UpdateSubscriptionStatus(invoice.Subscription, models.BillingStatusPastDue, nil)
	if err != nil {
		return err
	}

	profile, err := h.repo.GetProfileByStripeCustomerID(invoice.Customer)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if !subMatched {
				return fmt.Errorf("%w: no subscription %s and no profile for customer %s", ErrUnmatchedEntity, invoice.Subscription, invoice.Customer)
			}
			// Subscription row updated; profile will catch up on the next
			// batch pass.
			log.Warnf("[Billing] Payment failed for subscription %s but no profile matches customer %s", invoice.Subscription, invoice.Customer)
			return nil
		}
		return err
	}

	return h.locker.WithProfileLock(ctx, profile.ID, func() error {
		return h.repo.UpdateProfileGuarded(profile, map[string]interface{}{
			"subscription_status": models.SUBSCRIPTION_PAST_DUE,
		})
	})
}

func (h *EventHandler) applySubscriptionDeleted(ctx context.Context, payload []byte) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(payload, &sub); err != nil {
		return fmt.Errorf("parse subscription: %w", err)
	}
	if sub.ID == "" {
		return fmt.Errorf("%w: subscription deletion without id", ErrUnmatchedEntity)
	}

	finalEnd := subscriptionPeriodEnd(sub)
	if _, err := h.repo.UpdateSubscriptionStatus(sub.ID, models.BillingStatusCanceled, &finalEnd); err != nil {
		return err
	}

	profile, err := h.repo.GetProfileByStripeCustomerID(sub.Customer)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no profile for customer %s", ErrUnmatchedEntity, sub.Customer)
		}
		return err
	}

	return h.locker.WithProfileLock(ctx, profile.ID, func() error {
		if err := h.repo.UpdateProfileGuarded(profile, map[string]interface{}{
			"subscription_status": models.SUBSCRIPTION_CANCELED,
			"subscription_end":    &finalEnd,
		}); err != nil {
			return err
		}
		return h.repo.SaveUserBillingFlags(profile.UserID, models.ACCOUNT_TYPE_BUSINESS, false)
	})
}

func (h *EventHandler) applyPaymentSucceeded(payload []byte) error {
	var intent paymentIntentPayload
	if err := json.Unmarshal(payload, &intent); err != nil {
		return fmt.Errorf("parse payment intent: %w", err)
	}
	// Order fulfillment happens on checkout completion; an intent without
	// order metadata is expected and only worth a log line.
	log.Infof("[Billing] Payment intent %s succeeded (order %q)", intent.ID, intent.Metadata["order_number"])
	return nil
}

func (h *EventHandler) applyPaymentFailed(payload []byte) error {
	var intent paymentIntentPayload
	if err := json.Unmarshal(payload, &intent); err != nil {
		return fmt.Errorf("parse payment intent: %w", err)
	}
	if intent.ID == "" {
		return fmt.Errorf("%w: payment failure without intent id", ErrUnmatchedEntity)
	}

	order, err := h.repo.FindOrderByPaymentIntentID(intent.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no order for payment intent %s", ErrUnmatchedEntity, intent.ID)
		}
		return err
	}

	order.Status = models.ORDER_FAILED
	return h.repo.SaveOrder(order)
}

// metadataUserID extracts the owning user id a checkout session must carry.
func metadataUserID(metadata map[string]string) (uint, error) {
	raw := strings.TrimSpace(metadata["user_id"])
	if raw == "" {
		return 0, fmt.Errorf("%w: checkout session has no user_id metadata", ErrUnmatchedEntity)
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: checkout user_id metadata %q is not a valid id", ErrUnmatchedEntity, raw)
	}
	return uint(id), nil
}

// subscriptionPeriodEnd extracts the final period end from a subscription
// payload, preferring the item-level field used by current API versions and
// falling back to the subscription-level field of older payloads. Malformed
// values normalize to now.
func subscriptionPeriodEnd(sub subscriptionPayload) time.Time {
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd != nil {
		return NormalizeEpoch(sub.Items.Data[0].CurrentPeriodEnd)
	}
	return NormalizeEpoch(sub.CurrentPeriodEnd)
}
