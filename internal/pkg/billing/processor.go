package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/env"
)

// ErrProcessorNotFound is returned when the processor has no record for the
// requested id.
var ErrProcessorNotFound = errors.New("billing: processor record not found")

// ProcessorClient is the abstract capability the engine needs from the
// payment processor. Injected so the resolver and reconciler can run against
// test doubles.
type ProcessorClient interface {
	GetCustomer(ctx context.Context, customerID string) (*ProcessorCustomer, error)
	// ListActiveSubscriptions returns active subscriptions for a customer,
	// most recent first, at most limit entries.
	ListActiveSubscriptions(ctx context.Context, customerID string, limit int) ([]ProcessorSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error)
}

// StripeProcessor implements ProcessorClient against the Stripe API. All
// calls run inside a bounded jittered exponential backoff; only terminal
// failures surface to the caller.
type StripeProcessor struct {
	api         *client.API
	maxAttempts uint64
}

// NewStripeProcessor creates a processor client for the given secret key.
func NewStripeProcessor(secretKey string) *StripeProcessor {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProcessor{api: api, maxAttempts: 4}
}

// NewStripeProcessorFromEnv reads STRIPE_SECRET_KEY from the environment.
func NewStripeProcessorFromEnv() (*StripeProcessor, error) {
	key := env.GetEnv("STRIPE_SECRET_KEY", "")
	if key == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	return NewStripeProcessor(key), nil
}

func (p *StripeProcessor) GetCustomer(ctx context.Context, customerID string) (*ProcessorCustomer, error) {
	var out *ProcessorCustomer
	err := p.retry(ctx, "customer.get", func() error {
		cust, err := p.api.Customers.Get(customerID, &stripe.CustomerParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return err
		}
		out = &ProcessorCustomer{ID: cust.ID, Email: cust.Email}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *StripeProcessor) ListActiveSubscriptions(ctx context.Context, customerID string, limit int) ([]ProcessorSubscription, error) {
	if limit <= 0 {
		limit = 1
	}
	var out []ProcessorSubscription
	err := p.retry(ctx, "subscription.list", func() error {
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
		}
		params.Context = ctx
		params.Limit = stripe.Int64(int64(limit))

		out = out[:0]
		iter := p.api.Subscriptions.List(params)
		for iter.Next() {
			out = append(out, fromStripeSubscription(iter.Subscription()))
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *StripeProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error) {
	var out *ProcessorSubscription
	err := p.retry(ctx, "subscription.get", func() error {
		sub, err := p.api.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return err
		}
		s := fromStripeSubscription(sub)
		out = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// retry wraps one Stripe call in bounded jittered exponential backoff.
// Missing-resource errors are permanent and mapped to ErrProcessorNotFound.
func (p *StripeProcessor) retry(ctx context.Context, op string, call func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(200*time.Millisecond),
			backoff.WithMaxInterval(2*time.Second),
		), p.maxAttempts-1),
		ctx,
	)

	err := backoff.Retry(func() error {
		err := call()
		if err == nil {
			return nil
		}
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			switch stripeErr.HTTPStatusCode {
			case 404:
				return backoff.Permanent(ErrProcessorNotFound)
			case 400, 401, 403:
				return backoff.Permanent(err)
			}
		}
		return err
	}, policy)
	if err != nil {
		if errors.Is(err, ErrProcessorNotFound) {
			return ErrProcessorNotFound
		}
		return fmt.Errorf("stripe %s: %w", op, err)
	}
	return nil
}

// fromStripeSubscription maps a Stripe subscription onto the
// provider-agnostic snapshot. Period bounds live on the subscription items
// in the current API version; the first item carries the plan's period.
func fromStripeSubscription(sub *stripe.Subscription) ProcessorSubscription {
	out := ProcessorSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Interval:          models.BillingIntervalMonthly,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodStart = NormalizeEpochInt64(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = NormalizeEpochInt64(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceRef = item.Price.ID
			if item.Price.Recurring != nil && item.Price.Recurring.Interval == stripe.PriceRecurringIntervalYear {
				out.Interval = models.BillingIntervalYearly
			}
		}
	}
	return out
}
