package billing

import (
	"time"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
)

// Source identifies which authority produced a resolved subscription state.
type Source string

const (
	SourceLocal     Source = "local"
	SourceProcessor Source = "processor"
	SourceNone      Source = "none"
)

// ResolvedState is the outcome of the subscription state resolver for one
// user: whether an active subscription exists, the local row backing it, and
// which authority answered.
type ResolvedState struct {
	HasActive    bool
	Subscription *models.Subscription
	Source       Source
}

// ProcessorSubscription is the provider-agnostic snapshot of a subscription
// as reported by the payment processor.
type ProcessorSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceRef           string
	Interval           string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// ProcessorCustomer is the subset of a processor customer record the engine
// cares about.
type ProcessorCustomer struct {
	ID    string
	Email string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// ItemError records one profile's failure during a batch run without
// aborting the run.
type ItemError struct {
	BusinessProfileID uint   `json:"business_profile_id"`
	Stage             string `json:"stage"`
	Message           string `json:"message"`
}

// RunSummary is the outcome of one batch reconciliation pass.
type RunSummary struct {
	RunID          string      `json:"run_id"`
	Total          int         `json:"total"`
	Updated        int         `json:"updated"`
	AlreadyCorrect int         `json:"already_correct"`
	StripeUpdated  int         `json:"stripe_updated"`
	ManualReview   int         `json:"manual_review"`
	Errors         []ItemError `json:"errors"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
}
