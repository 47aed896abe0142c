package billing

import (
	"errors"
	"time"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleProfile is returned when a guarded profile update lost the race
// against a concurrent writer.
var ErrStaleProfile = errors.New("billing: profile was modified concurrently")

// Repository provides the DB operations used by the reconciliation engine.
type Repository interface {
	// subscriptions
	FindActiveSubscriptionByUser(userID uint) (*models.Subscription, error)
	FindSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error
	// UpdateSubscriptionStatus reports whether a row matched the external id.
	UpdateSubscriptionStatus(stripeSubscriptionID, status string, periodEnd *time.Time) (bool, error)

	// users
	GetUser(id uint) (*models.User, error)
	GetUserByStripeCustomerID(customerID string) (*models.User, error)
	SaveUserBillingFlags(userID uint, accountType string, hasActive bool) error

	// business profiles
	GetProfileByID(id uint) (*models.BusinessProfile, error)
	GetProfileByUserID(userID uint) (*models.BusinessProfile, error)
	GetProfileByStripeCustomerID(customerID string) (*models.BusinessProfile, error)
	ListProfiles(offset, limit int) ([]models.BusinessProfile, error)
	CountProfiles() (int64, error)
	UpdateProfileGuarded(profile *models.BusinessProfile, updates map[string]interface{}) error
	UpdateProfileListingCount(profileID uint, count int64) error

	// listings
	CountActiveListings(profileID uint) (int64, error)

	// plans
	FirstActivePlan() (*models.SubscriptionPlan, error)
	FindPlanByID(id uint) (*models.SubscriptionPlan, error)
	CreatePlan(plan *models.SubscriptionPlan) error

	// orders
	FindOrderByNumber(orderNumber string) (*models.Order, error)
	FindOrderByPaymentIntentID(paymentIntentID string) (*models.Order, error)
	SaveOrder(order *models.Order) error

	// audit + idempotency ledger
	CreateActivation(a *models.SubscriptionActivation) error
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindActiveSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status = ?", userID, models.BillingStatusActive).
		Order("current_period_end DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stripe_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"plan_id",
			"status",
			"stripe_customer_id",
			"current_period_start",
			"current_period_end",
			"interval",
			"cancel_at_period_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("stripe_subscription_id = ?", sub.StripeSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) UpdateSubscriptionStatus(stripeSubscriptionID, status string, periodEnd *time.Time) (bool, error) {
	updates := map[string]interface{}{"status": status}
	if periodEnd != nil {
		updates["current_period_end"] = periodEnd
	}
	tx := r.db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByStripeCustomerID(customerID string) (*models.User, error) {
	return models.FindUserByStripeCustomerID(r.db, customerID)
}

func (r *gormRepository) SaveUserBillingFlags(userID uint, accountType string, hasActive bool) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"account_type":            accountType,
		"has_active_subscription": hasActive,
		"is_business":             accountType == models.ACCOUNT_TYPE_BUSINESS,
	}).Error
}

func (r *gormRepository) GetProfileByID(id uint) (*models.BusinessProfile, error) {
	var profile models.BusinessProfile
	if err := r.db.First(&profile, id).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *gormRepository) GetProfileByUserID(userID uint) (*models.BusinessProfile, error) {
	return models.FindBusinessProfileByUserID(r.db, userID)
}

func (r *gormRepository) GetProfileByStripeCustomerID(customerID string) (*models.BusinessProfile, error) {
	return models.FindBusinessProfileByStripeCustomerID(r.db, customerID)
}

func (r *gormRepository) ListProfiles(offset, limit int) ([]models.BusinessProfile, error) {
	var profiles []models.BusinessProfile
	err := r.db.Order("id ASC").Offset(offset).Limit(limit).Find(&profiles).Error
	return profiles, err
}

func (r *gormRepository) CountProfiles() (int64, error) {
	var count int64
	err := r.db.Model(&models.BusinessProfile{}).Count(&count).Error
	return count, err
}

// UpdateProfileGuarded applies updates only if the row still carries the
// updated_at value the caller read, so the webhook path and the batch job
// cannot interleave partial writes on the same profile.
func (r *gormRepository) UpdateProfileGuarded(profile *models.BusinessProfile, updates map[string]interface{}) error {
	tx := r.db.Model(&models.BusinessProfile{}).
		Where("id = ? AND updated_at = ?", profile.ID, profile.UpdatedAt).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrStaleProfile
	}
	return r.db.First(profile, profile.ID).Error
}

func (r *gormRepository) UpdateProfileListingCount(profileID uint, count int64) error {
	return r.db.Model(&models.BusinessProfile{}).
		Where("id = ?", profileID).
		Update("active_listing_count", count).Error
}

func (r *gormRepository) CountActiveListings(profileID uint) (int64, error) {
	return models.CountActiveListings(r.db, profileID)
}

func (r *gormRepository) FirstActivePlan() (*models.SubscriptionPlan, error) {
	return models.FirstActivePlan(r.db)
}

func (r *gormRepository) FindPlanByID(id uint) (*models.SubscriptionPlan, error) {
	return models.FindPlanByID(r.db, id)
}

func (r *gormRepository) CreatePlan(plan *models.SubscriptionPlan) error {
	return r.db.Create(plan).Error
}

func (r *gormRepository) FindOrderByNumber(orderNumber string) (*models.Order, error) {
	var order models.Order
	if err := r.db.Where("order_number = ?", orderNumber).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) FindOrderByPaymentIntentID(paymentIntentID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.Where("stripe_payment_intent_id = ?", paymentIntentID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) SaveOrder(order *models.Order) error {
	return r.db.Save(order).Error
}

func (r *gormRepository) CreateActivation(a *models.SubscriptionActivation) error {
	return r.db.Create(a).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
