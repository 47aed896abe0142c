package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
)

// fakeRepo is an in-memory Repository used by the engine tests.
type fakeRepo struct {
	users         map[uint]*models.User
	profiles      map[uint]*models.BusinessProfile
	subscriptions map[string]*models.Subscription
	plans         map[uint]*models.SubscriptionPlan
	listings      []*models.BusinessListing
	orders        map[string]*models.Order
	activations   []*models.SubscriptionActivation
	webhookEvents map[string]*models.WebhookEvent

	nextID uint
	clock  time.Time

	failUserID uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:         map[uint]*models.User{},
		profiles:      map[uint]*models.BusinessProfile{},
		subscriptions: map[string]*models.Subscription{},
		plans:         map[uint]*models.SubscriptionPlan{},
		orders:        map[string]*models.Order{},
		webhookEvents: map[string]*models.WebhookEvent{},
		nextID:        1,
		clock:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRepo) allocID() uint {
	id := f.nextID
	f.nextID++
	return id
}

func (f *fakeRepo) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeRepo) addUser(u *models.User) *models.User {
	if u.ID == 0 {
		u.ID = f.allocID()
	}
	f.users[u.ID] = u
	return u
}

func (f *fakeRepo) addProfile(p *models.BusinessProfile) *models.BusinessProfile {
	if p.ID == 0 {
		p.ID = f.allocID()
	}
	if p.SubscriptionStatus == "" {
		p.SubscriptionStatus = models.SUBSCRIPTION_NONE
	}
	p.UpdatedAt = f.tick()
	f.profiles[p.ID] = p
	return p
}

func (f *fakeRepo) addPlan(p *models.SubscriptionPlan) *models.SubscriptionPlan {
	if p.ID == 0 {
		p.ID = f.allocID()
	}
	f.plans[p.ID] = p
	return p
}

func (f *fakeRepo) addListing(profileID uint, status string) {
	f.listings = append(f.listings, &models.BusinessListing{
		ID:                f.allocID(),
		BusinessProfileID: profileID,
		Status:            status,
	})
}

func (f *fakeRepo) addOrder(o *models.Order) *models.Order {
	if o.ID == 0 {
		o.ID = f.allocID()
	}
	f.orders[o.OrderNumber] = o
	return o
}

func (f *fakeRepo) FindActiveSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var matches []*models.Subscription
	for _, sub := range f.subscriptions {
		if sub.UserID == userID && sub.Status == models.BillingStatusActive {
			matches = append(matches, sub)
		}
	}
	if len(matches) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].CurrentPeriodEnd, matches[j].CurrentPeriodEnd
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
	out := *matches[0]
	return &out, nil
}

func (f *fakeRepo) FindSubscriptionByStripeID(id string) (*models.Subscription, error) {
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *sub
	return &out, nil
}

func (f *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	if existing, ok := f.subscriptions[sub.StripeSubscriptionID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else if sub.ID == 0 {
		sub.ID = f.allocID()
	}
	sub.UpdatedAt = f.tick()
	stored := *sub
	f.subscriptions[sub.StripeSubscriptionID] = &stored
	return nil
}

func (f *fakeRepo) UpdateSubscriptionStatus(id, status string, periodEnd *time.Time) (bool, error) {
	sub, ok := f.subscriptions[id]
	if !ok {
		return false, nil
	}
	sub.Status = status
	if periodEnd != nil {
		sub.CurrentPeriodEnd = periodEnd
	}
	sub.UpdatedAt = f.tick()
	return true, nil
}

func (f *fakeRepo) GetUser(id uint) (*models.User, error) {
	if f.failUserID != 0 && id == f.failUserID {
		return nil, fmt.Errorf("user lookup unavailable")
	}
	user, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *user
	return &out, nil
}

func (f *fakeRepo) GetUserByStripeCustomerID(customerID string) (*models.User, error) {
	for _, user := range f.users {
		if user.StripeCustomerID == customerID {
			out := *user
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) SaveUserBillingFlags(userID uint, accountType string, hasActive bool) error {
	user, ok := f.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	user.AccountType = accountType
	user.HasActiveSubscription = hasActive
	user.IsBusiness = accountType == models.ACCOUNT_TYPE_BUSINESS
	return nil
}

func (f *fakeRepo) GetProfileByID(id uint) (*models.BusinessProfile, error) {
	profile, ok := f.profiles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *profile
	return &out, nil
}

func (f *fakeRepo) GetProfileByUserID(userID uint) (*models.BusinessProfile, error) {
	for _, profile := range f.profiles {
		if profile.UserID == userID {
			out := *profile
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetProfileByStripeCustomerID(customerID string) (*models.BusinessProfile, error) {
	for _, profile := range f.profiles {
		if profile.StripeCustomerID == customerID {
			out := *profile
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) ListProfiles(offset, limit int) ([]models.BusinessProfile, error) {
	var all []*models.BusinessProfile
	for _, profile := range f.profiles {
		all = append(all, profile)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	var out []models.BusinessProfile
	for i := offset; i < len(all) && len(out) < limit; i++ {
		out = append(out, *all[i])
	}
	return out, nil
}

func (f *fakeRepo) CountProfiles() (int64, error) {
	return int64(len(f.profiles)), nil
}

func (f *fakeRepo) UpdateProfileGuarded(profile *models.BusinessProfile, updates map[string]interface{}) error {
	stored, ok := f.profiles[profile.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if !stored.UpdatedAt.Equal(profile.UpdatedAt) {
		return ErrStaleProfile
	}
	for column, value := range updates {
		switch column {
		case "subscription_status":
			stored.SubscriptionStatus = value.(string)
		case "stripe_subscription_id":
			stored.StripeSubscriptionID = value.(string)
		case "stripe_customer_id":
			stored.StripeCustomerID = value.(string)
		case "subscription_start":
			stored.SubscriptionStart = toTimePtr(value)
		case "subscription_end":
			stored.SubscriptionEnd = toTimePtr(value)
		case "plan_id":
			stored.PlanID = value.(uint)
		default:
			return fmt.Errorf("fakeRepo: unexpected update column %q", column)
		}
	}
	stored.UpdatedAt = f.tick()
	*profile = *stored
	return nil
}

func toTimePtr(value interface{}) *time.Time {
	switch v := value.(type) {
	case nil:
		return nil
	case *time.Time:
		return v
	case time.Time:
		return &v
	default:
		panic(fmt.Sprintf("fakeRepo: unexpected time value %T", value))
	}
}

func (f *fakeRepo) UpdateProfileListingCount(profileID uint, count int64) error {
	profile, ok := f.profiles[profileID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	profile.ActiveListingCount = count
	return nil
}

func (f *fakeRepo) CountActiveListings(profileID uint) (int64, error) {
	var count int64
	for _, listing := range f.listings {
		if listing.BusinessProfileID == profileID && listing.Status == models.LISTING_ACTIVE {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) FirstActivePlan() (*models.SubscriptionPlan, error) {
	var ids []uint
	for id, plan := range f.plans {
		if plan.IsActive {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := *f.plans[ids[0]]
	return &out, nil
}

func (f *fakeRepo) FindPlanByID(id uint) (*models.SubscriptionPlan, error) {
	plan, ok := f.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *plan
	return &out, nil
}

func (f *fakeRepo) CreatePlan(plan *models.SubscriptionPlan) error {
	f.addPlan(plan)
	return nil
}

func (f *fakeRepo) FindOrderByNumber(orderNumber string) (*models.Order, error) {
	order, ok := f.orders[orderNumber]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *order
	return &out, nil
}

func (f *fakeRepo) FindOrderByPaymentIntentID(paymentIntentID string) (*models.Order, error) {
	for _, order := range f.orders {
		if order.StripePaymentIntentID == paymentIntentID {
			out := *order
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) SaveOrder(order *models.Order) error {
	stored := *order
	f.orders[order.OrderNumber] = &stored
	return nil
}

func (f *fakeRepo) CreateActivation(a *models.SubscriptionActivation) error {
	a.ID = f.allocID()
	stored := *a
	f.activations = append(f.activations, &stored)
	return nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := f.webhookEvents[key]; ok {
		out := *existing
		return false, &out, nil
	}
	event.ID = f.allocID()
	stored := *event
	f.webhookEvents[key] = &stored
	out := stored
	return true, &out, nil
}

func (f *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, event := range f.webhookEvents {
		if event.ID == id {
			now := f.tick()
			event.ProcessedAt = &now
			event.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// fakeProcessor is a canned ProcessorClient.
type fakeProcessor struct {
	customers     map[string]ProcessorCustomer
	subscriptions map[string]ProcessorSubscription
	byCustomer    map[string][]ProcessorSubscription
	listCalls     int
	getCalls      int
	err           error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		customers:     map[string]ProcessorCustomer{},
		subscriptions: map[string]ProcessorSubscription{},
		byCustomer:    map[string][]ProcessorSubscription{},
	}
}

func (p *fakeProcessor) addSubscription(sub ProcessorSubscription) {
	p.subscriptions[sub.ID] = sub
	p.byCustomer[sub.CustomerID] = append(p.byCustomer[sub.CustomerID], sub)
}

func (p *fakeProcessor) GetCustomer(ctx context.Context, customerID string) (*ProcessorCustomer, error) {
	if p.err != nil {
		return nil, p.err
	}
	cust, ok := p.customers[customerID]
	if !ok {
		return nil, ErrProcessorNotFound
	}
	return &cust, nil
}

func (p *fakeProcessor) ListActiveSubscriptions(ctx context.Context, customerID string, limit int) ([]ProcessorSubscription, error) {
	p.listCalls++
	if p.err != nil {
		return nil, p.err
	}
	subs := p.byCustomer[customerID]
	var out []ProcessorSubscription
	for _, sub := range subs {
		if sub.Status != "active" {
			continue
		}
		out = append(out, sub)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *fakeProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error) {
	p.getCalls++
	if p.err != nil {
		return nil, p.err
	}
	sub, ok := p.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrProcessorNotFound
	}
	return &sub, nil
}
