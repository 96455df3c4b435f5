package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-service/internal/clock"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store/memory"

	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []models.Notification
	fail  bool
	panic bool
}

func (n *recordingNotifier) Notify(_ context.Context, notification *models.Notification) error {
	if n.panic {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, *notification)
	if n.fail {
		return errors.New("gateway unavailable")
	}
	return nil
}

func (n *recordingNotifier) count(userID, eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.UserID == userID && s.EventType == eventType {
			c++
		}
	}
	return c
}

// countingAvailability counts successful releases per product and can be
// told to fail them
type countingAvailability struct {
	Availability

	mu          sync.Mutex
	releases    map[string]int
	failRelease bool
}

func (a *countingAvailability) Release(ctx context.Context, productID string) error {
	a.mu.Lock()
	fail := a.failRelease
	a.mu.Unlock()
	if fail {
		return errors.New("release: connection refused")
	}

	if err := a.Availability.Release(ctx, productID); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releases[productID]++
	return nil
}

func (a *countingAvailability) setFailRelease(fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failRelease = fail
}

func (a *countingAvailability) released(productID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releases[productID]
}

type fixture struct {
	store        *memory.Store
	clock        *clock.Manual
	notifier     *recordingNotifier
	products     *ProductAvailability
	availability *countingAvailability
	orders       *OrderService
	offers       *OfferService
	payments     *PaymentService
	sweeper      *Sweeper
	checker      *ConsistencyChecker
	bank         models.PaymentTarget
	admin        models.Actor
	ctx          context.Context
}

func newFixture(t *testing.T, payOpts ...PaymentServiceOption) *fixture {
	t.Helper()

	clk := clock.NewManual(testStart)
	st := memory.New(memory.WithClock(clk))
	notifier := &recordingNotifier{}
	bank := models.PaymentTarget{BankName: "BCA", AccountNumber: "1234567890", AccountHolder: "Marketplace"}

	products := NewProductAvailability(st, nil)
	avail := &countingAvailability{Availability: products, releases: make(map[string]int)}
	orders := NewOrderService(st, avail, notifier, clk)
	offers := NewOfferService(st, avail, orders, notifier, clk)
	payments := NewPaymentService(st, orders, notifier, clk, bank, payOpts...)

	return &fixture{
		store:        st,
		clock:        clk,
		notifier:     notifier,
		products:     products,
		availability: avail,
		orders:       orders,
		offers:       offers,
		payments:     payments,
		sweeper:      NewSweeper(st, offers, orders, payments, clk, 0),
		checker:      NewConsistencyChecker(st, offers, avail, clk, 0, 0),
		bank:         bank,
		admin:        models.Actor{UserID: "admin-1", Role: models.RoleAdmin},
		ctx:          context.Background(),
	}
}

func (f *fixture) addProduct(t *testing.T, id, owner string, price int64) {
	t.Helper()
	require.NoError(t, f.store.CreateProduct(f.ctx, &models.Product{
		ID:        id,
		OwnerID:   owner,
		Price:     price,
		Status:    models.ProductAvailable,
		CreatedAt: testStart,
		UpdatedAt: testStart,
	}))
}

func (f *fixture) productStatus(t *testing.T, id string) models.ProductStatus {
	t.Helper()
	p, err := f.store.GetProduct(f.ctx, id)
	require.NoError(t, err)
	return p.Status
}

// requireSoldIffOneLiveOrder checks that every product is Sold exactly when
// one order holds it.
func (f *fixture) requireSoldIffOneLiveOrder(t *testing.T) {
	t.Helper()

	products, err := f.store.ListProducts(f.ctx)
	require.NoError(t, err)
	orders, err := f.store.ListOrders(f.ctx, models.OrderFilter{Limit: 10000})
	require.NoError(t, err)

	live := make(map[string]int)
	for _, o := range orders {
		if o.HoldsProduct() {
			live[o.ProductID]++
		}
	}
	for _, p := range products {
		require.LessOrEqual(t, live[p.ID], 1, "product %s has more than one live order", p.ID)
		if p.Status == models.ProductDeleted {
			continue
		}
		require.Equal(t, p.Status == models.ProductSold, live[p.ID] == 1,
			"product %s status %s with %d live orders", p.ID, p.Status, live[p.ID])
	}
}

type failingOrderRepo struct {
	OrderRepository
}

func (failingOrderRepo) CreateOrder(context.Context, *models.Order) error {
	return errors.New("connection reset")
}
