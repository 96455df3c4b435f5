package service

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"marketplace-service/internal/models"

	"github.com/stretchr/testify/require"
)

// TestRandomOperationsKeepSoldIffLiveOrder drives random sequences of every
// mutating operation and checks product availability after each step.
func TestRandomOperationsKeepSoldIffLiveOrder(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			f := newFixture(t)

			products := []string{"p0", "p1", "p2"}
			users := []string{"u0", "u1", "u2", "u3"}
			for i, id := range products {
				f.addProduct(t, id, users[i], 1000)
			}

			pick := func(list []string) string { return list[rng.Intn(len(list))] }
			actor := func() models.Actor {
				if rng.Intn(10) == 0 {
					return f.admin
				}
				return models.Actor{UserID: pick(users), Role: models.RoleUser}
			}

			for step := 0; step < 300; step++ {
				offers, err := f.store.ListOffers(f.ctx, models.OfferFilter{Limit: 1000})
				require.NoError(t, err)
				orders, err := f.store.ListOrders(f.ctx, models.OrderFilter{Limit: 1000})
				require.NoError(t, err)
				payments, err := f.store.ListPayments(f.ctx, models.PaymentFilter{Limit: 1000})
				require.NoError(t, err)

				randomOffer := func() *models.Offer {
					if len(offers) == 0 {
						return nil
					}
					return &offers[rng.Intn(len(offers))]
				}
				randomOrder := func() *models.Order {
					if len(orders) == 0 {
						return nil
					}
					return &orders[rng.Intn(len(orders))]
				}
				randomPayment := func() *models.Payment {
					if len(payments) == 0 {
						return nil
					}
					return &payments[rng.Intn(len(payments))]
				}

				// errors are expected; only the invariant matters here
				switch rng.Intn(14) {
				case 0:
					_, _ = f.offers.CreateOffer(f.ctx, pick(users), pick(products), int64(1+rng.Intn(1000)), "")
				case 1:
					if o := randomOffer(); o != nil {
						_, _, _ = f.offers.AcceptOffer(f.ctx, o.ID, o.SellerID)
					}
				case 2:
					if o := randomOffer(); o != nil {
						_, _ = f.offers.CounterOffer(f.ctx, o.ID, o.SellerID, int64(1+rng.Intn(1000)), "")
					}
				case 3:
					if o := randomOffer(); o != nil {
						_, _, _ = f.offers.AcceptCounterOffer(f.ctx, o.ID, o.BuyerID)
					}
				case 4:
					if o := randomOffer(); o != nil {
						_, _ = f.offers.RejectOffer(f.ctx, o.ID, o.SellerID)
					}
				case 5:
					if o := randomOffer(); o != nil {
						_, _ = f.offers.CancelOffer(f.ctx, o.ID, o.BuyerID)
					}
				case 6:
					_, _ = f.orders.CreateDirectOrder(f.ctx, pick(users), pick(products))
				case 7:
					if o := randomOrder(); o != nil {
						_, _ = f.orders.ConfirmOrder(f.ctx, o.ID, o.SellerID)
					}
				case 8:
					if o := randomOrder(); o != nil {
						_, _ = f.orders.CancelOrder(f.ctx, o.ID, actor(), "")
					}
				case 9:
					if o := randomOrder(); o != nil {
						_, _ = f.orders.CompleteOrder(f.ctx, o.ID)
					}
				case 10:
					if o := randomOrder(); o != nil {
						_, _, _ = f.payments.CreatePayment(f.ctx, o.ID, o.BuyerID)
					}
				case 11:
					if p := randomPayment(); p != nil {
						if rng.Intn(2) == 0 {
							_, _ = f.payments.ConfirmPayment(f.ctx, p.ID, f.admin)
						} else {
							_, _ = f.payments.RejectPayment(f.ctx, p.ID, f.admin, "mismatch")
						}
					}
				case 12:
					f.clock.Advance(time.Duration(rng.Intn(12)) * time.Hour)
					f.sweeper.Sweep(f.ctx)
				case 13:
					if p := randomPayment(); p != nil {
						_, _ = f.payments.AttachProof(f.ctx, p.ID, p.BuyerID, "proof")
					}
				}

				f.requireSoldIffOneLiveOrder(t)
				requireOfferOrderAgreement(t, f)
			}
		})
	}
}

// requireOfferOrderAgreement checks that orders created from offers point at
// accepted offers with a matching price, and payments match their order.
func requireOfferOrderAgreement(t *testing.T, f *fixture) {
	t.Helper()

	orders, err := f.store.ListOrders(f.ctx, models.OrderFilter{Limit: 1000})
	require.NoError(t, err)
	for _, o := range orders {
		if o.OfferID == nil {
			continue
		}
		offer, err := f.store.GetOffer(f.ctx, *o.OfferID)
		require.NoError(t, err)
		require.Equal(t, models.OfferStatusAccepted, offer.Status)
		if offer.CounterOfferPrice != nil {
			require.Contains(t, []int64{offer.OfferPrice, *offer.CounterOfferPrice}, o.FinalPrice)
		} else {
			require.Equal(t, offer.OfferPrice, o.FinalPrice)
		}

		payment, err := f.store.GetPaymentByOrder(f.ctx, o.ID)
		if err == nil {
			require.Equal(t, o.FinalPrice, payment.Amount)
		}
	}

	pending := make(map[string]int)
	offers, err := f.store.ListOffers(f.ctx, models.OfferFilter{Status: models.OfferStatusPending, Limit: 1000})
	require.NoError(t, err)
	for _, o := range offers {
		pending[o.BuyerID+"/"+o.ProductID]++
		require.Equal(t, 1, pending[o.BuyerID+"/"+o.ProductID], "duplicate pending offer for %s on %s", o.BuyerID, o.ProductID)
	}
}
