package service

import (
	"strings"
	"testing"
	"time"

	"marketplace-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acceptedOrder runs scenario A: a 500,000 listing sold through a 400,000 offer
func acceptedOrder(t *testing.T, f *fixture) *models.Order {
	t.Helper()
	f.addProduct(t, "p", "seller", 500_000)
	offer, err := f.offers.CreateOffer(f.ctx, "buyer", "p", 400_000, "")
	require.NoError(t, err)
	_, order, err := f.offers.AcceptOffer(f.ctx, offer.ID, "seller")
	require.NoError(t, err)
	return order
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t)
	order := acceptedOrder(t, f)

	_, _, err := f.payments.CreatePayment(f.ctx, order.ID, "seller")
	assert.ErrorIs(t, err, models.ErrForbidden)

	payment, target, err := f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, f.bank, target)
	assert.Equal(t, int64(400_000), payment.Amount)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, testStart.Add(24*time.Hour), payment.ExpiresAt)
	assert.Len(t, payment.TransactionCode, 8)
	for _, c := range payment.TransactionCode {
		assert.True(t, strings.ContainsRune(codeAlphabet, c), "unexpected character %q", c)
	}

	_, _, err = f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	assert.ErrorIs(t, err, models.ErrPaymentExists)
}

func TestCreatePayment_OrderNotPending(t *testing.T) {
	f := newFixture(t)
	order := acceptedOrder(t, f)

	_, err := f.orders.ConfirmOrder(f.ctx, order.ID, "seller")
	require.NoError(t, err)

	_, _, err = f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestCreatePayment_LapsedOrder(t *testing.T) {
	f := newFixture(t)
	order := acceptedOrder(t, f)

	f.clock.Advance(25 * time.Hour)

	payment, _, err := f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	assert.ErrorIs(t, err, models.ErrExpired)
	assert.Nil(t, payment)

	stored, err := f.store.GetOrder(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, "confirmation window elapsed", *stored.CancellationReason)
	assert.Equal(t, models.ProductAvailable, f.productStatus(t, "p"))

	_, err = f.store.GetPaymentByOrder(f.ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Zero(t, f.notifier.count("buyer", models.EventTypePaymentCreated))
	f.requireSoldIffOneLiveOrder(t)
}

func TestCreatePayment_RetriesCodeCollisions(t *testing.T) {
	codes := []string{"TAKEN111", "TAKEN111", "FRESH222"}
	next := 0
	gen := func() (string, error) {
		c := codes[next]
		next++
		return c, nil
	}

	f := newFixture(t, WithCodeGenerator(gen))
	f.addProduct(t, "p1", "seller", 100)
	f.addProduct(t, "p2", "seller", 200)

	first, err := f.orders.CreateDirectOrder(f.ctx, "buyer", "p1")
	require.NoError(t, err)
	second, err := f.orders.CreateDirectOrder(f.ctx, "buyer", "p2")
	require.NoError(t, err)

	p1, _, err := f.payments.CreatePayment(f.ctx, first.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, "TAKEN111", p1.TransactionCode)

	p2, _, err := f.payments.CreatePayment(f.ctx, second.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, "FRESH222", p2.TransactionCode)
	assert.Equal(t, 3, next)
}

func TestCreatePayment_CodeSpaceExhausted(t *testing.T) {
	f := newFixture(t,
		WithCodeGenerator(func() (string, error) { return "SAMECODE", nil }),
		WithCodeMaxAttempts(3),
	)
	f.addProduct(t, "p1", "seller", 100)
	f.addProduct(t, "p2", "seller", 200)

	first, err := f.orders.CreateDirectOrder(f.ctx, "buyer", "p1")
	require.NoError(t, err)
	second, err := f.orders.CreateDirectOrder(f.ctx, "buyer", "p2")
	require.NoError(t, err)

	_, _, err = f.payments.CreatePayment(f.ctx, first.ID, "buyer")
	require.NoError(t, err)

	_, _, err = f.payments.CreatePayment(f.ctx, second.ID, "buyer")
	assert.ErrorIs(t, err, models.ErrResourceExhausted)

	_, err = f.store.GetPaymentByOrder(f.ctx, second.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPaymentScenarioD_ConfirmCascadesToOrder(t *testing.T) {
	f := newFixture(t)
	order := acceptedOrder(t, f)

	payment, _, err := f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, int64(400_000), payment.Amount)

	_, err = f.payments.AttachProof(f.ctx, payment.ID, "seller", "receipt.jpg")
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = f.payments.AttachProof(f.ctx, payment.ID, "buyer", "")
	assert.ErrorIs(t, err, models.ErrValidation)

	withProof, err := f.payments.AttachProof(f.ctx, payment.ID, "buyer", "uploads/receipt.jpg")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, withProof.Status)
	assert.Equal(t, "uploads/receipt.jpg", *withProof.Proof)

	_, err = f.payments.ConfirmPayment(f.ctx, payment.ID, models.Actor{UserID: "buyer", Role: models.RoleUser})
	assert.ErrorIs(t, err, models.ErrForbidden)

	confirmed, err := f.payments.ConfirmPayment(f.ctx, payment.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusConfirmed, confirmed.Status)
	assert.Equal(t, f.admin.UserID, *confirmed.ConfirmedBy)
	require.NotNil(t, confirmed.ConfirmedAt)

	stored, err := f.store.GetOrder(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, models.ProductSold, f.productStatus(t, "p"))

	_, err = f.payments.ConfirmPayment(f.ctx, payment.ID, f.admin)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestConfirmPayment_OrderAlreadyConfirmed(t *testing.T) {
	f := newFixture(t)
	order := acceptedOrder(t, f)

	payment, _, err := f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	require.NoError(t, err)
	_, err = f.orders.ConfirmOrder(f.ctx, order.ID, "seller")
	require.NoError(t, err)

	_, err = f.payments.ConfirmPayment(f.ctx, payment.ID, f.admin)
	require.NoError(t, err)

	stored, err := f.store.GetOrder(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
}

func TestConfirmPayment_CancelledOrder(t *testing.T) {
	f := newFixture(t)
	order := acceptedOrder(t, f)

	payment, _, err := f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	require.NoError(t, err)
	_, err = f.orders.CancelOrder(f.ctx, order.ID, models.Actor{UserID: "buyer"}, "")
	require.NoError(t, err)

	_, err = f.payments.ConfirmPayment(f.ctx, payment.ID, f.admin)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	stored, err := f.store.GetPayment(f.ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.Status)
}

func TestRejectPayment_CancelsPendingOrder(t *testing.T) {
	f := newFixture(t)
	order := acceptedOrder(t, f)

	payment, _, err := f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	require.NoError(t, err)

	_, err = f.payments.RejectPayment(f.ctx, payment.ID, f.admin, "")
	assert.ErrorIs(t, err, models.ErrValidation)

	rejected, err := f.payments.RejectPayment(f.ctx, payment.ID, f.admin, "amount does not match")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRejected, rejected.Status)
	assert.Equal(t, "amount does not match", *rejected.RejectionReason)
	assert.Equal(t, 1, f.notifier.count("buyer", models.EventTypePaymentRejected))

	stored, err := f.store.GetOrder(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, f.admin.UserID, *stored.CancelledBy)
	assert.Equal(t, models.ProductAvailable, f.productStatus(t, "p"))
	f.requireSoldIffOneLiveOrder(t)
}

func TestPaymentScenarioE_RejectAfterOrderConfirmed(t *testing.T) {
	f := newFixture(t)
	order := acceptedOrder(t, f)

	payment, _, err := f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	require.NoError(t, err)
	_, err = f.orders.ConfirmOrder(f.ctx, order.ID, "seller")
	require.NoError(t, err)

	rejected, err := f.payments.RejectPayment(f.ctx, payment.ID, f.admin, "proof is forged")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRejected, rejected.Status)

	stored, err := f.store.GetOrder(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status, "confirmed orders are not auto-cancelled")
	assert.Equal(t, models.ProductSold, f.productStatus(t, "p"))
	assert.Equal(t, 1, f.notifier.count("seller", models.EventTypePaymentRejected))
	f.requireSoldIffOneLiveOrder(t)
}

func TestAttachProof_Lapsed(t *testing.T) {
	f := newFixture(t)
	order := acceptedOrder(t, f)

	payment, _, err := f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)

	_, err = f.payments.AttachProof(f.ctx, payment.ID, "buyer", "late.jpg")
	assert.ErrorIs(t, err, models.ErrExpired)

	stored, err := f.store.GetPayment(f.ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRejected, stored.Status)
	assert.Equal(t, "proof-upload window elapsed", *stored.RejectionReason)
}

func TestAttachProof_NotifiesSellerAndReviewer(t *testing.T) {
	f := newFixture(t, WithProofReviewer("reviewer"))
	order := acceptedOrder(t, f)

	payment, _, err := f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	require.NoError(t, err)

	_, err = f.payments.AttachProof(f.ctx, payment.ID, "buyer", "")
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Zero(t, f.notifier.count("seller", models.EventTypePaymentProof))

	_, err = f.payments.AttachProof(f.ctx, payment.ID, "buyer", "uploads/receipt.jpg")
	require.NoError(t, err)

	assert.Equal(t, 1, f.notifier.count(order.SellerID, models.EventTypePaymentProof))
	assert.Equal(t, 1, f.notifier.count("reviewer", models.EventTypePaymentProof))
	assert.Zero(t, f.notifier.count("buyer", models.EventTypePaymentProof))
}

func TestListPayments(t *testing.T) {
	f := newFixture(t)
	order := acceptedOrder(t, f)
	f.addProduct(t, "p2", "seller", 100)
	other, err := f.orders.CreateDirectOrder(f.ctx, "buyer-2", "p2")
	require.NoError(t, err)

	payment, _, err := f.payments.CreatePayment(f.ctx, order.ID, "buyer")
	require.NoError(t, err)
	otherPayment, _, err := f.payments.CreatePayment(f.ctx, other.ID, "buyer-2")
	require.NoError(t, err)
	_, err = f.payments.ConfirmPayment(f.ctx, otherPayment.ID, f.admin)
	require.NoError(t, err)

	user := models.Actor{UserID: "buyer", Role: models.RoleUser}

	_, err = f.payments.ListPending(f.ctx, user)
	assert.ErrorIs(t, err, models.ErrForbidden)

	pending, err := f.payments.ListPending(f.ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, payment.ID, pending[0].ID)

	all, err := f.payments.ListAll(f.ctx, f.admin, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	confirmed, err := f.payments.ListAll(f.ctx, f.admin, models.PaymentStatusConfirmed)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, otherPayment.ID, confirmed[0].ID)

	own, err := f.payments.ListOwn(f.ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, own, 1)

	byOrder, err := f.payments.GetByOrder(f.ctx, order.ID, models.Actor{UserID: "seller"})
	require.NoError(t, err)
	assert.Equal(t, payment.ID, byOrder.ID)

	_, err = f.payments.GetByOrder(f.ctx, order.ID, models.Actor{UserID: "buyer-2"})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.payments.GetPayment(f.ctx, payment.ID, models.Actor{UserID: "buyer-2"})
	assert.ErrorIs(t, err, models.ErrForbidden)
}
