package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"innovacollab/internal/model"
	"innovacollab/internal/repository"
	"innovacollab/pkg/esewa"
)

const testSecret = "8gBm/:&EnhH.1/q"

type paymentFixture struct {
	svc         *paymentService
	sessions    repository.PaymentSessionStore
	enrollments *fakeEnrollmentRepo
	payments    *fakePaymentRepo
	user        *model.User
	room        *model.Room
	enrollment  *model.Enrollment
}

func newPaymentFixture(t *testing.T, verify bool) *paymentFixture {
	t.Helper()
	rdb := newTestRedis(t)
	sessions := repository.NewPaymentSessionStore(rdb, 30*time.Minute)
	enrollments := newFakeEnrollmentRepo()
	payments := &fakePaymentRepo{enrollments: enrollments, payments: map[uint]*model.Payment{}}
	room := &model.Room{ID: 3, Title: "Go", InstructorID: 9, IsActive: true, PremiumPrice: decimal.NewFromInt(1000)}
	rooms := &fakeRoomRepo{rooms: map[uint]*model.Room{3: room}}

	user := &model.User{ID: 1, Username: "alice"}
	enrollment := &model.Enrollment{UserID: 1, RoomID: 3, EnrollmentType: model.EnrollmentPremium, Status: model.EnrollmentPending}
	require.NoError(t, enrollments.Create(enrollment))

	gateway := esewa.Config{ProductCode: "EPAYTEST", SecretKey: testSecret, FormURL: "https://gw/form",
		SuccessURL: "https://app/payment/success", FailureURL: "https://app/payment/failure"}
	svc := NewPaymentService(sessions, payments, enrollments, rooms, gateway, verify).(*paymentService)
	svc.newTxnID = func() string { return "txn-1" }

	return &paymentFixture{svc: svc, sessions: sessions, enrollments: enrollments, payments: payments,
		user: user, room: room, enrollment: enrollment}
}

func signedCallback(t *testing.T, txnID, total, status string) url.Values {
	t.Helper()
	names := "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names"
	fields := map[string]string{
		"transaction_code":   "000AWEO",
		"status":             status,
		"total_amount":       total,
		"transaction_uuid":   txnID,
		"product_code":       "EPAYTEST",
		"signed_field_names": names,
	}
	payload := map[string]string{"signature": esewa.Sign(fields, esewa.SplitNames(names), testSecret)}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return url.Values{"data": {base64.StdEncoding.EncodeToString(b)}}
}

func TestOpen_ComputesTaxAndSignsForm(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()

	checkout, err := f.svc.Open(ctx, "sid-1", OpenPaymentRequest{RoomID: 3, EnrollmentID: f.enrollment.ID, UserID: 1, Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	assert.Equal(t, "130.00", checkout.Session.TaxAmount.StringFixed(2))
	assert.Equal(t, "1130.00", checkout.Session.TotalAmount.StringFixed(2))
	assert.Equal(t, "1130.0", checkout.Form.TotalAmount)
	assert.Equal(t, "txn-1", checkout.Form.TransactionUUID)
	assert.Equal(t, "0", checkout.Form.ProductServiceCharge)

	stored, err := f.sessions.Take(ctx, "sid-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "txn-1", stored.TransactionUUID)
}

func TestOpen_RoundsTax(t *testing.T) {
	f := newPaymentFixture(t, true)
	checkout, err := f.svc.Open(context.Background(), "sid", OpenPaymentRequest{Amount: decimal.RequireFromString("99.99")})
	require.NoError(t, err)
	assert.Equal(t, "13.00", checkout.Session.TaxAmount.StringFixed(2))
	assert.Equal(t, "112.99", checkout.Session.TotalAmount.StringFixed(2))
}

func TestComplete_SucceedsOnceThenSessionExpired(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.StartCheckout(ctx, f.user, "sid-1", 3, f.enrollment.ID)
	require.NoError(t, err)

	q := signedCallback(t, "txn-1", "1130.0", "COMPLETE")
	roomID, err := f.svc.Complete(ctx, "sid-1", q)
	require.NoError(t, err)
	assert.Equal(t, uint(3), roomID)

	e, err := f.enrollments.FindByID(f.enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentActive, e.Status)

	p, err := f.payments.FindByEnrollment(f.enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, "txn-1", p.TransactionID)
	assert.Equal(t, "000AWEO", p.EsewaRefID)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, model.PaymentCompleted, p.PaymentStatus)

	_, err = f.svc.Complete(ctx, "sid-1", q)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Len(t, f.payments.payments, 1)
}

func TestConsume_MismatchBurnsSession(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.Open(ctx, "sid-1", OpenPaymentRequest{RoomID: 3, Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	session, err := f.svc.Consume(ctx, "sid-1", "txn-1", "1.0")
	assert.ErrorIs(t, err, ErrVerificationMismatch)
	require.NotNil(t, session)

	_, err = f.svc.Consume(ctx, "sid-1", "txn-1", "1130.0")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestConsume_AcceptsEquivalentAmounts(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.Open(ctx, "sid-1", OpenPaymentRequest{RoomID: 3, Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	session, err := f.svc.Consume(ctx, "sid-1", "txn-1", "1130")
	require.NoError(t, err)
	assert.Equal(t, uint(3), session.RoomID)
}

func TestConsume_WrongTransaction(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.Open(ctx, "sid-1", OpenPaymentRequest{RoomID: 3, Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	_, err = f.svc.Consume(ctx, "sid-1", "someone-else", "1130.0")
	assert.ErrorIs(t, err, ErrVerificationMismatch)
}

func TestComplete_ScopedToBrowserSession(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.StartCheckout(ctx, f.user, "sid-1", 3, f.enrollment.ID)
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, "sid-2", signedCallback(t, "txn-1", "1130.0", "COMPLETE"))
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestComplete_RejectsUnsignedCallbackWhenVerifying(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.StartCheckout(ctx, f.user, "sid-1", 3, f.enrollment.ID)
	require.NoError(t, err)

	roomID, err := f.svc.Complete(ctx, "sid-1", url.Values{"oid": {"txn-1"}, "amt": {"1130.0"}, "refId": {"R"}})
	assert.ErrorIs(t, err, ErrVerificationMismatch)
	assert.Equal(t, uint(3), roomID)
	assert.Empty(t, f.payments.payments)

	s, err := f.sessions.Take(ctx, "sid-1")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestComplete_LegacyCallbackWithoutVerification(t *testing.T) {
	f := newPaymentFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.StartCheckout(ctx, f.user, "sid-1", 3, f.enrollment.ID)
	require.NoError(t, err)

	roomID, err := f.svc.Complete(ctx, "sid-1", url.Values{"oid": {"txn-1"}, "amt": {"1130.0"}, "refId": {"R"}})
	require.NoError(t, err)
	assert.Equal(t, uint(3), roomID)
	assert.Equal(t, "R", f.payments.payments[f.enrollment.ID].EsewaRefID)
}

func TestComplete_IncompleteStatus(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.StartCheckout(ctx, f.user, "sid-1", 3, f.enrollment.ID)
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, "sid-1", signedCallback(t, "txn-1", "1130.0", "PENDING"))
	assert.ErrorIs(t, err, ErrVerificationMismatch)
	assert.Empty(t, f.payments.payments)
}

func TestStartCheckout_Validation(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()

	other := &model.User{ID: 2}
	_, err := f.svc.StartCheckout(ctx, other, "sid", 3, f.enrollment.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	free := &model.Enrollment{UserID: 2, RoomID: 3, EnrollmentType: model.EnrollmentFree, Status: model.EnrollmentActive}
	require.NoError(t, f.enrollments.Create(free))
	_, err = f.svc.StartCheckout(ctx, other, "sid", 3, free.ID)
	assert.ErrorIs(t, err, ErrValidation)

	f.payments.payments[f.enrollment.ID] = &model.Payment{EnrollmentID: f.enrollment.ID}
	_, err = f.svc.StartCheckout(ctx, f.user, "sid", 3, f.enrollment.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestFail_DropsSession(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.Open(ctx, "sid-1", OpenPaymentRequest{RoomID: 3, Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	roomID, err := f.svc.Fail(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, uint(3), roomID)

	roomID, err = f.svc.Fail(ctx, "sid-1")
	require.NoError(t, err)
	assert.Zero(t, roomID)
}

func TestStartCheckout_StampsCheckoutTime(t *testing.T) {
	f := newPaymentFixture(t, true)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	_, err := f.svc.StartCheckout(context.Background(), f.user, "sid-1", 3, f.enrollment.ID)
	require.NoError(t, err)

	e, err := f.enrollments.FindByID(f.enrollment.ID)
	require.NoError(t, err)
	require.NotNil(t, e.CheckoutStartedAt)
	assert.True(t, now.Equal(*e.CheckoutStartedAt))
}

func TestStartCheckout_RejectsClosedEnrollment(t *testing.T) {
	f := newPaymentFixture(t, true)
	f.enrollments.enrollments[f.enrollment.ID].Status = model.EnrollmentCancelled

	_, err := f.svc.StartCheckout(context.Background(), f.user, "sid-1", 3, f.enrollment.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestComplete_CancelledAfterCheckout(t *testing.T) {
	f := newPaymentFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.StartCheckout(ctx, f.user, "sid-1", 3, f.enrollment.ID)
	require.NoError(t, err)
	f.enrollments.enrollments[f.enrollment.ID].Status = model.EnrollmentCancelled

	roomID, err := f.svc.Complete(ctx, "sid-1", signedCallback(t, "txn-1", "1130.0", "COMPLETE"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, uint(3), roomID)
	assert.Empty(t, f.payments.payments)
	assert.Equal(t, model.EnrollmentCancelled, f.enrollments.enrollments[f.enrollment.ID].Status)
}
