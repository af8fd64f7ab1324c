package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"innovacollab/internal/model"
)

func TestPaymentSessionStore_TakeOnce(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewPaymentSessionStore(client, 30*time.Minute)
	ctx := context.Background()

	in := &model.PaymentSession{
		TransactionUUID: "txn-1",
		RoomID:          5,
		EnrollmentID:    9,
		UserID:          1,
		Amount:          decimal.NewFromInt(1000),
		TaxAmount:       decimal.NewFromInt(130),
		TotalAmount:     decimal.NewFromInt(1130),
	}
	require.NoError(t, store.Save(ctx, "browser-a", in))

	got, err := store.Take(ctx, "browser-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "txn-1", got.TransactionUUID)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(1130)))

	again, err := store.Take(ctx, "browser-a")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestPaymentSessionStore_ScopedByBrowserSession(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewPaymentSessionStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "browser-a", &model.PaymentSession{TransactionUUID: "a"}))

	other, err := store.Take(ctx, "browser-b")
	require.NoError(t, err)
	assert.Nil(t, other)

	empty, err := store.Take(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)

	assert.Error(t, store.Save(ctx, "", &model.PaymentSession{}))
}

func TestPaymentSessionStore_Expires(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewPaymentSessionStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "browser-a", &model.PaymentSession{TransactionUUID: "a"}))
	mr.FastForward(2 * time.Minute)

	got, err := store.Take(ctx, "browser-a")
	require.NoError(t, err)
	assert.Nil(t, got)
}
