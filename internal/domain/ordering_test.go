package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time { return base.AddDate(0, 0, n) }

func expiring(n int) *time.Time {
	t := day(n)
	return &t
}

func ids(batches []Batch) []string {
	out := make([]string, len(batches))
	for i, b := range batches {
		out[i] = b.ID
	}
	return out
}

func TestFEFO_OrdersByExpiryThenReceived(t *testing.T) {
	batches := []Batch{
		{ID: "no-expiry-old", ReceivedAt: day(-10), Quantity: 1},
		{ID: "late", ReceivedAt: day(-9), Expiry: expiring(30), Quantity: 1},
		{ID: "early-young", ReceivedAt: day(-1), Expiry: expiring(5), Quantity: 1},
		{ID: "early-old", ReceivedAt: day(-8), Expiry: expiring(5), Quantity: 1},
		{ID: "no-expiry-young", ReceivedAt: day(-2), Quantity: 1},
	}

	ordered := FEFO.Apply(batches)

	assert.Equal(t, []string{"early-old", "early-young", "late", "no-expiry-old", "no-expiry-young"}, ids(ordered))
}

func TestFIFO_IgnoresExpiry(t *testing.T) {
	batches := []Batch{
		{ID: "b", ReceivedAt: day(-2), Expiry: expiring(1)},
		{ID: "a", ReceivedAt: day(-5), Expiry: expiring(90)},
		{ID: "c", ReceivedAt: day(-1)},
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(FIFO.Apply(batches)))
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	batches := []Batch{
		{ID: "b", ReceivedAt: day(2)},
		{ID: "a", ReceivedAt: day(1)},
	}

	_ = FIFO.Apply(batches)

	assert.Equal(t, []string{"b", "a"}, ids(batches))
}

func TestApply_IsStableForEqualKeys(t *testing.T) {
	batches := []Batch{
		{ID: "first", ReceivedAt: day(0), Expiry: expiring(3)},
		{ID: "second", ReceivedAt: day(0), Expiry: expiring(3)},
		{ID: "third", ReceivedAt: day(0), Expiry: expiring(3)},
	}

	assert.Equal(t, []string{"first", "second", "third"}, ids(FEFO.Apply(batches)))
}

func TestApply_FEFOIsIdempotent(t *testing.T) {
	batches := []Batch{
		{ID: "x", ReceivedAt: day(-3)},
		{ID: "y", ReceivedAt: day(-4), Expiry: expiring(2)},
		{ID: "z", ReceivedAt: day(-4), Expiry: expiring(1)},
	}

	once := FEFO.Apply(batches)
	assert.Equal(t, ids(once), ids(FEFO.Apply(once)))
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("FIFO")
	require.NoError(t, err)
	assert.Equal(t, "fifo", p.Name)

	p, err = PolicyByName("")
	require.NoError(t, err)
	assert.Equal(t, "fefo", p.Name)

	_, err = PolicyByName("lifo")
	assert.ErrorIs(t, err, ErrUnknownOrderingPolicy)
}
