package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_TransitionTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusDraft:           {StatusAwaitingPayment, StatusCancelled},
		StatusAwaitingPayment: {StatusPaid, StatusCancelled},
		StatusPaid:            {StatusProcessing, StatusCancelled},
		StatusProcessing:      {StatusShipped, StatusCancelled},
		StatusShipped:         {StatusDelivered, StatusReturned},
		StatusDelivered:       {StatusReturned},
		StatusCancelled:       nil,
		StatusReturned:        nil,
	}

	for _, from := range Statuses {
		for _, to := range Statuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
		assert.Equal(t, allowed[from], from.Next(), "next of %s", from)
	}

	assert.False(t, statusInvalid.CanTransitionTo(StatusDraft))
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusReturned.IsTerminal())
	assert.False(t, StatusDelivered.IsTerminal())
}

func TestStatus_Text(t *testing.T) {
	for _, s := range Statuses {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var parsed Status
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStatus("CANCELLED")
	require.ErrorIs(t, err, ErrUnknownStatus)

	_, err = statusInvalid.MarshalText()
	require.Error(t, err)
	assert.False(t, Status(200).Valid())
	assert.Equal(t, "", Status(200).String())
}

func TestOrder_CheckTotals(t *testing.T) {
	o := &Order{Subtotal: 500000, Discount: 75000, ShippingFee: 30000, Tax: 47700, Total: 502700}
	require.NoError(t, o.CheckTotals())

	o.Total++
	require.ErrorIs(t, o.CheckTotals(), ErrInconsistentTotals)

	o = &Order{Subtotal: 10, Discount: 20, Total: 0}
	require.ErrorIs(t, o.CheckTotals(), ErrInconsistentTotals)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "SO-2025-000042", FormatNumber(2025, 42))
}
