package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidInput(t *testing.T) {
	_, err := New(-1, "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = New(100, "usd")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = New(100, "USDT")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	m, err := New(100, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(100), m.Amount())
	assert.Equal(t, Currency("USD"), m.Currency())
}

func TestAdd(t *testing.T) {
	sum, err := Must(1_500, "USD").Add(Must(2_500, "USD"))
	require.NoError(t, err)
	assert.Equal(t, int64(4_000), sum.Amount())

	_, err = Must(100, "USD").Add(Must(100, "EUR"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestSubtract(t *testing.T) {
	diff, err := Must(5_000, "USD").Subtract(Must(2_000, "USD"))
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), diff.Amount())

	_, err = Must(1_000, "USD").Subtract(Must(2_000, "USD"))
	assert.ErrorIs(t, err, ErrNegativeResult)

	_, err = Must(1_000, "USD").Subtract(Must(500, "EUR"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestComparisons(t *testing.T) {
	gt, err := Must(200, "USD").GreaterThan(Must(100, "USD"))
	require.NoError(t, err)
	assert.True(t, gt)

	lt, err := Must(100, "USD").LessThan(Must(200, "USD"))
	require.NoError(t, err)
	assert.True(t, lt)

	_, err = Must(100, "USD").GreaterThan(Must(100, "EUR"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	assert.True(t, Must(100, "USD").Equals(Must(100, "USD")))
	assert.False(t, Must(100, "USD").Equals(Must(100, "EUR")))
	assert.False(t, Must(100, "USD").Equals(Must(101, "USD")))
}

func TestJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Must(10_000, "XAF"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":10000,"currency":"XAF"}`, string(data))

	var decoded Money
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Equals(Must(10_000, "XAF")))

	var bad Money
	err = json.Unmarshal([]byte(`{"amount":-5,"currency":"USD"}`), &bad)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
