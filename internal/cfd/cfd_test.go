package cfd

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lnperp/coordinator/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCalculateMargin(t *testing.T) {
	m, err := CalculateMargin(dec("30000"), dec("1000"), dec("2"))
	require.NoError(t, err)
	require.True(t, m.Equal(dec("15000000")), "got %s", m)
}

func TestCalculateMarginRejectsNonPositiveLeverage(t *testing.T) {
	_, err := CalculateMargin(dec("30000"), dec("1000"), decimal.Zero)
	require.Error(t, err)
}

func TestCalculatePnLLongProfit(t *testing.T) {
	// scenario 2 from the testable-properties list: closing a long at a
	// higher exit price than entry nets the long side a profit.
	pnl := CalculatePnL(dec("30000"), dec("33000"), dec("1000"), domain.Long, dec("15000000"), dec("15000000"))
	require.True(t, pnl.IsPositive())
}

func TestCalculatePnLShortLoss(t *testing.T) {
	pnl := CalculatePnL(dec("30000"), dec("33000"), dec("1000"), domain.Short, dec("15000000"), dec("15000000"))
	require.True(t, pnl.IsNegative())
}

func TestCalculatePnLClampsToMargins(t *testing.T) {
	marginLong := dec("100")
	marginShort := dec("100")
	pnl := CalculatePnL(dec("30000"), dec("999999999"), dec("1000"), domain.Long, marginLong, marginShort)
	require.True(t, pnl.Equal(marginShort))

	pnl = CalculatePnL(dec("30000"), dec("1"), dec("1000"), domain.Long, marginLong, marginShort)
	require.True(t, pnl.Equal(marginLong.Neg()))
}

func TestMarginsForSettle(t *testing.T) {
	pos := domain.Position{TraderMargin: dec("10"), CoordinatorMargin: dec("20")}

	ml, ms := MarginsForSettle(pos, domain.Long)
	require.True(t, ml.Equal(dec("10")))
	require.True(t, ms.Equal(dec("20")))

	ml, ms = MarginsForSettle(pos, domain.Short)
	require.True(t, ml.Equal(dec("20")))
	require.True(t, ms.Equal(dec("10")))
}

func TestOrderMatchingFeeTaker(t *testing.T) {
	taker := NewOrderMatchingFeeTaker(50)
	fee := taker.Fee(dec("30000000"))
	require.True(t, fee.Equal(dec("1500")), "got %s", fee)
}

func TestOrderMatchingFeeTakerZeroRate(t *testing.T) {
	taker := NewOrderMatchingFeeTaker(0)
	require.True(t, taker.Fee(dec("30000000")).IsZero())
}
