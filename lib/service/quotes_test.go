package service

import (
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilphub/ilphub.go/ilp"
)

func testQuoter() *Quoter {
	return &Quoter{
		Rate:               200,
		SourceHoldDuration: 3000,
		Capacity:           1000000,
		AppliesToPrefix:    "example.usd-ledger.",
		QuoteExpiry:        time.Hour,
	}
}

func TestQuoteBySourceRoundsDown(t *testing.T) {
	quoter := testQuoter()
	quoter.Rate = 0.7

	resp, err := quoter.BySource(ilp.BySourceRequest{SourceAmount: "10"})
	require.NoError(t, err)
	assert.Equal(t, "7", resp.DestinationAmount)
	assert.EqualValues(t, 3000, resp.SourceHoldDuration)

	resp, err = quoter.BySource(ilp.BySourceRequest{SourceAmount: "9"})
	require.NoError(t, err)
	assert.Equal(t, "6", resp.DestinationAmount, "6.3 must round down, never up")

	_, err = quoter.BySource(ilp.BySourceRequest{SourceAmount: "lots"})
	assert.Error(t, err)
}

func TestQuoteByDestinationRoundsUp(t *testing.T) {
	quoter := testQuoter()
	quoter.Rate = 0.7

	resp, err := quoter.ByDestination(ilp.ByDestinationRequest{DestinationAmount: "6"})
	require.NoError(t, err)
	assert.Equal(t, "9", resp.SourceAmount, "8.57 must round up, never down")

	// 7/0.7 is exactly 10 in float64 yet floor(10*0.7) is 6, so the
	// quote has to go one source unit higher to actually cover 7
	resp, err = quoter.ByDestination(ilp.ByDestinationRequest{DestinationAmount: "7"})
	require.NoError(t, err)
	assert.Equal(t, "11", resp.SourceAmount)

	_, err = quoter.ByDestination(ilp.ByDestinationRequest{DestinationAmount: "-1"})
	assert.Error(t, err)
}

// For every quoted source amount, delivering at the rate must cover the
// requested destination amount. The connector may over-collect by a
// fraction of a unit but must never under-collect.
func TestQuotedSourceAlwaysCoversDestination(t *testing.T) {
	rates := []float64{0.005, 0.7, 1, 1.5, 200}
	for _, rate := range rates {
		quoter := testQuoter()
		quoter.Rate = rate
		for destination := uint64(1); destination <= 1000; destination++ {
			resp, err := quoter.ByDestination(ilp.ByDestinationRequest{
				DestinationAmount: strconv.FormatUint(destination, 10),
			})
			require.NoError(t, err)
			source, err := strconv.ParseUint(resp.SourceAmount, 10, 64)
			require.NoError(t, err)

			delivered := math.Floor(float64(source) * rate)
			assert.GreaterOrEqual(t, delivered, float64(destination),
				"rate %v destination %d source %d", rate, destination, source)
		}
	}
}

func TestQuoteLiquidityCurve(t *testing.T) {
	quoter := testQuoter()
	now := time.Now()

	resp, err := quoter.Liquidity(ilp.LiquidityRequest{DestinationAccount: "example.usd-ledger.shop"}, now)
	require.NoError(t, err)
	require.Len(t, resp.LiquidityCurve, 2)
	assert.Equal(t, ilp.CurvePoint{Input: 0, Output: 0}, resp.LiquidityCurve[0])
	assert.Equal(t, ilp.CurvePoint{Input: 1000000, Output: 200000000}, resp.LiquidityCurve[1])
	assert.Equal(t, "example.usd-ledger.", resp.AppliesToPrefix)
	assert.EqualValues(t, 3000, resp.SourceHoldDuration)
	assert.True(t, resp.ExpiresAt.Equal(now.Add(time.Hour)))
}
