package service

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ilphub/ilphub.go/ilp"
)

// Quoter answers the three ILQP query variants from a fixed exchange
// rate and fixed hold durations. It is stateless: identical inputs
// produce identical outputs, the caller supplies the clock where a
// timestamp is needed.
type Quoter struct {
	// Rate is destination units per source unit.
	Rate               float64
	SourceHoldDuration uint32
	Capacity           uint64
	AppliesToPrefix    string
	QuoteExpiry        time.Duration
}

// BySource converts a source amount into the destination amount the
// connector will deliver for it, rounding down: the connector keeps the
// remainder, it never promises more than the rate yields.
func (q *Quoter) BySource(req ilp.BySourceRequest) (ilp.BySourceResponse, error) {
	source, err := strconv.ParseUint(req.SourceAmount, 10, 64)
	if err != nil {
		return ilp.BySourceResponse{}, fmt.Errorf("bad source amount %q: %w", req.SourceAmount, err)
	}
	destination := math.Floor(float64(source) * q.Rate)
	if destination < 0 || destination > math.MaxUint64 {
		return ilp.BySourceResponse{}, fmt.Errorf("source amount %d exceeds quotable range", source)
	}
	return ilp.BySourceResponse{
		DestinationAmount:  strconv.FormatUint(uint64(destination), 10),
		SourceHoldDuration: q.SourceHoldDuration,
	}, nil
}

// ByDestination converts a destination amount into the source amount
// the connector must collect for it, rounding up. The asymmetry with
// BySource is deliberate: rounding this one down would let a payer buy
// destination units the connector never received cover for.
func (q *Quoter) ByDestination(req ilp.ByDestinationRequest) (ilp.ByDestinationResponse, error) {
	destination, err := strconv.ParseUint(req.DestinationAmount, 10, 64)
	if err != nil {
		return ilp.ByDestinationResponse{}, fmt.Errorf("bad destination amount %q: %w", req.DestinationAmount, err)
	}
	source := math.Ceil(float64(destination) / q.Rate)
	if source < 0 || source > math.MaxUint64 {
		return ilp.ByDestinationResponse{}, fmt.Errorf("destination amount %d exceeds quotable range", destination)
	}
	// The quotient can land on an integer whose rounded-down conversion
	// still falls one unit short (e.g. 7/0.7 is exactly 10 in float64
	// while floor(10*0.7) is 6). Bump until the source amount actually
	// covers the destination under the same arithmetic the forwarding
	// check uses.
	for math.Floor(source*q.Rate) < float64(destination) {
		source++
	}
	return ilp.ByDestinationResponse{
		SourceAmount:       strconv.FormatUint(uint64(source), 10),
		SourceHoldDuration: q.SourceHoldDuration,
	}, nil
}

// Liquidity describes the connector's throughput as a two-point linear
// curve at the configured rate, scoped to the ledger prefix it serves.
func (q *Quoter) Liquidity(req ilp.LiquidityRequest, now time.Time) (ilp.LiquidityResponse, error) {
	maxOutput := math.Floor(float64(q.Capacity) * q.Rate)
	if maxOutput < 0 || maxOutput > math.MaxUint64 {
		return ilp.LiquidityResponse{}, fmt.Errorf("liquidity capacity %d exceeds quotable range", q.Capacity)
	}
	return ilp.LiquidityResponse{
		LiquidityCurve: []ilp.CurvePoint{
			{Input: 0, Output: 0},
			{Input: q.Capacity, Output: uint64(maxOutput)},
		},
		AppliesToPrefix:    q.AppliesToPrefix,
		SourceHoldDuration: q.SourceHoldDuration,
		ExpiresAt:          now.Add(q.QuoteExpiry),
	}, nil
}
