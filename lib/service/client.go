package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ilphub/ilphub.go/ilp"
	"github.com/ilphub/ilphub.go/ledger"
	"github.com/ilphub/ilphub.go/psk"
)

// PayRequest is a parsed Pay header.
type PayRequest struct {
	DestinationAmount  string
	DestinationAddress string
	SharedSecret       []byte
}

func ParsePayHeader(header string) (PayRequest, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 4 || parts[0] != PayHeaderScheme {
		return PayRequest{}, fmt.Errorf("not an %s Pay header: %q", PayHeaderScheme, header)
	}
	if _, err := strconv.ParseUint(parts[1], 10, 64); err != nil {
		return PayRequest{}, fmt.Errorf("bad amount in Pay header: %w", err)
	}
	secret, err := ilp.DecodeCondition(parts[3])
	if err != nil {
		return PayRequest{}, fmt.Errorf("bad shared secret in Pay header: %w", err)
	}
	return PayRequest{
		DestinationAmount:  parts[1],
		DestinationAddress: parts[2],
		SharedSecret:       secret,
	}, nil
}

// Payer sends PSK payments from one ledger connection. It keeps a
// single outgoing_fulfill dispatch point and a waiter table keyed by
// transfer id; each waiter is matched at most once and removed, so
// fulfillments for unknown transfers and duplicate callbacks fall
// through harmlessly.
type Payer struct {
	ledger ledger.Ledger

	mu      sync.Mutex
	waiters map[string]chan []byte
}

func NewPayer(l ledger.Ledger) *Payer {
	p := &Payer{
		ledger:  l,
		waiters: make(map[string]chan []byte),
	}
	l.OnOutgoingFulfill(func(transferID string, fulfillment []byte) {
		p.mu.Lock()
		ch, ok := p.waiters[transferID]
		if ok {
			delete(p.waiters, transferID)
		}
		p.mu.Unlock()
		if ok {
			ch <- fulfillment
		}
	})
	return p
}

// QuoteSource asks the connector how much to send so that the
// destination receives req.DestinationAmount.
func (p *Payer) QuoteSource(ctx context.Context, connectorAddress string, destinationAddress, destinationAmount string, holdDuration uint32) (string, error) {
	quoteBytes, err := ilp.ByDestinationRequest{
		DestinationAccount:      destinationAddress,
		DestinationAmount:       destinationAmount,
		DestinationHoldDuration: holdDuration,
	}.Serialize()
	if err != nil {
		return "", err
	}
	response, err := p.ledger.SendRequest(ctx, ledger.Message{
		ID:     uuid.NewString(),
		From:   p.ledger.Account(),
		To:     connectorAddress,
		Ledger: p.ledger.Info().Prefix,
		ILP:    quoteBytes,
	})
	if err != nil {
		return "", err
	}
	quote, err := ilp.DeserializeByDestinationResponse(response.ILP)
	if err != nil {
		return "", err
	}
	return quote.SourceAmount, nil
}

// Pay derives the PSK condition for one payment against the request's
// shared secret, quotes the source amount through the connector,
// prepares the transfer and waits for the fulfillment. paymentIndex
// distinguishes repeated payments within one session.
func (p *Payer) Pay(ctx context.Context, req PayRequest, connectorAddress string, paymentIndex int, expiry time.Duration) ([]byte, error) {
	destination := fmt.Sprintf("%s.%d", req.DestinationAddress, paymentIndex)
	packetBytes, err := ilp.Packet{
		DestinationAccount: destination,
		DestinationAmount:  req.DestinationAmount,
	}.Serialize()
	if err != nil {
		return nil, err
	}

	sourceAmount, err := p.QuoteSource(ctx, connectorAddress, destination, req.DestinationAmount, 3000)
	if err != nil {
		return nil, err
	}

	fulfillment := psk.DeriveFulfillment(req.SharedSecret, packetBytes)
	condition := psk.DeriveCondition(fulfillment)

	transfer := ledger.Transfer{
		ID:                 uuid.NewString(),
		From:               p.ledger.Account(),
		To:                 connectorAddress,
		Ledger:             p.ledger.Info().Prefix,
		Amount:             sourceAmount,
		ExecutionCondition: ilp.EncodeCondition(condition),
		ILP:                packetBytes,
		ExpiresAt:          timeNow().Add(expiry),
	}

	// Register the waiter before preparing, the fulfillment can beat
	// the SendTransfer return.
	ch := make(chan []byte, 1)
	p.mu.Lock()
	p.waiters[transfer.ID] = ch
	p.mu.Unlock()

	if err := p.ledger.SendTransfer(ctx, transfer); err != nil {
		p.mu.Lock()
		delete(p.waiters, transfer.ID)
		p.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.waiters, transfer.ID)
		p.mu.Unlock()
		return nil, ctx.Err()
	case received := <-ch:
		return received, nil
	}
}
