package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/ilphub/ilphub.go/ilp"
	"github.com/ilphub/ilphub.go/ledger"
)

// HandleIncomingPrepare runs the forwarding state machine for one
// incoming transfer: validate, decode, rate-check, prepare downstream
// with a shrunk expiry, correlate. Any rejection here is terminal for
// the transfer; the structured reason goes back through the ledger.
func (svc *ConnectorService) HandleIncomingPrepare(ctx context.Context, incoming ledger.Transfer) {
	amount, err := strconv.ParseInt(incoming.Amount, 10, 64)
	if err != nil || amount < 0 {
		svc.reject(ctx, incoming.ID, ilp.RejectionReason{
			Code:           ilp.CodeInsufficientAmount,
			Name:           "Insufficient Destination Amount",
			Message:        fmt.Sprintf("Transfer amount %q is not a non-negative integer", incoming.Amount),
			TriggeredBy:    svc.Upstream.Account(),
			ForwardedBy:    []string{},
			AdditionalInfo: map[string]string{},
		})
		return
	}
	if svc.Config.MinAmount > 0 && amount < svc.Config.MinAmount {
		svc.reject(ctx, incoming.ID, ilp.InsufficientAmountReason(
			svc.Upstream.Account(),
			incoming.Amount,
			strconv.FormatInt(svc.Config.MinAmount, 10)))
		return
	}

	packet, err := ilp.DeserializePayment(incoming.ILP)
	if err != nil {
		svc.Logger.Infof("Could not decode payment packet transfer_id:%s %v", incoming.ID, err)
		svc.reject(ctx, incoming.ID, ilp.WrongConditionReason(svc.Upstream.Account(), incoming.ExecutionCondition))
		return
	}
	requested, err := strconv.ParseUint(packet.DestinationAmount, 10, 64)
	if err != nil {
		svc.reject(ctx, incoming.ID, ilp.WrongConditionReason(svc.Upstream.Account(), incoming.ExecutionCondition))
		return
	}

	// The connector must never promise more value downstream than the
	// incoming amount covers at the configured rate.
	if math.Floor(float64(amount)*svc.Quoter.Rate) < float64(requested) {
		svc.reject(ctx, incoming.ID, ilp.RejectionReason{
			Code:           ilp.CodeInsufficientAmount,
			Name:           "Insufficient Destination Amount",
			Message:        fmt.Sprintf("Incoming amount %s covers at most %d destination units, packet requests %s", incoming.Amount, int64(math.Floor(float64(amount)*svc.Quoter.Rate)), packet.DestinationAmount),
			TriggeredBy:    svc.Upstream.Account(),
			ForwardedBy:    []string{},
			AdditionalInfo: map[string]string{},
		})
		return
	}

	// Condition and packet are copied unchanged: the connector has no
	// shared secret and never re-derives a condition. The shrunk expiry
	// leaves room to relay a late downstream fulfillment upstream.
	outgoing := ledger.Transfer{
		ID:                 uuid.NewString(),
		From:               svc.Downstream.Account(),
		To:                 packet.DestinationAccount,
		Ledger:             svc.Downstream.Info().Prefix,
		Amount:             packet.DestinationAmount,
		ExecutionCondition: incoming.ExecutionCondition,
		ILP:                incoming.ILP,
		ExpiresAt:          incoming.ExpiresAt.Add(-svc.MinMessageWindow()),
	}

	// Record before the prepare call so even an instant fulfillment
	// callback finds the correlation.
	svc.Tracker.Record(outgoing.ID, incoming.ID, outgoing.ExpiresAt)
	if err := svc.Downstream.SendTransfer(ctx, outgoing); err != nil {
		svc.Tracker.Forget(outgoing.ID)
		svc.Logger.Errorf("Downstream prepare failed transfer_id:%s outgoing_id:%s %v", incoming.ID, outgoing.ID, err)
		return
	}
	svc.Logger.Infof("Forwarded transfer_id:%s outgoing_id:%s amount:%s -> %s", incoming.ID, outgoing.ID, incoming.Amount, outgoing.Amount)
}

// HandleOutgoingFulfill relays a downstream fulfillment to the upstream
// transfer it settles. The connector is a relay, not a re-signer: the
// exact bytes received are the preimage of the upstream condition too.
func (svc *ConnectorService) HandleOutgoingFulfill(ctx context.Context, outgoingID string, fulfillment []byte) {
	incomingID, found := svc.Tracker.Resolve(outgoingID)
	if !found {
		svc.Logger.Infof("No pending payment for fulfilled transfer outgoing_id:%s. Ignoring", outgoingID)
		return
	}
	// One fulfillment per correlation: drop the entry before relaying
	// so a duplicate callback cannot double-fulfill.
	svc.Tracker.Forget(outgoingID)

	err := svc.Upstream.FulfillCondition(ctx, incomingID, fulfillment)
	if err != nil {
		// A late fulfillment after the upstream expiry is the designed
		// failure mode, the ledger rolled the escrow back already.
		if errors.Is(err, ledger.ErrTransferExpired) || errors.Is(err, ledger.ErrAlreadyResolved) {
			svc.Logger.Infof("Upstream transfer no longer fulfillable transfer_id:%s %v", incomingID, err)
			return
		}
		svc.Logger.Errorf("Upstream fulfill failed transfer_id:%s %v", incomingID, err)
		return
	}
	svc.Logger.Infof("Relayed fulfillment transfer_id:%s outgoing_id:%s", incomingID, outgoingID)
	svc.TransferPubSub.Publish(TopicFulfilled, ledger.Transfer{
		ID:     incomingID,
		Ledger: svc.Upstream.Info().Prefix,
	})
}

// HandleQuoteRequest answers ILQP queries on the upstream message
// channel. Quote requests are independent of any transfer.
func (svc *ConnectorService) HandleQuoteRequest(ctx context.Context, msg ledger.Message) (ledger.Message, error) {
	packetType, err := ilp.PacketType(msg.ILP)
	if err != nil {
		return ledger.Message{}, err
	}

	var responseBytes []byte
	switch packetType {
	case ilp.TypeBySourceRequest:
		req, err := ilp.DeserializeBySourceRequest(msg.ILP)
		if err != nil {
			return ledger.Message{}, err
		}
		quote, err := svc.Quoter.BySource(req)
		if err != nil {
			return ledger.Message{}, err
		}
		responseBytes, err = quote.Serialize()
		if err != nil {
			return ledger.Message{}, err
		}
	case ilp.TypeByDestinationRequest:
		req, err := ilp.DeserializeByDestinationRequest(msg.ILP)
		if err != nil {
			return ledger.Message{}, err
		}
		quote, err := svc.Quoter.ByDestination(req)
		if err != nil {
			return ledger.Message{}, err
		}
		responseBytes, err = quote.Serialize()
		if err != nil {
			return ledger.Message{}, err
		}
	case ilp.TypeLiquidityRequest:
		req, err := ilp.DeserializeLiquidityRequest(msg.ILP)
		if err != nil {
			return ledger.Message{}, err
		}
		quote, err := svc.Quoter.Liquidity(req, timeNow())
		if err != nil {
			return ledger.Message{}, err
		}
		responseBytes, err = quote.Serialize()
		if err != nil {
			return ledger.Message{}, err
		}
	default:
		return ledger.Message{}, fmt.Errorf("unsupported quote request type %d", packetType)
	}

	return ledger.Message{
		ID:     uuid.NewString(),
		From:   msg.To,
		To:     msg.From,
		Ledger: msg.Ledger,
		ILP:    responseBytes,
	}, nil
}

func (svc *ConnectorService) reject(ctx context.Context, transferID string, reason ilp.RejectionReason) {
	if reason.TriggeredAt.IsZero() {
		reason.TriggeredAt = timeNow()
	}
	svc.Logger.Infof("Rejecting transfer_id:%s code:%s message:%s", transferID, reason.Code, reason.Message)
	if err := svc.Upstream.RejectIncomingTransfer(ctx, transferID, reason); err != nil {
		svc.Logger.Errorf("Reject failed transfer_id:%s %v", transferID, err)
	}
}
