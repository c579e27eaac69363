package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ilphub/ilphub.go/ilp"
	"github.com/ilphub/ilphub.go/ledger"
	"github.com/ilphub/ilphub.go/psk"
	"github.com/ziflex/lecho/v3"
)

// PayHeaderScheme prefixes the Pay response header:
// "interledger-psk <amount> <address.sessionId> <base64url secret>".
const PayHeaderScheme = "interledger-psk"

// ShopService is the payee: it hands out PSK sessions over HTTP,
// verifies inbound transfers against the session secret and delivers a
// letter per settled payment.
type ShopService struct {
	Config   *Config
	Logger   *lecho.Logger
	Ledger   ledger.Ledger
	Sessions *SessionStore

	mu      sync.Mutex
	letters map[string]string // base64url fulfillment -> letter, for /:fulfillment collection
}

func NewShopService(c *Config, logger *lecho.Logger, l ledger.Ledger) *ShopService {
	return &ShopService{
		Config:   c,
		Logger:   logger,
		Ledger:   l,
		Sessions: NewSessionStore(time.Duration(c.SessionTTL) * time.Second),
		letters:  make(map[string]string),
	}
}

func (svc *ShopService) Start(ctx context.Context) error {
	if err := svc.Ledger.Connect(ctx); err != nil {
		return err
	}
	svc.Ledger.OnIncomingPrepare(func(transfer ledger.Transfer) {
		svc.HandleIncomingPrepare(ctx, transfer)
	})
	svc.Sessions.StartSweepLoop(ctx, time.Duration(svc.Config.SweepInterval)*time.Second)
	svc.Logger.Infof("Shop accepting payments on %s price:%d", svc.Ledger.Account(), svc.Config.ShopPrice)
	return nil
}

// PayHeader builds the 402 response header for a fresh session.
func (svc *ShopService) PayHeader(session *Session) string {
	return fmt.Sprintf("%s %d %s.%s %s",
		PayHeaderScheme,
		svc.Config.ShopPrice,
		svc.Ledger.Account(),
		session.ID,
		ilp.EncodeCondition(session.Secret))
}

// HandleIncomingPrepare verifies a PSK payment and fulfills it. The
// fulfillment is recomputed from the session secret and the transfer's
// exact ilp bytes; any disagreement with the attached condition is an
// F05 rejection, never a silent drop.
func (svc *ShopService) HandleIncomingPrepare(ctx context.Context, transfer ledger.Transfer) {
	account := svc.Ledger.Account()

	amount, err := strconv.ParseInt(transfer.Amount, 10, 64)
	if err != nil || amount < 0 {
		svc.reject(ctx, transfer.ID, ilp.InsufficientAmountReason(account, transfer.Amount, strconv.FormatInt(svc.Config.ShopPrice, 10)))
		return
	}
	if amount < svc.Config.ShopPrice {
		svc.Logger.Infof("Payment received for the wrong amount (%s). Rejected", transfer.Amount)
		svc.reject(ctx, transfer.ID, ilp.InsufficientAmountReason(account, transfer.Amount, strconv.FormatInt(svc.Config.ShopPrice, 10)))
		return
	}

	packet, err := ilp.DeserializePayment(transfer.ILP)
	if err != nil {
		svc.Logger.Infof("Could not decode payment packet transfer_id:%s %v", transfer.ID, err)
		svc.reject(ctx, transfer.ID, ilp.WrongConditionReason(account, transfer.ExecutionCondition))
		return
	}
	// The packet is what the condition commits to; its amount must
	// agree with what the ledger actually escrowed.
	if packet.DestinationAmount != transfer.Amount {
		svc.reject(ctx, transfer.ID, ilp.InsufficientAmountReason(account, transfer.Amount, packet.DestinationAmount))
		return
	}

	addr, err := ilp.ParseAddress(svc.Ledger.Info().Prefix, packet.DestinationAccount)
	if err != nil || addr.SessionID == "" {
		svc.Logger.Infof("Payment to unparseable destination %q transfer_id:%s", packet.DestinationAccount, transfer.ID)
		svc.reject(ctx, transfer.ID, ilp.WrongConditionReason(account, transfer.ExecutionCondition))
		return
	}
	session, ok := svc.Sessions.Lookup(addr.SessionID)
	if !ok {
		svc.Logger.Infof("Payment for unknown session %q transfer_id:%s", addr.SessionID, transfer.ID)
		svc.reject(ctx, transfer.ID, ilp.WrongConditionReason(account, transfer.ExecutionCondition))
		return
	}

	if !psk.VerifyCondition(session.Secret, transfer.ILP, transfer.ExecutionCondition) {
		// Forensically useful, but the secret stays out of the log.
		svc.Logger.Infof("Condition mismatch session:%s transfer_id:%s condition:%s", addr.SessionID, transfer.ID, transfer.ExecutionCondition)
		svc.reject(ctx, transfer.ID, ilp.WrongConditionReason(account, transfer.ExecutionCondition))
		return
	}

	fulfillment := psk.DeriveFulfillment(session.Secret, transfer.ILP)
	if err := svc.Ledger.FulfillCondition(ctx, transfer.ID, fulfillment); err != nil {
		svc.Logger.Errorf("Error fulfilling the transfer transfer_id:%s %v", transfer.ID, err)
		return
	}

	letter := randomLetter()
	svc.mu.Lock()
	svc.letters[ilp.EncodeCondition(fulfillment)] = letter
	svc.mu.Unlock()
	if session.Deliver != nil {
		session.Deliver(letter)
	}
	svc.Logger.Infof("Accepted payment session:%s transfer_id:%s letter:%s", addr.SessionID, transfer.ID, letter)
}

// CollectLetter exchanges a fulfillment for the letter it paid for.
func (svc *ShopService) CollectLetter(fulfillment string) (string, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	letter, ok := svc.letters[fulfillment]
	return letter, ok
}

func (svc *ShopService) reject(ctx context.Context, transferID string, reason ilp.RejectionReason) {
	if err := svc.Ledger.RejectIncomingTransfer(ctx, transferID, reason); err != nil {
		svc.Logger.Errorf("Reject failed transfer_id:%s %v", transferID, err)
	}
}
