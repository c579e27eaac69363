package ledger

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ilphub/ilphub.go/ilp"
	"github.com/ziflex/lecho/v3"
)

// Hosted is an in-memory bilateral ledger, the moral equivalent of a
// hosted trustline. Both parties attach as peers; prepared transfers
// are held in escrow until a matching fulfillment arrives or the expiry
// passes. Balances and escrow survive through the pluggable Store.
type Hosted struct {
	info   Info
	store  Store
	logger *lecho.Logger

	mu        sync.Mutex
	transfers map[string]*escrowEntry
	peers     map[string]*Peer
}

type escrowEntry struct {
	transfer Transfer
	state    string
	sender   string // peer account the funds came from
	receiver string
}

func NewHosted(info Info, store Store, logger *lecho.Logger) *Hosted {
	return &Hosted{
		info:      info,
		store:     store,
		logger:    logger,
		transfers: make(map[string]*escrowEntry),
		peers:     make(map[string]*Peer),
	}
}

// Peer attaches a party to the ledger under the given account id and
// returns its connection. Attaching the same id twice returns the same
// connection.
func (h *Hosted) Peer(accountID string) *Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	account := h.info.Prefix + accountID
	if p, ok := h.peers[account]; ok {
		return p
	}
	p := &Peer{ledger: h, account: account}
	h.peers[account] = p
	return p
}

// StartExpiryLoop rolls back prepared transfers whose expiry has
// passed. FulfillCondition also checks expiry on its own, the loop only
// keeps balances and transfer states tidy.
func (h *Hosted) StartExpiryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				h.expireTransfers(ctx, now)
			}
		}
	}()
}

func (h *Hosted) expireTransfers(ctx context.Context, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, entry := range h.transfers {
		if entry.state == StatePrepared && now.After(entry.transfer.ExpiresAt) {
			entry.state = StateExpired
			h.refundLocked(ctx, entry)
			h.logger.Infof("Transfer expired, escrow rolled back transfer_id:%s", id)
		}
	}
}

func (h *Hosted) balanceKey(account string) string {
	return h.info.Prefix + "balance:" + account
}

func (h *Hosted) balanceLocked(ctx context.Context, account string) (int64, error) {
	v, found, err := h.store.Get(ctx, h.balanceKey(account))
	if err != nil || !found {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (h *Hosted) adjustBalanceLocked(ctx context.Context, account string, delta int64) error {
	balance, err := h.balanceLocked(ctx, account)
	if err != nil {
		return err
	}
	return h.store.Put(ctx, h.balanceKey(account), strconv.FormatInt(balance+delta, 10))
}

func (h *Hosted) refundLocked(ctx context.Context, entry *escrowEntry) {
	amount, _ := strconv.ParseInt(entry.transfer.Amount, 10, 64)
	if err := h.adjustBalanceLocked(ctx, entry.sender, amount); err != nil {
		h.logger.Errorf("Could not refund escrow transfer_id:%s %v", entry.transfer.ID, err)
	}
}

// Balance reports an account's settled balance. Negative balances are
// allowed, this is a trustline, not a custodial account.
func (h *Hosted) Balance(ctx context.Context, account string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.balanceLocked(ctx, account)
}

// peerFor resolves the peer owning a destination address. A transfer to
// "prefix.bob.sess.0" belongs to the peer attached as "prefix.bob".
func (h *Hosted) peerFor(address string) (*Peer, error) {
	if p, ok := h.peers[address]; ok {
		return p, nil
	}
	for account, p := range h.peers {
		if strings.HasPrefix(address, account+".") {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no peer attached for %q on ledger %q", address, h.info.Prefix)
}

// Peer is one party's connection to a Hosted ledger. It implements the
// Ledger interface. Event handlers run on a single dispatch goroutine
// per peer, so handlers for one connection never race each other.
type Peer struct {
	ledger  *Hosted
	account string

	mu              sync.Mutex
	connected       bool
	events          chan func()
	done            chan struct{}
	incomingPrepare IncomingPrepareHandler
	outgoingFulfill OutgoingFulfillHandler
	requestHandler  RequestHandler
}

func (p *Peer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}
	p.events = make(chan func(), 64)
	p.done = make(chan struct{})
	go func(events chan func(), done chan struct{}) {
		for {
			select {
			case <-done:
				return
			case dispatch := <-events:
				dispatch()
			}
		}
	}(p.events, p.done)
	p.connected = true
	return nil
}

func (p *Peer) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	close(p.done)
	p.connected = false
	return nil
}

func (p *Peer) Account() string {
	return p.account
}

func (p *Peer) Info() Info {
	return p.ledger.info
}

func (p *Peer) OnIncomingPrepare(handler IncomingPrepareHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.incomingPrepare = handler
}

func (p *Peer) OnOutgoingFulfill(handler OutgoingFulfillHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outgoingFulfill = handler
}

func (p *Peer) RegisterRequestHandler(handler RequestHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestHandler = handler
}

func (p *Peer) dispatch(event func()) {
	p.mu.Lock()
	connected := p.connected
	events := p.events
	p.mu.Unlock()
	if !connected {
		return
	}
	events <- event
}

// SendTransfer escrows the amount and notifies the receiving peer with
// an incoming_prepare event. The call returns once the transfer is
// prepared; settlement is reported through events.
func (p *Peer) SendTransfer(ctx context.Context, transfer Transfer) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	amount, err := strconv.ParseInt(transfer.Amount, 10, 64)
	if err != nil || amount < 0 {
		return fmt.Errorf("transfer amount %q is not a non-negative integer", transfer.Amount)
	}
	if !transfer.ExpiresAt.After(time.Now()) {
		return ErrTransferExpired
	}
	if _, err := ilp.DecodeCondition(transfer.ExecutionCondition); err != nil {
		return err
	}

	h := p.ledger
	h.mu.Lock()
	if _, exists := h.transfers[transfer.ID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("duplicate transfer id %s", transfer.ID)
	}
	receiver, err := h.peerFor(transfer.To)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if err := h.adjustBalanceLocked(ctx, p.account, -amount); err != nil {
		h.mu.Unlock()
		return err
	}
	h.transfers[transfer.ID] = &escrowEntry{
		transfer: transfer,
		state:    StatePrepared,
		sender:   p.account,
		receiver: receiver.account,
	}
	h.mu.Unlock()

	receiver.dispatch(func() {
		receiver.mu.Lock()
		handler := receiver.incomingPrepare
		receiver.mu.Unlock()
		if handler != nil {
			handler(transfer)
		}
	})
	return nil
}

// FulfillCondition settles a prepared incoming transfer. The ledger
// verifies the preimage and the expiry; after expiry it refuses the
// fulfillment and rolls the escrow back.
func (p *Peer) FulfillCondition(ctx context.Context, transferID string, fulfillment []byte) error {
	h := p.ledger
	h.mu.Lock()
	entry, ok := h.transfers[transferID]
	if !ok {
		h.mu.Unlock()
		return ErrTransferNotFound
	}
	if entry.state != StatePrepared {
		h.mu.Unlock()
		return ErrAlreadyResolved
	}
	if time.Now().After(entry.transfer.ExpiresAt) {
		entry.state = StateExpired
		h.refundLocked(ctx, entry)
		h.mu.Unlock()
		return ErrTransferExpired
	}
	condition, err := ilp.DecodeCondition(entry.transfer.ExecutionCondition)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	digest := sha256.Sum256(fulfillment)
	if subtle.ConstantTimeCompare(digest[:], condition) != 1 {
		h.mu.Unlock()
		return ErrWrongFulfillment
	}
	entry.state = StateFulfilled
	amount, _ := strconv.ParseInt(entry.transfer.Amount, 10, 64)
	if err := h.adjustBalanceLocked(ctx, entry.receiver, amount); err != nil {
		h.mu.Unlock()
		return err
	}
	sender, senderErr := h.peerFor(entry.sender)
	h.mu.Unlock()

	if senderErr == nil {
		fulfillmentCopy := append([]byte(nil), fulfillment...)
		sender.dispatch(func() {
			sender.mu.Lock()
			handler := sender.outgoingFulfill
			sender.mu.Unlock()
			if handler != nil {
				handler(transferID, fulfillmentCopy)
			}
		})
	}
	return nil
}

// RejectIncomingTransfer cancels a prepared transfer and refunds the
// escrow. Rejecting an unknown or already resolved transfer is a no-op.
func (p *Peer) RejectIncomingTransfer(ctx context.Context, transferID string, reason ilp.RejectionReason) error {
	h := p.ledger
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.transfers[transferID]
	if !ok || entry.state != StatePrepared {
		return nil
	}
	entry.state = StateRejected
	h.refundLocked(ctx, entry)
	h.logger.Infof("Transfer rejected transfer_id:%s code:%s message:%s", transferID, reason.Code, reason.Message)
	return nil
}

// SendRequest delivers a quote-protocol message to the peer owning the
// destination address and waits for its response. Requests bypass the
// transfer lifecycle entirely.
func (p *Peer) SendRequest(ctx context.Context, msg Message) (Message, error) {
	h := p.ledger
	h.mu.Lock()
	receiver, err := h.peerFor(msg.To)
	h.mu.Unlock()
	if err != nil {
		return Message{}, err
	}
	receiver.mu.Lock()
	handler := receiver.requestHandler
	receiver.mu.Unlock()
	if handler == nil {
		return Message{}, ErrNoRequestHandler
	}
	return handler(ctx, msg)
}
