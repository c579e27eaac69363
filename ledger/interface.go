// Package ledger defines the capability interface the connector needs
// from an underlying ledger transport, and provides a hosted in-memory
// bilateral ledger implementing it. Escrow, balance bookkeeping and
// expiry enforcement belong to the transport; the connector core only
// prepares, fulfills and rejects transfers through this interface.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ilphub/ilphub.go/ilp"
)

type Info struct {
	Prefix        string   `json:"prefix"`
	CurrencyCode  string   `json:"currencyCode"`
	CurrencyScale int      `json:"currencyScale"`
	Connectors    []string `json:"connectors"`
}

// Transfer is a conditionally prepared payment on a single ledger.
// Amount stays a decimal string end to end; the transport decides how
// to account it. ILP carries the serialized payment packet unmodified.
type Transfer struct {
	ID                 string    `json:"id"`
	From               string    `json:"from"`
	To                 string    `json:"to"`
	Ledger             string    `json:"ledger"`
	Amount             string    `json:"amount"`
	ExecutionCondition string    `json:"executionCondition"`
	ILP                []byte    `json:"ilp"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

// Transfer lifecycle states. Prepared is the only non-terminal state.
const (
	StatePrepared  = "prepared"
	StateFulfilled = "fulfilled"
	StateRejected  = "rejected"
	StateExpired   = "expired"
)

// Message is a request/response envelope for the quoting side channel.
type Message struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Ledger string `json:"ledger"`
	ILP    []byte `json:"ilp"`
}

type (
	IncomingPrepareHandler = func(transfer Transfer)
	OutgoingFulfillHandler = func(transferID string, fulfillment []byte)
	RequestHandler         = func(ctx context.Context, msg Message) (Message, error)
)

var (
	ErrNotConnected     = errors.New("ledger not connected")
	ErrTransferNotFound = errors.New("transfer not found")
	ErrTransferExpired  = errors.New("transfer past its expiry")
	ErrAlreadyResolved  = errors.New("transfer already in a terminal state")
	ErrWrongFulfillment = errors.New("fulfillment does not hash to the condition")
	ErrInsufficientFund = errors.New("insufficient balance")
	ErrNoRequestHandler = errors.New("peer has no request handler registered")
)

// Ledger is the abstract transport capability. Event handlers for one
// connection are invoked sequentially relative to each other; two
// independent connections deliver events concurrently.
type Ledger interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Account() string
	Info() Info
	SendTransfer(ctx context.Context, transfer Transfer) error
	FulfillCondition(ctx context.Context, transferID string, fulfillment []byte) error
	RejectIncomingTransfer(ctx context.Context, transferID string, reason ilp.RejectionReason) error
	OnIncomingPrepare(handler IncomingPrepareHandler)
	OnOutgoingFulfill(handler OutgoingFulfillHandler)
	SendRequest(ctx context.Context, msg Message) (Message, error)
	RegisterRequestHandler(handler RequestHandler)
}
