package ledger

import (
	"context"
	"crypto/sha256"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ziflex/lecho/v3"

	"github.com/ilphub/ilphub.go/ilp"
)

func newTestLedger(t *testing.T) (*Hosted, *Peer, *Peer) {
	t.Helper()
	h := NewHosted(Info{
		Prefix:        "test.ledger.",
		CurrencyCode:  "USD",
		CurrencyScale: 2,
	}, NewMemoryStore(), lecho.New(io.Discard))
	alice := h.Peer("alice")
	bob := h.Peer("bob")
	require.NoError(t, alice.Connect(context.Background()))
	require.NoError(t, bob.Connect(context.Background()))
	t.Cleanup(func() {
		_ = alice.Disconnect()
		_ = bob.Disconnect()
	})
	return h, alice, bob
}

func conditionFor(fulfillment []byte) string {
	digest := sha256.Sum256(fulfillment)
	return ilp.EncodeCondition(digest[:])
}

func TestPeerIsIdempotent(t *testing.T) {
	h, alice, _ := newTestLedger(t)
	assert.Same(t, alice, h.Peer("alice"))
	assert.Equal(t, "test.ledger.alice", alice.Account())
	assert.Equal(t, "test.ledger.", alice.Info().Prefix)
}

func TestPrepareAndFulfillMovesBalance(t *testing.T) {
	ctx := context.Background()
	h, alice, bob := newTestLedger(t)

	fulfillment := []byte("the quick brown fox jumps over..")
	prepared := make(chan Transfer, 1)
	bob.OnIncomingPrepare(func(transfer Transfer) {
		prepared <- transfer
	})
	fulfilled := make(chan []byte, 1)
	alice.OnOutgoingFulfill(func(transferID string, f []byte) {
		fulfilled <- f
	})

	transfer := Transfer{
		ID:                 uuid.NewString(),
		From:               alice.Account(),
		To:                 bob.Account(),
		Ledger:             "test.ledger.",
		Amount:             "100",
		ExecutionCondition: conditionFor(fulfillment),
		ExpiresAt:          time.Now().Add(time.Minute),
	}
	require.NoError(t, alice.SendTransfer(ctx, transfer))

	// escrowed: debited from the sender, not yet credited
	balance, err := h.Balance(ctx, alice.Account())
	require.NoError(t, err)
	assert.EqualValues(t, -100, balance)
	balance, err = h.Balance(ctx, bob.Account())
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)

	select {
	case incoming := <-prepared:
		assert.Equal(t, transfer.ID, incoming.ID)
		assert.Equal(t, transfer.ExecutionCondition, incoming.ExecutionCondition)
	case <-time.After(time.Second):
		t.Fatal("incoming prepare event never arrived")
	}

	require.NoError(t, bob.FulfillCondition(ctx, transfer.ID, fulfillment))

	balance, err = h.Balance(ctx, bob.Account())
	require.NoError(t, err)
	assert.EqualValues(t, 100, balance)

	select {
	case relayed := <-fulfilled:
		assert.Equal(t, fulfillment, relayed)
	case <-time.After(time.Second):
		t.Fatal("outgoing fulfill event never arrived")
	}

	assert.ErrorIs(t, bob.FulfillCondition(ctx, transfer.ID, fulfillment), ErrAlreadyResolved)
}

func TestFulfillWithWrongPreimage(t *testing.T) {
	ctx := context.Background()
	h, alice, bob := newTestLedger(t)

	transfer := Transfer{
		ID:                 uuid.NewString(),
		From:               alice.Account(),
		To:                 bob.Account(),
		Amount:             "10",
		ExecutionCondition: conditionFor([]byte("right preimage right preimage!!!")),
		ExpiresAt:          time.Now().Add(time.Minute),
	}
	require.NoError(t, alice.SendTransfer(ctx, transfer))

	err := bob.FulfillCondition(ctx, transfer.ID, []byte("wrong preimage wrong preimage!!!"))
	assert.ErrorIs(t, err, ErrWrongFulfillment)

	// still escrowed, a later correct fulfillment must work
	require.NoError(t, bob.FulfillCondition(ctx, transfer.ID, []byte("right preimage right preimage!!!")))
	balance, err := h.Balance(ctx, bob.Account())
	require.NoError(t, err)
	assert.EqualValues(t, 10, balance)
}

func TestFulfillUnknownTransfer(t *testing.T) {
	_, _, bob := newTestLedger(t)
	err := bob.FulfillCondition(context.Background(), uuid.NewString(), []byte("whatever"))
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestSendTransferValidation(t *testing.T) {
	ctx := context.Background()
	_, alice, bob := newTestLedger(t)

	base := Transfer{
		From:               alice.Account(),
		To:                 bob.Account(),
		ExecutionCondition: conditionFor([]byte("p")),
		ExpiresAt:          time.Now().Add(time.Minute),
	}

	expired := base
	expired.ID = uuid.NewString()
	expired.Amount = "10"
	expired.ExpiresAt = time.Now().Add(-time.Second)
	assert.ErrorIs(t, alice.SendTransfer(ctx, expired), ErrTransferExpired)

	badAmount := base
	badAmount.ID = uuid.NewString()
	badAmount.Amount = "ten"
	assert.Error(t, alice.SendTransfer(ctx, badAmount))

	badCondition := base
	badCondition.ID = uuid.NewString()
	badCondition.Amount = "10"
	badCondition.ExecutionCondition = "dG9vc2hvcnQ"
	assert.Error(t, alice.SendTransfer(ctx, badCondition))

	noPeer := base
	noPeer.ID = uuid.NewString()
	noPeer.Amount = "10"
	noPeer.To = "test.ledger.nobody"
	assert.Error(t, alice.SendTransfer(ctx, noPeer))

	ok := base
	ok.ID = uuid.NewString()
	ok.Amount = "10"
	require.NoError(t, alice.SendTransfer(ctx, ok))
	assert.Error(t, alice.SendTransfer(ctx, ok), "duplicate id must be refused")
}

func TestSendTransferWhenDisconnected(t *testing.T) {
	h := NewHosted(Info{Prefix: "test.ledger."}, NewMemoryStore(), lecho.New(io.Discard))
	alice := h.Peer("alice")
	err := alice.SendTransfer(context.Background(), Transfer{ID: uuid.NewString()})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestFulfillAfterExpiryRefunds(t *testing.T) {
	ctx := context.Background()
	h, alice, bob := newTestLedger(t)

	fulfillment := []byte("late but technically correct!!!!")
	transfer := Transfer{
		ID:                 uuid.NewString(),
		From:               alice.Account(),
		To:                 bob.Account(),
		Amount:             "50",
		ExecutionCondition: conditionFor(fulfillment),
		ExpiresAt:          time.Now().Add(30 * time.Millisecond),
	}
	require.NoError(t, alice.SendTransfer(ctx, transfer))
	time.Sleep(60 * time.Millisecond)

	err := bob.FulfillCondition(ctx, transfer.ID, fulfillment)
	assert.ErrorIs(t, err, ErrTransferExpired)

	balance, err := h.Balance(ctx, alice.Account())
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance, "escrow must be rolled back to the sender")
}

func TestExpiryLoopRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, alice, bob := newTestLedger(t)

	transfer := Transfer{
		ID:                 uuid.NewString(),
		From:               alice.Account(),
		To:                 bob.Account(),
		Amount:             "25",
		ExecutionCondition: conditionFor([]byte("p")),
		ExpiresAt:          time.Now().Add(20 * time.Millisecond),
	}
	require.NoError(t, alice.SendTransfer(ctx, transfer))
	h.StartExpiryLoop(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		balance, err := h.Balance(ctx, alice.Account())
		return err == nil && balance == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRejectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h, alice, bob := newTestLedger(t)

	transfer := Transfer{
		ID:                 uuid.NewString(),
		From:               alice.Account(),
		To:                 bob.Account(),
		Amount:             "30",
		ExecutionCondition: conditionFor([]byte("p")),
		ExpiresAt:          time.Now().Add(time.Minute),
	}
	require.NoError(t, alice.SendTransfer(ctx, transfer))

	reason := ilp.WrongConditionReason(bob.Account(), transfer.ExecutionCondition)
	require.NoError(t, bob.RejectIncomingTransfer(ctx, transfer.ID, reason))
	require.NoError(t, bob.RejectIncomingTransfer(ctx, transfer.ID, reason))
	require.NoError(t, bob.RejectIncomingTransfer(ctx, uuid.NewString(), reason))

	balance, err := h.Balance(ctx, alice.Account())
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)

	assert.ErrorIs(t, bob.FulfillCondition(ctx, transfer.ID, []byte("p")), ErrAlreadyResolved)
}

func TestSendRequestRoutesToPeer(t *testing.T) {
	_, alice, bob := newTestLedger(t)

	bob.RegisterRequestHandler(func(ctx context.Context, msg Message) (Message, error) {
		return Message{ID: msg.ID, From: msg.To, To: msg.From, ILP: []byte("pong")}, nil
	})

	resp, err := alice.SendRequest(context.Background(), Message{
		ID:   uuid.NewString(),
		From: alice.Account(),
		To:   bob.Account(),
		ILP:  []byte("ping"),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), resp.ILP)

	_, err = alice.SendRequest(context.Background(), Message{To: "test.ledger.nobody"})
	assert.Error(t, err)

	_, err = bob.SendRequest(context.Background(), Message{To: alice.Account()})
	assert.ErrorIs(t, err, ErrNoRequestHandler)
}

func TestSubAccountRoutesToPeer(t *testing.T) {
	ctx := context.Background()
	_, alice, bob := newTestLedger(t)

	got := make(chan Transfer, 1)
	bob.OnIncomingPrepare(func(transfer Transfer) { got <- transfer })

	transfer := Transfer{
		ID:                 uuid.NewString(),
		From:               alice.Account(),
		To:                 bob.Account() + ".dGVzdHNlc3M.0",
		Amount:             "10",
		ExecutionCondition: conditionFor([]byte("p")),
		ExpiresAt:          time.Now().Add(time.Minute),
	}
	require.NoError(t, alice.SendTransfer(ctx, transfer))

	select {
	case incoming := <-got:
		assert.Equal(t, transfer.To, incoming.To)
	case <-time.After(time.Second):
		t.Fatal("transfer to sub-account was not routed to the peer")
	}
}
