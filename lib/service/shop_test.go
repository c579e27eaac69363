package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ziflex/lecho/v3"

	"github.com/ilphub/ilphub.go/ilp"
	"github.com/ilphub/ilphub.go/ledger"
	"github.com/ilphub/ilphub.go/psk"
)

func newTestShop(t *testing.T) (*ShopService, *mockLedger) {
	t.Helper()
	shopLedger := newMockLedger("example.usd-ledger.shop", "example.usd-ledger.")
	config := &Config{
		ShopPrice:  10,
		SessionTTL: 600,
	}
	svc := NewShopService(config, lecho.New(io.Discard), shopLedger)
	return svc, shopLedger
}

// paidTransfer builds a transfer the way a PSK payer would: packet to
// the session sub-address, condition derived from the session secret
// and the exact packet bytes.
func paidTransfer(t *testing.T, svc *ShopService, session *Session, amount, packetAmount string) ledger.Transfer {
	t.Helper()
	packetBytes, err := ilp.Packet{
		DestinationAccount: svc.Ledger.Account() + "." + session.ID + ".0",
		DestinationAmount:  packetAmount,
	}.Serialize()
	require.NoError(t, err)
	fulfillment := psk.DeriveFulfillment(session.Secret, packetBytes)
	return ledger.Transfer{
		ID:                 uuid.NewString(),
		To:                 svc.Ledger.Account(),
		Amount:             amount,
		ExecutionCondition: ilp.EncodeCondition(psk.DeriveCondition(fulfillment)),
		ILP:                packetBytes,
		ExpiresAt:          time.Now().Add(time.Minute),
	}
}

func TestPayHeaderFormat(t *testing.T) {
	svc, _ := newTestShop(t)
	session, err := svc.Sessions.New(nil)
	require.NoError(t, err)

	header := svc.PayHeader(session)
	parts := strings.Split(header, " ")
	require.Len(t, parts, 4)
	assert.Equal(t, "interledger-psk", parts[0])
	assert.Equal(t, "10", parts[1])
	assert.Equal(t, "example.usd-ledger.shop."+session.ID, parts[2])
	secret, err := ilp.DecodeCondition(parts[3])
	require.NoError(t, err)
	assert.Equal(t, session.Secret, secret)
}

func TestShopAcceptsValidPayment(t *testing.T) {
	ctx := context.Background()
	svc, shopLedger := newTestShop(t)

	delivered := make(chan string, 1)
	session, err := svc.Sessions.New(func(letter string) { delivered <- letter })
	require.NoError(t, err)

	transfer := paidTransfer(t, svc, session, "10", "10")
	svc.HandleIncomingPrepare(ctx, transfer)

	fulfillment, ok := shopLedger.fulfillment(transfer.ID)
	require.True(t, ok, "a valid payment must be fulfilled")
	assert.Equal(t, psk.DeriveFulfillment(session.Secret, transfer.ILP), fulfillment)

	select {
	case letter := <-delivered:
		assert.Len(t, letter, 1)
		collected, ok := svc.CollectLetter(ilp.EncodeCondition(fulfillment))
		assert.True(t, ok)
		assert.Equal(t, letter, collected)
	default:
		t.Fatal("letter was not delivered")
	}

	_, ok = svc.CollectLetter("47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU")
	assert.False(t, ok)
}

func TestShopRejectsUnderpayment(t *testing.T) {
	ctx := context.Background()
	svc, shopLedger := newTestShop(t)
	session, err := svc.Sessions.New(nil)
	require.NoError(t, err)

	transfer := paidTransfer(t, svc, session, "5", "5")
	svc.HandleIncomingPrepare(ctx, transfer)

	_, fulfilled := shopLedger.fulfillment(transfer.ID)
	assert.False(t, fulfilled)
	reason, ok := shopLedger.rejection(transfer.ID)
	require.True(t, ok)
	assert.Equal(t, ilp.CodeInsufficientAmount, reason.Code)
	assert.Contains(t, reason.Message, "5")
	assert.Contains(t, reason.Message, "10")
}

func TestShopRejectsAmountMismatch(t *testing.T) {
	ctx := context.Background()
	svc, shopLedger := newTestShop(t)
	session, err := svc.Sessions.New(nil)
	require.NoError(t, err)

	// the ledger escrowed 12 but the packet commits to 10; the shop
	// only honors packets that agree with the escrowed amount
	transfer := paidTransfer(t, svc, session, "12", "10")
	svc.HandleIncomingPrepare(ctx, transfer)

	_, fulfilled := shopLedger.fulfillment(transfer.ID)
	assert.False(t, fulfilled)
	reason, ok := shopLedger.rejection(transfer.ID)
	require.True(t, ok)
	assert.Equal(t, ilp.CodeInsufficientAmount, reason.Code)
}

func TestShopRejectsUnknownSession(t *testing.T) {
	ctx := context.Background()
	svc, shopLedger := newTestShop(t)

	secret, err := psk.NewSharedSecret()
	require.NoError(t, err)
	ghost := &Session{ID: "gone4ever9999", Secret: secret}
	transfer := paidTransfer(t, svc, ghost, "10", "10")
	svc.HandleIncomingPrepare(ctx, transfer)

	_, fulfilled := shopLedger.fulfillment(transfer.ID)
	assert.False(t, fulfilled, "no downstream settlement for an unknown session")
	reason, ok := shopLedger.rejection(transfer.ID)
	require.True(t, ok)
	assert.Equal(t, ilp.CodeWrongCondition, reason.Code)
	assert.Equal(t, "Wrong Condition", reason.Name)
}

func TestShopRejectsWrongSecret(t *testing.T) {
	ctx := context.Background()
	svc, shopLedger := newTestShop(t)
	session, err := svc.Sessions.New(nil)
	require.NoError(t, err)

	// condition derived under a different secret than the session's
	wrongSecret, err := psk.NewSharedSecret()
	require.NoError(t, err)
	imposter := &Session{ID: session.ID, Secret: wrongSecret}
	transfer := paidTransfer(t, svc, imposter, "10", "10")
	svc.HandleIncomingPrepare(ctx, transfer)

	_, fulfilled := shopLedger.fulfillment(transfer.ID)
	assert.False(t, fulfilled)
	reason, ok := shopLedger.rejection(transfer.ID)
	require.True(t, ok)
	assert.Equal(t, ilp.CodeWrongCondition, reason.Code)
}

func TestShopRejectsDestinationWithoutSession(t *testing.T) {
	ctx := context.Background()
	svc, shopLedger := newTestShop(t)

	packetBytes, err := ilp.Packet{
		DestinationAccount: svc.Ledger.Account(),
		DestinationAmount:  "10",
	}.Serialize()
	require.NoError(t, err)
	transfer := ledger.Transfer{
		ID:                 uuid.NewString(),
		Amount:             "10",
		ExecutionCondition: "47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU",
		ILP:                packetBytes,
		ExpiresAt:          time.Now().Add(time.Minute),
	}
	svc.HandleIncomingPrepare(ctx, transfer)

	reason, ok := shopLedger.rejection(transfer.ID)
	require.True(t, ok)
	assert.Equal(t, ilp.CodeWrongCondition, reason.Code)
}

func TestShopRejectsGarbagePacket(t *testing.T) {
	ctx := context.Background()
	svc, shopLedger := newTestShop(t)

	transfer := ledger.Transfer{
		ID:                 uuid.NewString(),
		Amount:             "10",
		ExecutionCondition: "47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU",
		ILP:                []byte{0x00, 0x01},
		ExpiresAt:          time.Now().Add(time.Minute),
	}
	svc.HandleIncomingPrepare(ctx, transfer)

	reason, ok := shopLedger.rejection(transfer.ID)
	require.True(t, ok)
	assert.Equal(t, ilp.CodeWrongCondition, reason.Code)
}

func TestSessionStoreSweep(t *testing.T) {
	store := NewSessionStore(time.Minute)
	session, err := store.New(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	swept := store.SweepExpired(time.Now().Add(30 * time.Second))
	assert.Equal(t, 0, swept)

	swept = store.SweepExpired(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 1, swept)
	_, ok := store.Lookup(session.ID)
	assert.False(t, ok)

	session, err = store.New(nil)
	require.NoError(t, err)
	store.Remove(session.ID)
	assert.Equal(t, 0, store.Len())
}
