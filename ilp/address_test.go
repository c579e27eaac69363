package ilp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	prefix := "example.letter-shop.mytrustline."

	addr, err := ParseAddress(prefix, prefix+"shop")
	require.NoError(t, err)
	assert.Equal(t, "shop", addr.AccountID)
	assert.Empty(t, addr.SessionID)
	assert.Empty(t, addr.PaymentIndex)

	addr, err = ParseAddress(prefix, prefix+"shop.dGVzdHNlc3M.4")
	require.NoError(t, err)
	assert.Equal(t, "shop", addr.AccountID)
	assert.Equal(t, "dGVzdHNlc3M", addr.SessionID)
	assert.Equal(t, "4", addr.PaymentIndex)
	assert.Equal(t, prefix+"shop.dGVzdHNlc3M.4", addr.String())
}

func TestParseAddressErrors(t *testing.T) {
	prefix := "example.usd-ledger."

	_, err := ParseAddress("example.usd-ledger", prefix+"shop")
	assert.Error(t, err)

	_, err = ParseAddress(prefix, "example.eur-ledger.shop")
	assert.Error(t, err)

	_, err = ParseAddress(prefix, prefix)
	assert.Error(t, err)

	_, err = ParseAddress(prefix, prefix+"shop..4")
	assert.Error(t, err)

	_, err = ParseAddress(prefix, prefix+"shop.sess.4.extra")
	assert.Error(t, err)
}

func TestConditionEncoding(t *testing.T) {
	condition := make([]byte, 32)
	for i := range condition {
		condition[i] = byte(i * 7)
	}
	encoded := EncodeCondition(condition)
	assert.NotContains(t, encoded, "=")
	assert.Len(t, encoded, 43)

	decoded, err := DecodeCondition(encoded)
	require.NoError(t, err)
	assert.Equal(t, condition, decoded)

	_, err = DecodeCondition("dG9vc2hvcnQ")
	assert.Error(t, err)

	_, err = DecodeCondition("not/valid+base64url!")
	assert.Error(t, err)
}
