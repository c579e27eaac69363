// Package psk implements the pre-shared-key condition scheme: the payer
// derives the fulfillment for a payment from a secret shared with the
// payee and the exact serialized packet bytes, so no round trip to the
// payee is needed before preparing a transfer.
package psk

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/ilphub/ilphub.go/ilp"
)

// SecretLen is the size of a shared secret in bytes.
const SecretLen = 32

// conditionKey is the first-stage HMAC message. The first stage turns
// the shared secret into a fulfillment generator key, the second binds
// the generator to the packet bytes: changing any byte of the packet
// changes the fulfillment and therefore the condition.
const conditionKey = "ilp_psk_condition"

func NewSharedSecret() ([]byte, error) {
	secret := make([]byte, SecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

func DeriveFulfillment(sharedSecret, packetBytes []byte) []byte {
	generator := hmacSHA256(sharedSecret, []byte(conditionKey))
	return hmacSHA256(generator, packetBytes)
}

func DeriveCondition(fulfillment []byte) []byte {
	digest := sha256.Sum256(fulfillment)
	return digest[:]
}

// VerifyCondition recomputes the condition for packetBytes under
// sharedSecret and compares it against the base64url condition attached
// to a transfer. The comparison is constant-shape so the check does not
// leak how close a forged condition came.
func VerifyCondition(sharedSecret, packetBytes []byte, encodedCondition string) bool {
	presented, err := ilp.DecodeCondition(encodedCondition)
	if err != nil {
		return false
	}
	expected := DeriveCondition(DeriveFulfillment(sharedSecret, packetBytes))
	return subtle.ConstantTimeCompare(expected, presented) == 1
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
