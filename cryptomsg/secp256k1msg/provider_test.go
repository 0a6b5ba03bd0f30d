package secp256k1msg

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flokiorg/depinterm/cryptomsg"
)

// wifVersion is an arbitrary network version byte; only internal
// consistency with decodeWIF matters for these tests.
const wifVersion = 0x80

func newWIF(t *testing.T) (wif string, pubkeyHex string) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	body := append(priv.Serialize(), 0x01) // compressed flag
	payload := append([]byte{wifVersion}, body...)
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	full := append(payload, second[:4]...)

	return base58.Encode(full), hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

func TestIdentityDerivesAddressAndPubkey(t *testing.T) {
	wif, pubkeyHex := newWIF(t)

	address, pubkey, err := Identity(wif)
	require.NoError(t, err)
	assert.Equal(t, pubkeyHex, pubkey)
	assert.NotEmpty(t, address)

	// Deterministic: deriving twice from the same WIF yields the same identity.
	address2, pubkey2, err := Identity(wif)
	require.NoError(t, err)
	assert.Equal(t, address, address2)
	assert.Equal(t, pubkey, pubkey2)
}

func TestIdentityRejectsMalformedWIF(t *testing.T) {
	_, _, err := Identity("not-a-wif")
	assert.Error(t, err)
}

func TestBuildAndOpenEnvelopeRoundTrip(t *testing.T) {
	senderWIF, senderPubkey := newWIF(t)
	recipientWIF, recipientPubkey := newWIF(t)

	p := New()
	result, err := p.BuildEnvelope(cryptomsg.BuildParams{
		Token:            "tok",
		SenderAddress:    "sender-addr",
		SenderPubkey:     senderPubkey,
		SenderPrivateKey: senderWIF,
		Timestamp:        123,
		Message:          "hello world",
		RecipientPubkeys: []string{recipientPubkey},
		Kind:             cryptomsg.KindGroup,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Hex)
	assert.NotEmpty(t, result.MessageHash)

	plaintext, err := p.OpenEnvelope(result.Hex, recipientWIF)
	require.NoError(t, err)
	assert.Equal(t, "hello world", plaintext)
}

func TestOpenEnvelopeFailsForWrongRecipient(t *testing.T) {
	senderWIF, senderPubkey := newWIF(t)
	_, recipientPubkey := newWIF(t)
	unrelatedWIF, _ := newWIF(t)

	p := New()
	result, err := p.BuildEnvelope(cryptomsg.BuildParams{
		SenderAddress:    "sender-addr",
		SenderPubkey:     senderPubkey,
		SenderPrivateKey: senderWIF,
		Timestamp:        1,
		Message:          "secret",
		RecipientPubkeys: []string{recipientPubkey},
		Kind:             cryptomsg.KindPrivate,
	})
	require.NoError(t, err)

	_, err = p.OpenEnvelope(result.Hex, unrelatedWIF)
	assert.Error(t, err)
}
