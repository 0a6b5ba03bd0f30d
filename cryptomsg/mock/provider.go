// Package mock provides a deterministic, in-memory cryptomsg.Provider for
// core unit tests. Spec.md §8 calls for the build/open round-trip law to be
// "asserted via its mock in core tests" — this is that mock. It performs no
// real cryptography; it keeps envelopes wire-compatible with envelope.Codec
// (so ExtractRecipientHashes still works against it) while storing the
// plaintext keyed by message hash, together with the set of addressed
// recipient pubkeys, so OpenEnvelope can recover it.
package mock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/flokiorg/depinterm/cryptomsg"
	"github.com/flokiorg/depinterm/envelope"
)

// Provider is a test double. The zero value is ready to use.
type Provider struct {
	mu sync.Mutex

	// envelopesByHash is keyed by message hash, so OpenEnvelope can return the
	// original message regardless of which recipient key is presented, as
	// long as that recipient was one of the addressees.
	envelopesByHash map[string]storedEnvelope

	// pool simulates the server-side privacy-layer wrapper: wrapped hex ->
	// original payload hex.
	pool map[string]string

	// FailBuild, when non-nil, is returned by the next BuildEnvelope call.
	FailBuild error
}

type storedEnvelope struct {
	plaintext  string
	recipients map[string]bool // pubkey hex -> addressed
}

func New() *Provider {
	return &Provider{
		envelopesByHash: make(map[string]storedEnvelope),
		pool:            make(map[string]string),
	}
}

func (p *Provider) BuildEnvelope(params cryptomsg.BuildParams) (cryptomsg.BuildResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailBuild != nil {
		err := p.FailBuild
		p.FailBuild = nil
		return cryptomsg.BuildResult{}, err
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", params.Token, params.SenderAddress, params.Timestamp, params.Message)))
	msgHash := hex.EncodeToString(sum[:])

	recipients := make(map[string]bool, len(params.RecipientPubkeys))

	var raw []byte
	raw = envelope.WriteVector(raw, []byte("ephemeral-"+msgHash[:8]))
	raw = envelope.WriteVector(raw, []byte(params.Message))
	raw = envelope.WriteCompactSize(raw, uint64(len(params.RecipientPubkeys)))
	for _, pub := range params.RecipientPubkeys {
		recipients[pub] = true
		pubBytes, err := hex.DecodeString(pub)
		if err != nil {
			return cryptomsg.BuildResult{}, fmt.Errorf("mock: bad recipient pubkey: %w", err)
		}
		h := p.Hash160(pubBytes)
		raw = append(raw, h...)
		raw = envelope.WriteVector(raw, []byte("wrapped-"+pub))
	}
	raw = envelope.WriteVector(raw, []byte("signature-"+msgHash[:8]))

	p.envelopesByHash[msgHash] = storedEnvelope{plaintext: params.Message, recipients: recipients}

	return cryptomsg.BuildResult{Hex: hex.EncodeToString(raw), MessageHash: msgHash}, nil
}

func (p *Provider) OpenEnvelope(encryptedPayloadHex string, recipientPrivateKey string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := hex.DecodeString(encryptedPayloadHex)
	if err != nil {
		return "", fmt.Errorf("mock: bad hex: %w", err)
	}

	recipientPub := derivePubFromPriv(recipientPrivateKey)

	for _, env := range p.envelopesByHash {
		if env.recipients[recipientPub] {
			// Confirm the payload actually corresponds to this envelope by
			// checking the embedded plaintext body vector.
			_, offset, err := envelope.ReadVector(raw, 0)
			if err != nil {
				continue
			}
			body, _, err := envelope.ReadVector(raw, offset)
			if err != nil {
				continue
			}
			if string(body) == env.plaintext {
				return env.plaintext, nil
			}
		}
	}

	return "", errors.New("mock: envelope not addressed to this recipient")
}

func (p *Provider) WrapForPool(payloadHex, poolPubkey, senderAddress string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wrapped := "pool-" + poolPubkey + "-" + senderAddress + "-" + payloadHex
	p.pool[wrapped] = payloadHex
	return hex.EncodeToString([]byte(wrapped)), nil
}

func (p *Provider) UnwrapFromPool(encryptedHex string, recipientPrivateKey string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("mock: bad hex: %w", err)
	}
	inner, ok := p.pool[string(raw)]
	if !ok {
		return "", errors.New("mock: not a pool-wrapped payload")
	}
	return fmt.Sprintf(`[{"hash":"","signature_hex":"","encrypted_payload_hex":%q}]`, inner), nil
}

func (p *Provider) Hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:20]
}

func (p *Provider) HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func (p *Provider) BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// derivePubFromPriv deterministically maps a test "private key" string to
// the pubkey hex it was paired with by the test author. Tests are expected
// to use the convention privkey == "priv-"+pubkeyHex.
func derivePubFromPriv(priv string) string {
	const prefix = "priv-"
	if len(priv) > len(prefix) && priv[:len(prefix)] == prefix {
		return priv[len(prefix):]
	}
	return priv
}
