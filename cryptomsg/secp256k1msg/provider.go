// Package secp256k1msg is the default concrete cryptomsg.Provider: an
// ECIES-style scheme over secp256k1 (the curve the chain's own keys use),
// grounded on SAGE-X-project-sage's crypto/keys/secp256k1.go (key
// parsing/ECDH) and core/session/session.go (AEAD sealing around a
// derived key). Each envelope carries one random per-message body key,
// AEAD-sealed once with that key, and then that body key is individually
// wrapped per recipient using an ECDH-derived key-encryption key so any
// addressee — and only an addressee — can recover it.
package secp256k1msg

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 is ripemd160(sha256(x)) by convention

	"github.com/flokiorg/depinterm/cryptomsg"
	"github.com/flokiorg/depinterm/envelope"
)

// Provider implements cryptomsg.Provider using secp256k1 ECDH + ChaCha20-Poly1305.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) BuildEnvelope(params cryptomsg.BuildParams) (cryptomsg.BuildResult, error) {
	if len(params.RecipientPubkeys) == 0 {
		return cryptomsg.BuildResult{}, errors.New("secp256k1msg: no recipients")
	}

	ephemeralPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return cryptomsg.BuildResult{}, fmt.Errorf("secp256k1msg: ephemeral key: %w", err)
	}
	ephemeralPub := ephemeralPriv.PubKey().SerializeCompressed()

	bodyKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(bodyKey); err != nil {
		return cryptomsg.BuildResult{}, fmt.Errorf("secp256k1msg: body key: %w", err)
	}

	encryptedBody, err := seal(bodyKey, []byte(params.Message))
	if err != nil {
		return cryptomsg.BuildResult{}, fmt.Errorf("secp256k1msg: seal body: %w", err)
	}

	var buf []byte
	buf = envelope.WriteVector(buf, ephemeralPub)
	buf = envelope.WriteVector(buf, encryptedBody)
	buf = envelope.WriteCompactSize(buf, uint64(len(params.RecipientPubkeys)))

	for _, recipientHex := range params.RecipientPubkeys {
		recipientPubBytes, err := hex.DecodeString(recipientHex)
		if err != nil {
			return cryptomsg.BuildResult{}, fmt.Errorf("secp256k1msg: bad recipient pubkey %q: %w", recipientHex, err)
		}
		recipientPub, err := secp256k1.ParsePubKey(recipientPubBytes)
		if err != nil {
			return cryptomsg.BuildResult{}, fmt.Errorf("secp256k1msg: parse recipient pubkey: %w", err)
		}

		kek := deriveKEK(ephemeralPriv, recipientPub)
		wrappedKey, err := seal(kek, bodyKey)
		if err != nil {
			return cryptomsg.BuildResult{}, fmt.Errorf("secp256k1msg: wrap body key: %w", err)
		}

		buf = append(buf, Hash160(recipientPubBytes)...)
		buf = envelope.WriteVector(buf, wrappedKey)
	}

	senderPriv, err := wifToPrivateKey(params.SenderPrivateKey)
	if err != nil {
		return cryptomsg.BuildResult{}, fmt.Errorf("secp256k1msg: sender key: %w", err)
	}
	canonical := canonicalSerialization(params, buf)
	sig := sign(senderPriv, canonical)
	buf = envelope.WriteVector(buf, sig)

	hashSum := sha256.Sum256(canonical)
	return cryptomsg.BuildResult{
		Hex:         hex.EncodeToString(buf),
		MessageHash: hex.EncodeToString(hashSum[:]),
	}, nil
}

func (p *Provider) OpenEnvelope(encryptedPayloadHex string, recipientPrivateKey string) (string, error) {
	raw, err := hex.DecodeString(encryptedPayloadHex)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: bad hex: %w", err)
	}

	offset := 0
	ephemeralPubBytes, offset, err := envelope.ReadVector(raw, offset)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: %w", err)
	}
	encryptedBody, offset, err := envelope.ReadVector(raw, offset)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: %w", err)
	}
	count, offset, err := envelope.ReadCompactSize(raw, offset)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: %w", err)
	}

	recipientPriv, err := wifToPrivateKey(recipientPrivateKey)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: recipient key: %w", err)
	}
	myHash := Hash160(recipientPriv.PubKey().SerializeCompressed())

	ephemeralPub, err := secp256k1.ParsePubKey(ephemeralPubBytes)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: parse ephemeral pubkey: %w", err)
	}
	kek := deriveKEK(recipientPriv, ephemeralPub)

	var bodyKey []byte
	for i := uint64(0); i < count; i++ {
		if offset+envelope.RecipientHashSize > len(raw) {
			return "", errors.New("secp256k1msg: truncated recipient table")
		}
		keyID := raw[offset : offset+envelope.RecipientHashSize]
		offset += envelope.RecipientHashSize

		var wrappedKey []byte
		wrappedKey, offset, err = envelope.ReadVector(raw, offset)
		if err != nil {
			return "", fmt.Errorf("secp256k1msg: %w", err)
		}

		if bodyKey != nil || !equalBytes(keyID, myHash) {
			continue
		}
		opened, err := open(kek, wrappedKey)
		if err == nil {
			bodyKey = opened
		}
	}

	if bodyKey == nil {
		return "", errors.New("secp256k1msg: envelope not addressed to this recipient")
	}

	plaintext, err := open(bodyKey, encryptedBody)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: open body: %w", err)
	}
	return string(plaintext), nil
}

func (p *Provider) WrapForPool(payloadHex, poolPubkey, senderAddress string) (string, error) {
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: bad hex: %w", err)
	}
	poolPubBytes, err := hex.DecodeString(poolPubkey)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: bad pool pubkey: %w", err)
	}
	poolPub, err := secp256k1.ParsePubKey(poolPubBytes)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: parse pool pubkey: %w", err)
	}

	ephemeralPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: ephemeral key: %w", err)
	}
	kek := deriveKEK(ephemeralPriv, poolPub)

	sealed, err := seal(kek, append([]byte(senderAddress+"|"), payload...))
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: seal pool payload: %w", err)
	}

	var buf []byte
	buf = envelope.WriteVector(buf, ephemeralPriv.PubKey().SerializeCompressed())
	buf = envelope.WriteVector(buf, sealed)
	return hex.EncodeToString(buf), nil
}

func (p *Provider) UnwrapFromPool(encryptedHex string, recipientPrivateKey string) (string, error) {
	raw, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: bad hex: %w", err)
	}

	ephemeralPubBytes, offset, err := envelope.ReadVector(raw, 0)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: %w", err)
	}
	sealed, _, err := envelope.ReadVector(raw, offset)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: %w", err)
	}

	recipientPriv, err := wifToPrivateKey(recipientPrivateKey)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: recipient key: %w", err)
	}
	ephemeralPub, err := secp256k1.ParsePubKey(ephemeralPubBytes)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: parse ephemeral pubkey: %w", err)
	}
	kek := deriveKEK(recipientPriv, ephemeralPub)

	plaintext, err := open(kek, sealed)
	if err != nil {
		return "", fmt.Errorf("secp256k1msg: open pool payload: %w", err)
	}

	idx := indexByte(plaintext, '|')
	if idx < 0 {
		return "", errors.New("secp256k1msg: malformed pool payload")
	}
	return string(plaintext[idx+1:]), nil
}

// Hash160 computes ripemd160(sha256(data)), the standard UTXO-chain
// fingerprint, exported so other packages needing the raw hash (tests,
// the concrete provider's own callers) don't have to redo the composition.
func Hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	r := ripemd160.New()
	_, _ = r.Write(sha[:])
	return r.Sum(nil)
}

func (p *Provider) Hash160(data []byte) []byte { return Hash160(data) }

func (p *Provider) HexToBytes(s string) ([]byte, error) { return hex.DecodeString(s) }
func (p *Provider) BytesToHex(b []byte) string           { return hex.EncodeToString(b) }

func deriveKEK(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) []byte {
	var pubJacobian, sharedJacobian secp256k1.JacobianPoint
	pub.AsJacobian(&pubJacobian)
	secp256k1.ScalarMultNonConst(&priv.Key, &pubJacobian, &sharedJacobian)
	sharedJacobian.ToAffine()
	sx := sharedJacobian.X.Bytes()
	sum := sha256.Sum256(sx[:])
	return sum[:]
}

func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("secp256k1msg: sealed payload too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, nil)
}

func sign(priv *secp256k1.PrivateKey, data []byte) []byte {
	sum := sha256.Sum256(data)
	sig := signCompact(priv, sum[:])
	return sig
}

// signCompact produces a deterministic ECDSA signature over digest; the
// trailing signature field is treated as opaque by every other component
// (spec.md §4.4, §9 Open Question) so only this package needs to agree
// with itself on its shape.
func signCompact(priv *secp256k1.PrivateKey, digest []byte) []byte {
	return ecdsa.SignCompact(priv, digest, true)
}

func canonicalSerialization(params cryptomsg.BuildParams, envelopeSoFar []byte) []byte {
	var buf []byte
	buf = append(buf, []byte(params.Token)...)
	buf = append(buf, []byte(params.SenderAddress)...)
	buf = append(buf, envelopeSoFar...)
	return buf
}

func wifToPrivateKey(wif string) (*secp256k1.PrivateKey, error) {
	decoded, err := decodeWIF(wif)
	if err != nil {
		return nil, err
	}
	return secp256k1.PrivKeyFromBytes(decoded), nil
}

// addressVersion is the Base58Check version byte used to derive a pay-to-
// pubkey-hash style address from a compressed pubkey's hash160 (§3's
// Address is opaque; this gives it one concrete, internally-consistent
// shape since no chain-specific address library is wired here).
const addressVersion = 0x00

// Identity decodes wif and derives the (address, compressed-pubkey-hex)
// pair the rest of the system treats as this client's on-chain identity.
// Any WIF decode failure is returned as-is.
func Identity(wif string) (address string, pubkeyHex string, err error) {
	priv, err := wifToPrivateKey(wif)
	if err != nil {
		return "", "", err
	}
	pub := priv.PubKey().SerializeCompressed()

	payload := append([]byte{addressVersion}, Hash160(pub)...)
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	full := append(payload, second[:4]...)

	return base58.Encode(full), hex.EncodeToString(pub), nil
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
