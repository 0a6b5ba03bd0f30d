// Package envelope implements the wire format of spec.md §3/§4.4: a
// concatenation of compact-size length-prefixed fields. It owns only the
// byte-level framing — the actual encryption/decryption is delegated to a
// cryptomsg.Provider, which this package treats as a black box except for
// the recipient-hash table, which is parsed here so the core never needs
// to understand the envelope's cryptographic internals to resolve the peer
// of its own outgoing private messages.
package envelope

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/flokiorg/depinterm/cryptomsg"
)

// RecipientHashSize is the fixed width of a recipient fingerprint (§3).
const RecipientHashSize = 20

var errTruncated = errors.New("envelope: truncated")

// WriteCompactSize appends n encoded as a Bitcoin-style compact size
// integer (1 byte if < 253, else a 253/254/255 marker followed by a
// 2/4/8-byte little-endian extension) to dst, returning the result.
func WriteCompactSize(dst []byte, n uint64) []byte {
	switch {
	case n < 253:
		return append(dst, byte(n))
	case n <= 0xffff:
		dst = append(dst, 253)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(n))
		return append(dst, b[:]...)
	case n <= 0xffffffff:
		dst = append(dst, 254)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(n))
		return append(dst, b[:]...)
	default:
		dst = append(dst, 255)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], n)
		return append(dst, b[:]...)
	}
}

// ReadCompactSize decodes a compact size integer starting at offset,
// returning the value and the offset immediately after it.
func ReadCompactSize(buf []byte, offset int) (uint64, int, error) {
	if offset >= len(buf) {
		return 0, offset, errTruncated
	}
	first := buf[offset]
	offset++

	switch {
	case first < 253:
		return uint64(first), offset, nil
	case first == 253:
		if offset+2 > len(buf) {
			return 0, offset, errTruncated
		}
		v := binary.LittleEndian.Uint16(buf[offset : offset+2])
		return uint64(v), offset + 2, nil
	case first == 254:
		if offset+4 > len(buf) {
			return 0, offset, errTruncated
		}
		v := binary.LittleEndian.Uint32(buf[offset : offset+4])
		return uint64(v), offset + 4, nil
	default: // 255
		if offset+8 > len(buf) {
			return 0, offset, errTruncated
		}
		v := binary.LittleEndian.Uint64(buf[offset : offset+8])
		if v > (1<<53)-1 {
			return 0, offset, fmt.Errorf("envelope: compact size %d exceeds safe integer range", v)
		}
		return v, offset + 8, nil
	}
}

// WriteVector appends data as a compact-size length followed by the bytes
// themselves.
func WriteVector(dst []byte, data []byte) []byte {
	dst = WriteCompactSize(dst, uint64(len(data)))
	return append(dst, data...)
}

// ReadVector reads a compact-size length followed by that many bytes,
// starting at offset.
func ReadVector(buf []byte, offset int) ([]byte, int, error) {
	n, offset, err := ReadCompactSize(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	if offset+int(n) > len(buf) {
		return nil, offset, errTruncated
	}
	return buf[offset : offset+int(n)], offset + int(n), nil
}

// skipVector advances offset past a vector without copying its contents.
func skipVector(buf []byte, offset int) (int, error) {
	_, offset, err := ReadVector(buf, offset)
	return offset, err
}

// ExtractRecipientHashes walks the envelope bytes per the pseudocode in
// spec.md §4.4: skip the ephemeral pubkey vector, skip the encrypted body
// vector, read the recipient count, then for each recipient read a fixed
// 20-byte hash followed by a wrapped-key vector. Any parse error yields an
// empty slice rather than an error; a recipient entry whose 20-byte hash is
// cut short ends the walk and the hashes read before it are returned. With
// no hashes, the caller (Poller) leaves a private message's peer unresolved.
func ExtractRecipientHashes(payload []byte) []string {
	hashes, _ := extractRecipientHashes(payload)
	return hashes
}

func extractRecipientHashes(payload []byte) ([]string, error) {
	offset := 0

	offset, err := skipVector(payload, offset) // ephemeral pubkey
	if err != nil {
		return nil, err
	}
	offset, err = skipVector(payload, offset) // encrypted body
	if err != nil {
		return nil, err
	}

	count, offset, err := ReadCompactSize(payload, offset)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		if offset+RecipientHashSize > len(payload) {
			break
		}
		keyID := payload[offset : offset+RecipientHashSize]
		offset += RecipientHashSize

		offset, err = skipVector(payload, offset) // wrapped key
		if err != nil {
			return nil, err
		}

		hashes = append(hashes, hex.EncodeToString(keyID))
	}

	return hashes, nil
}

// Codec wraps a cryptomsg.Provider, translating between the core's plain
// Go types and the opaque hex payloads the provider deals in.
type Codec struct {
	Provider cryptomsg.Provider
}

func New(provider cryptomsg.Provider) *Codec {
	return &Codec{Provider: provider}
}

// Build constructs and signs an envelope for the given parameters.
func (c *Codec) Build(params cryptomsg.BuildParams) (cryptomsg.BuildResult, error) {
	return c.Provider.BuildEnvelope(params)
}

// Open decrypts encryptedPayloadHex, returning the plaintext.
func (c *Codec) Open(encryptedPayloadHex, recipientPrivateKey string) (string, error) {
	return c.Provider.OpenEnvelope(encryptedPayloadHex, recipientPrivateKey)
}

// WrapForPool delegates to the provider's privacy-layer wrapping.
func (c *Codec) WrapForPool(payloadHex, poolPubkey, senderAddress string) (string, error) {
	return c.Provider.WrapForPool(payloadHex, poolPubkey, senderAddress)
}

// UnwrapFromPool delegates to the provider's privacy-layer unwrapping.
func (c *Codec) UnwrapFromPool(encryptedHex, recipientPrivateKey string) (string, error) {
	return c.Provider.UnwrapFromPool(encryptedHex, recipientPrivateKey)
}

// ExtractRecipientHashes decodes the hex payload and extracts its
// recipient-hash table, per ExtractRecipientHashes above. A decode failure
// of the outer hex also yields an empty slice.
func (c *Codec) ExtractRecipientHashes(encryptedPayloadHex string) []string {
	raw, err := c.Provider.HexToBytes(encryptedPayloadHex)
	if err != nil {
		return nil
	}
	return ExtractRecipientHashes(raw)
}
