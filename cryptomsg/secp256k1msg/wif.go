package secp256k1msg

import (
	"crypto/sha256"
	"errors"

	"github.com/mr-tron/base58"
)

// decodeWIF decodes a Base58Check "Wallet Import Format" string into its
// raw 32-byte private key scalar, accepting both compressed (33-byte
// payload with a trailing 0x01 suffix flag) and uncompressed (32-byte
// payload) encodings. Grounded on the standard WIF layout used across the
// UTXO-chain tooling in this pack (version byte || 32-byte key || optional
// 0x01 || 4-byte checksum).
func decodeWIF(wif string) ([]byte, error) {
	decoded, err := base58.Decode(wif)
	if err != nil {
		return nil, err
	}
	if len(decoded) < 1+32+4 {
		return nil, errors.New("wif: too short")
	}

	payload := decoded[:len(decoded)-4]
	checksum := decoded[len(decoded)-4:]

	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	for i := 0; i < 4; i++ {
		if checksum[i] != second[i] {
			return nil, errors.New("wif: checksum mismatch")
		}
	}

	body := payload[1:] // drop version byte
	switch len(body) {
	case 32:
		return body, nil
	case 33:
		if body[32] != 0x01 {
			return nil, errors.New("wif: invalid compression flag")
		}
		return body[:32], nil
	default:
		return nil, errors.New("wif: unexpected key length")
	}
}
