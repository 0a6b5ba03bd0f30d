// Package secretstore implements encrypt-at-rest of the WIF signing key
// (spec.md §4.1): a scrypt-derived AES-256-GCM envelope serialized as
// "salt:iv:tag:ct" lowercase hex, plus a bounded-attempt interactive
// unlock prompt. Grounded on SAGE-X-project-sage's
// pkg/agent/crypto/vault/secure_storage.go for the AEAD-envelope shape,
// with the KDF upgraded to scrypt per spec and the record format changed
// to the spec's literal colon-joined hex string.
package secretstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/flokiorg/depinterm/errs"
)

const (
	saltSize = 32
	ivSize   = 12
	keySize  = 32

	scryptN = 16384
	scryptR = 8
	scryptP = 1

	// MaxUnlockAttempts bounds UnlockInteractive's password prompts (§4.1).
	MaxUnlockAttempts = 3

	// MinPasswordLength and MaxPasswordLength bound a password accepted by
	// Encrypt (§4.1, testable property: length 3 and 31 rejected, 4 and 30
	// accepted).
	MinPasswordLength = 4
	MaxPasswordLength = 30
)

// deriveKey runs scrypt with the spec-mandated fixed parameters.
func deriveKey(password string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
}

// Encrypt produces a fresh "salt:iv:tag:ct" record for wif under password.
func Encrypt(wif, password string) (string, error) {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return "", errs.ErrPasswordLength
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("secretstore: salt: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return "", fmt.Errorf("secretstore: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("secretstore: cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return "", fmt.Errorf("secretstore: gcm: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("secretstore: iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(wif), nil)
	ct := sealed[:len(sealed)-gcm.Overhead()]
	tag := sealed[len(sealed)-gcm.Overhead():]

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt reverses Encrypt. A malformed record shape fails with
// ErrMalformedSecret; any AEAD/authentication failure — including a wrong
// password — fails with ErrBadPassword without revealing which check
// failed (§4.1, testable property 5).
func Decrypt(encoded, password string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 4 {
		return "", errs.ErrMalformedSecret
	}

	salt, err1 := hex.DecodeString(parts[0])
	iv, err2 := hex.DecodeString(parts[1])
	tag, err3 := hex.DecodeString(parts[2])
	ct, err4 := hex.DecodeString(parts[3])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return "", errs.ErrMalformedSecret
	}
	if len(salt) == 0 || len(iv) == 0 || len(tag) == 0 {
		return "", errs.ErrMalformedSecret
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return "", errs.ErrBadPassword
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errs.ErrBadPassword
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return "", errs.ErrBadPassword
	}

	sealed := append(append([]byte{}, ct...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", errs.ErrBadPassword
	}

	return string(plaintext), nil
}
