// Package cryptomsg defines the boundary interface to the elliptic-curve
// primitives library spec.md §4.4 treats as an external collaborator
// ("crypto_msg"). The core never reaches past this interface into curve
// math directly; it only calls these four envelope operations plus the
// three utility helpers (Hash160, HexToBytes, BytesToHex).
package cryptomsg

// Kind mirrors store.Kind without importing it, keeping cryptomsg free of
// any dependency on the message-store package.
type Kind int

const (
	KindGroup Kind = iota
	KindPrivate
)

// BuildParams bundles everything build_envelope needs (spec.md §4.4).
type BuildParams struct {
	Token             string
	SenderAddress     string
	SenderPubkey      string // lowercase hex
	SenderPrivateKey  string // WIF
	Timestamp         uint64
	Message           string
	RecipientPubkeys  []string // lowercase hex, one per intended recipient
	Kind              Kind
}

// BuildResult is what build_envelope returns.
type BuildResult struct {
	Hex         string
	MessageHash string
}

// Provider is the drop-in contract spec.md §4.4 requires of crypto_msg.
type Provider interface {
	// BuildEnvelope constructs and signs an encrypted envelope addressed to
	// every recipient pubkey in params.RecipientPubkeys.
	BuildEnvelope(params BuildParams) (BuildResult, error)

	// OpenEnvelope decrypts encryptedPayloadHex for recipientPrivateKey,
	// returning the plaintext message. It fails if the envelope is not
	// addressed to this recipient or is malformed.
	OpenEnvelope(encryptedPayloadHex string, recipientPrivateKey string) (string, error)

	// WrapForPool wraps payloadHex behind the server-side privacy layer
	// using the pool's public key.
	WrapForPool(payloadHex, poolPubkey, senderAddress string) (string, error)

	// UnwrapFromPool reverses WrapForPool, returning the JSON array of
	// records that was wrapped.
	UnwrapFromPool(encryptedHex string, recipientPrivateKey string) (string, error)

	// Hash160 computes ripemd160(sha256(data)).
	Hash160(data []byte) []byte

	HexToBytes(s string) ([]byte, error)
	BytesToHex(b []byte) string
}
