package envelope

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompactSizeRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 252, 253, 254, 255, 65535, 65536, 1 << 20, 1<<32 - 1, 1 << 32, (1 << 53) - 1}

	for _, n := range cases {
		encoded := WriteCompactSize(nil, n)
		got, offset, err := ReadCompactSize(encoded, 0)
		require.NoError(t, err)
		require.Equal(t, n, got)
		require.Equal(t, len(encoded), offset)
	}
}

func TestCompactSizeRejectsOverflow(t *testing.T) {
	buf := []byte{255, 0, 0, 0, 0, 0, 0, 0x20, 0} // 2^53 encoded LE, 9 bytes total
	_, _, err := ReadCompactSize(buf, 0)
	require.Error(t, err)
}

func TestCompactSizeTruncationDetected(t *testing.T) {
	// marker says 2-byte extension follows, but buffer ends early.
	buf := []byte{253, 0x01}
	_, _, err := ReadCompactSize(buf, 0)
	require.Error(t, err)
}

func TestVectorRoundTrip(t *testing.T) {
	data := []byte("hello world")
	encoded := WriteVector(nil, data)
	got, offset, err := ReadVector(encoded, 0)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, len(encoded), offset)
}

func TestVectorTruncationDetected(t *testing.T) {
	encoded := WriteVector(nil, []byte("hello"))
	truncated := encoded[:len(encoded)-1]
	_, _, err := ReadVector(truncated, 0)
	require.Error(t, err)
}

func buildEnvelopeBytes(ephemeral, body []byte, recipients [][2][]byte, signature []byte) []byte {
	var buf []byte
	buf = WriteVector(buf, ephemeral)
	buf = WriteVector(buf, body)
	buf = WriteCompactSize(buf, uint64(len(recipients)))
	for _, r := range recipients {
		buf = append(buf, r[0]...) // 20-byte hash
		buf = WriteVector(buf, r[1])
	}
	buf = WriteVector(buf, signature)
	return buf
}

func hash20(b byte) []byte {
	h := make([]byte, RecipientHashSize)
	for i := range h {
		h[i] = b
	}
	return h
}

func TestExtractRecipientHashesHappyPath(t *testing.T) {
	recipients := [][2][]byte{
		{hash20(0xAA), []byte("wrappedkey1")},
		{hash20(0xBB), []byte("wrappedkey2")},
	}
	raw := buildEnvelopeBytes([]byte("ephpub"), []byte("body"), recipients, []byte("sig"))

	hashes := ExtractRecipientHashes(raw)
	require.Equal(t, []string{hex.EncodeToString(hash20(0xAA)), hex.EncodeToString(hash20(0xBB))}, hashes)
}

func TestExtractRecipientHashesEmptyCount(t *testing.T) {
	raw := buildEnvelopeBytes([]byte("ephpub"), []byte("body"), nil, []byte("sig"))
	hashes := ExtractRecipientHashes(raw)
	require.Empty(t, hashes)
}

func TestExtractRecipientHashesTruncatedMidRecipient(t *testing.T) {
	var buf []byte
	buf = WriteVector(buf, []byte("ephpub"))
	buf = WriteVector(buf, []byte("body"))
	buf = WriteCompactSize(buf, 2) // claims two recipients
	buf = append(buf, hash20(0xAA)...)
	buf = WriteVector(buf, []byte("wrappedkey1"))
	buf = append(buf, hash20(0xBB)[:10]...) // second recipient cut short

	hashes := ExtractRecipientHashes(buf)
	require.Equal(t, []string{hex.EncodeToString(hash20(0xAA))}, hashes)
}

func TestExtractRecipientHashesGarbageYieldsEmpty(t *testing.T) {
	hashes := ExtractRecipientHashes([]byte{0xFF, 0x01})
	require.Empty(t, hashes)
}
