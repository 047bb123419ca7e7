package container

import (
	"errors"
	"testing"
	"time"

	"github.com/docsafe/docsafe/cryptoutils"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/stretchr/testify/require"
)

func testMeta() interfaces.DocumentMetadata {
	return interfaces.DocumentMetadata{
		Filename:  "a.txt",
		MimeType:  "text/plain",
		Size:      10,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		alg  interfaces.Algorithm
		data []byte
	}{
		{"AES-GCM text", interfaces.AlgorithmAES256GCM, []byte("hello docs")},
		{"ChaCha20 text", interfaces.AlgorithmChaCha20Poly1305, []byte("hello docs")},
		{"empty payload", interfaces.AlgorithmAES256GCM, []byte{}},
		{"binary payload", interfaces.AlgorithmAES256GCM, []byte{0x00, 0xFF, 0x89, 0x0A}},
		{"large payload", interfaces.AlgorithmChaCha20Poly1305, make([]byte, 1<<18)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := cryptoutils.RandomKey()
			require.NoError(t, err)

			encoded, err := Encode(tc.data, testMeta(), key, tc.alg)
			require.NoError(t, err)

			plaintext, meta, err := Decode(encoded, key)
			require.NoError(t, err)
			require.Equal(t, tc.data, plaintext)
			require.Equal(t, testMeta(), meta)
		})
	}
}

// The concrete scenario: a 10-byte document, exact metadata, wrong-key
// failure, and truncation detection.
func TestHelloDocsScenario(t *testing.T) {
	key, err := cryptoutils.RandomKey()
	require.NoError(t, err)

	plaintext := []byte("hello docs")
	meta := testMeta()

	encoded, err := Encode(plaintext, meta, key, interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)

	got, gotMeta, err := Decode(encoded, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
	require.Equal(t, "a.txt", gotMeta.Filename)
	require.Equal(t, "text/plain", gotMeta.MimeType)
	require.Equal(t, int64(10), gotMeta.Size)

	// All-zero key of correct length: decryption fails, no output.
	_, _, err = Decode(encoded, make([]byte, interfaces.MasterKeySize))
	require.ErrorIs(t, err, interfaces.ErrDecryptionFailed)

	// Truncated by one byte: corrupted, detected structurally.
	_, _, err = Decode(encoded[:len(encoded)-1], key)
	require.ErrorIs(t, err, interfaces.ErrCorrupted)
}

func TestTamperDetection(t *testing.T) {
	key, err := cryptoutils.RandomKey()
	require.NoError(t, err)

	encoded, err := Encode([]byte("tamper target"), testMeta(), key, interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)

	// Flipping any single byte past the magic must fail the decode; bytes
	// inside the magic fail as unsupported format instead.
	for i := range encoded {
		tampered := append([]byte(nil), encoded...)
		tampered[i] ^= 0x01

		_, _, err := Decode(tampered, key)
		require.Error(t, err, "byte %d survived tampering", i)
		if i >= 8 {
			require.True(t,
				errors.Is(err, interfaces.ErrCorrupted) || errors.Is(err, interfaces.ErrUnsupportedFormat),
				"byte %d: unexpected error %v", i, err)
		}
	}
}

func TestCorruptedIsAlsoDecryptionFailed(t *testing.T) {
	key, err := cryptoutils.RandomKey()
	require.NoError(t, err)

	encoded, err := Encode([]byte("x"), testMeta(), key, interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)

	tampered := append([]byte(nil), encoded...)
	tampered[len(tampered)-1] ^= 0x01

	_, _, err = Decode(tampered, key)
	require.ErrorIs(t, err, interfaces.ErrCorrupted)
	require.ErrorIs(t, err, interfaces.ErrDecryptionFailed)
}

func TestUnsupportedFormat(t *testing.T) {
	key, err := cryptoutils.RandomKey()
	require.NoError(t, err)

	encoded, err := Encode([]byte("x"), testMeta(), key, interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)

	// Bad magic.
	bad := append([]byte(nil), encoded...)
	bad[0] = 'X'
	_, _, err = Decode(bad, key)
	require.ErrorIs(t, err, interfaces.ErrUnsupportedFormat)

	// Unknown version, checked before any key use.
	bad = append([]byte(nil), encoded...)
	bad[8] = 0x7F
	_, _, err = Decode(bad, nil)
	require.ErrorIs(t, err, interfaces.ErrUnsupportedFormat)

	// Unknown algorithm variant.
	bad = append([]byte(nil), encoded...)
	bad[9] = 0x7F
	_, _, err = Decode(bad, nil)
	require.ErrorIs(t, err, interfaces.ErrUnsupportedFormat)

	// Not a container at all.
	_, _, err = Decode([]byte("short"), key)
	require.ErrorIs(t, err, interfaces.ErrUnsupportedFormat)
}

func TestNonceFreshness(t *testing.T) {
	key, err := cryptoutils.RandomKey()
	require.NoError(t, err)

	a, err := Encode([]byte("same input"), testMeta(), key, interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)
	b, err := Encode([]byte("same input"), testMeta(), key, interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)

	require.NotEqual(t, a, b)

	pa, _, err := Decode(a, key)
	require.NoError(t, err)
	pb, _, err := Decode(b, key)
	require.NoError(t, err)
	require.Equal(t, pa, pb)
}

func TestPeekMetadata(t *testing.T) {
	key, err := cryptoutils.RandomKey()
	require.NoError(t, err)

	meta := testMeta()
	encoded, err := Encode([]byte("peek target"), meta, key, interfaces.AlgorithmChaCha20Poly1305)
	require.NoError(t, err)

	// No key needed for the plaintext header fields.
	info, err := PeekMetadata(encoded)
	require.NoError(t, err)
	require.Equal(t, FormatVersion, info.FormatVersion)
	require.Equal(t, interfaces.AlgorithmChaCha20Poly1305, info.Algorithm)
	require.Equal(t, meta.CreatedAt, info.CreatedAt)
	require.Greater(t, info.MetadataSize, 0)
	require.Greater(t, info.PayloadSize, int64(0))

	_, err = PeekMetadata([]byte("garbage"))
	require.ErrorIs(t, err, interfaces.ErrUnsupportedFormat)
}
