// Package container serializes and parses the docsafe encrypted container
// format.
//
// A container is the immutable artifact produced by every encrypt
// operation and consumed whole by every decrypt operation. Layout, all
// integers big endian:
//
//	offset  size  field
//	0       8     magic bytes
//	8       1     format version
//	9       1     algorithm
//	10      8     created_at, unix seconds
//	18      12    metadata nonce
//	30      4     metadata block length
//	34      m     encrypted metadata block (tag appended)
//	34+m    12    payload nonce
//	46+m    8     payload length
//	54+m    p     payload ciphertext (tag appended)
//
// Metadata and payload are sealed with two separate AEAD calls. The
// metadata call uses the 18-byte plaintext header as associated data; the
// payload call uses the header plus the encrypted metadata block. The
// split lets the small metadata block be decrypted without touching the
// payload, while the chained associated data prevents mixing metadata and
// payload across containers. The plaintext header carries only non-secret
// fields (version, algorithm, creation time) so PeekMetadata can serve
// preview UIs without the document key.
package container

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docsafe/docsafe/cryptoutils"
	"github.com/docsafe/docsafe/interfaces"
)

// Magic identifies the container format family. The leading 0x89 keeps
// the file from being mistaken for text, PNG-style.
var Magic = [8]byte{0x89, 'D', 'S', 'A', 'F', 'E', 0x1A, 0x0A}

// FormatVersion is the current container format version.
const FormatVersion uint8 = 1

const (
	headerSize   = 8 + 1 + 1 + 8 // magic, version, algorithm, created_at
	minContainer = headerSize + cryptoutils.NonceSize + 4 + cryptoutils.NonceSize + 8
)

// Encode authenticated-encrypts metadata and plaintext under the document
// key and returns the serialized container. Each call generates fresh
// nonces: encoding the same input twice yields different bytes that both
// decode to identical content.
func Encode(plaintext []byte, meta interfaces.DocumentMetadata, documentKey []byte, alg interfaces.Algorithm) ([]byte, error) {
	if !alg.IsAEAD() {
		return nil, fmt.Errorf("%w: container algorithm %s", interfaces.ErrInvalidKeyMaterial, alg)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	metaPlain, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header[0:8], Magic[:])
	header[8] = FormatVersion
	header[9] = byte(alg)
	binary.BigEndian.PutUint64(header[10:18], uint64(meta.CreatedAt.Unix()))

	metaNonce, metaCt, err := cryptoutils.Seal(alg, documentKey, metaPlain, header)
	if err != nil {
		return nil, err
	}

	payloadAAD := make([]byte, 0, headerSize+len(metaCt))
	payloadAAD = append(payloadAAD, header...)
	payloadAAD = append(payloadAAD, metaCt...)

	payloadNonce, payloadCt, err := cryptoutils.Seal(alg, documentKey, plaintext, payloadAAD)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, minContainer+len(metaCt)+len(payloadCt))
	out = append(out, header...)
	out = append(out, metaNonce...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(metaCt)))
	out = append(out, metaCt...)
	out = append(out, payloadNonce...)
	out = binary.BigEndian.AppendUint64(out, uint64(len(payloadCt)))
	out = append(out, payloadCt...)
	return out, nil
}

// parsed holds the structural slices of a validated container. All slices
// alias the input buffer.
type parsed struct {
	header       []byte
	version      uint8
	alg          interfaces.Algorithm
	createdAt    time.Time
	metaNonce    []byte
	metaCt       []byte
	payloadNonce []byte
	payloadCt    []byte
}

// parse validates magic, version and structure without any key material.
// Bad magic or an unknown version is ErrUnsupportedFormat; a valid header
// with inconsistent lengths (truncation, extension) is ErrCorrupted.
func parse(data []byte) (*parsed, error) {
	if len(data) < 8 || [8]byte(data[0:8]) != Magic {
		return nil, fmt.Errorf("%w: bad magic bytes", interfaces.ErrUnsupportedFormat)
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: header truncated", interfaces.ErrCorrupted)
	}
	if data[8] != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", interfaces.ErrUnsupportedFormat, data[8])
	}
	alg := interfaces.Algorithm(data[9])
	if !alg.IsAEAD() {
		return nil, fmt.Errorf("%w: algorithm %s", interfaces.ErrUnsupportedFormat, alg)
	}
	if len(data) < minContainer {
		return nil, fmt.Errorf("%w: container too short", interfaces.ErrCorrupted)
	}

	createdAt := time.Unix(int64(binary.BigEndian.Uint64(data[10:18])), 0).UTC()

	off := headerSize
	metaNonce := data[off : off+cryptoutils.NonceSize]
	off += cryptoutils.NonceSize

	metaLen := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4
	if len(data)-off < metaLen+cryptoutils.NonceSize+8 {
		return nil, fmt.Errorf("%w: metadata block truncated", interfaces.ErrCorrupted)
	}
	metaCt := data[off : off+metaLen]
	off += metaLen

	payloadNonce := data[off : off+cryptoutils.NonceSize]
	off += cryptoutils.NonceSize

	payloadLen := binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	if uint64(len(data)-off) != payloadLen {
		return nil, fmt.Errorf("%w: payload length mismatch", interfaces.ErrCorrupted)
	}

	return &parsed{
		header:       data[:headerSize],
		version:      data[8],
		alg:          alg,
		createdAt:    createdAt,
		metaNonce:    metaNonce,
		metaCt:       metaCt,
		payloadNonce: payloadNonce,
		payloadCt:    data[off:],
	}, nil
}

// Decode validates and decrypts a container, returning plaintext and
// metadata. Format problems surface as ErrUnsupportedFormat before any
// key material is used; structural damage and failed authentication are
// ErrCorrupted. No partial plaintext is ever returned.
func Decode(data []byte, documentKey []byte) ([]byte, interfaces.DocumentMetadata, error) {
	var meta interfaces.DocumentMetadata

	p, err := parse(data)
	if err != nil {
		return nil, meta, err
	}

	metaPlain, err := cryptoutils.Open(p.alg, documentKey, p.metaNonce, p.metaCt, p.header)
	if err != nil {
		return nil, meta, fmt.Errorf("%w: metadata authentication", interfaces.ErrCorrupted)
	}
	defer cryptoutils.Zero(metaPlain)

	if err := json.Unmarshal(metaPlain, &meta); err != nil {
		return nil, interfaces.DocumentMetadata{}, fmt.Errorf("%w: malformed metadata", interfaces.ErrCorrupted)
	}

	payloadAAD := make([]byte, 0, len(p.header)+len(p.metaCt))
	payloadAAD = append(payloadAAD, p.header...)
	payloadAAD = append(payloadAAD, p.metaCt...)

	plaintext, err := cryptoutils.Open(p.alg, documentKey, p.payloadNonce, p.payloadCt, payloadAAD)
	if err != nil {
		return nil, interfaces.DocumentMetadata{}, fmt.Errorf("%w: payload authentication", interfaces.ErrCorrupted)
	}

	return plaintext, meta, nil
}

// PeekMetadata reports the non-secret header fields of a container
// without requiring the document key: format version, algorithm, creation
// time, and the sizes of the encrypted blocks. The encrypted metadata
// itself stays sealed.
func PeekMetadata(data []byte) (interfaces.ContainerInfo, error) {
	p, err := parse(data)
	if err != nil {
		return interfaces.ContainerInfo{}, err
	}

	return interfaces.ContainerInfo{
		FormatVersion: p.version,
		Algorithm:     p.alg,
		CreatedAt:     p.createdAt,
		MetadataSize:  len(p.metaCt),
		PayloadSize:   int64(len(p.payloadCt)),
	}, nil
}
