// Package storage implements the layered virtual-file chain spec §4
// composes for each NCA FS section: AES-CTR/XTS/CTR-Ex decryption,
// alignment matching, indirect/sparse patch overlay, hierarchical
// integrity, region switching, and compression.
package storage

import (
	"sync"

	"github.com/falk/nca-go/pkg/aescrypto"
	"github.com/falk/nca-go/pkg/vfs"
)

// AesCtrStorage transparently decrypts an AES-CTR-encrypted base file, per
// spec §4.3. Reads ciphertext from base at the same offset, then decrypts
// in place with a per-request IV derived from the request's absolute
// offset. Callers must issue 16-byte-aligned reads (guaranteed by
// AlignmentMatchingStorage stacked above it).
type AesCtrStorage struct {
	mu      sync.Mutex
	base    vfs.File
	key     aescrypto.Key128
	upperIv [8]byte
	// baseOffset biases the counter so that decrypting at relative offset
	// r uses counter (baseOffset+r)/BlockSize, matching the absolute
	// on-disk position the original ciphertext was encrypted at even
	// though base itself is addressed relative to an FS section's start
	// (spec §4.12/§4.13, "IV from fs_data_offset").
	baseOffset int64
}

func NewAesCtrStorage(base vfs.File, key aescrypto.Key128, upperIv [8]byte, baseOffset int64) *AesCtrStorage {
	return &AesCtrStorage{base: base, key: key, upperIv: upperIv, baseOffset: baseOffset}
}

func (s *AesCtrStorage) Size() int64 { return s.base.Size() }

func (s *AesCtrStorage) Read(buf []byte, off int64) (int, error) {
	n, err := s.base.Read(buf, off)
	if err != nil || n == 0 {
		return n, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stream, err := aescrypto.NewCtrStream(s.key, s.upperIv)
	if err != nil {
		return 0, err
	}
	stream.XORKeyStreamAt(buf[:n], s.baseOffset+off)
	return n, nil
}

// Write encrypts into the base file; specified for completeness per spec
// §4.1/§4.3 ("the lone write path in AES-CTR, used only by build tools").
func (s *AesCtrStorage) Write(buf []byte, off int64) (int, error) {
	w, ok := s.base.(vfs.WriterFile)
	if !ok {
		return 0, vfs.ErrOutOfRange
	}

	s.mu.Lock()
	stream, err := aescrypto.NewCtrStream(s.key, s.upperIv)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	stream.XORKeyStreamAt(tmp, s.baseOffset+off)
	s.mu.Unlock()

	return w.Write(tmp, off)
}
