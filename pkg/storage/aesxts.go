package storage

import (
	"github.com/falk/nca-go/pkg/aescrypto"
	"github.com/falk/nca-go/pkg/vfs"
)

// AesXtsStorage transparently decrypts an AES-XTS-encrypted base file in
// fixed blockSize sectors, per spec §4.3. Callers must issue
// blockSize-aligned reads (via AlignmentMatchingStorage).
type AesXtsStorage struct {
	base       vfs.File
	k1, k2     [aescrypto.Key128Size]byte
	blockSize  int
	baseOffset int64 // see AesCtrStorage.baseOffset.
}

func NewAesXtsStorage(base vfs.File, key aescrypto.Key256, blockSize int, baseOffset int64) *AesXtsStorage {
	k1, k2 := aescrypto.Key256AsXtsHalves(key)
	return &AesXtsStorage{base: base, k1: k1, k2: k2, blockSize: blockSize, baseOffset: baseOffset}
}

func (s *AesXtsStorage) Size() int64 { return s.base.Size() }

func (s *AesXtsStorage) Read(buf []byte, off int64) (int, error) {
	n, err := s.base.Read(buf, off)
	if err != nil || n == 0 {
		return n, err
	}
	for pos := 0; pos < n; pos += s.blockSize {
		end := pos + s.blockSize
		if end > n {
			end = n
		}
		sector := uint64(s.baseOffset+off+int64(pos)) / uint64(s.blockSize)
		if err := aescrypto.XtsDecryptSector(buf[pos:end], s.k1, s.k2, sector, s.blockSize); err != nil {
			return 0, err
		}
	}
	return n, nil
}
