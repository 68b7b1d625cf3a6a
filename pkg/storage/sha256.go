package storage

import (
	"crypto/sha256"
	"math/bits"

	"github.com/falk/nca-go/pkg/ncaerr"
	"github.com/falk/nca-go/pkg/vfs"
)

// HashSize is the digest width every integrity layer in the pipeline uses.
const HashSize = sha256.Size

// HierarchicalSha256Storage is the 3-layer verified storage spec §4.10
// describes: a 32-byte master hash, an in-memory hash layer covering the
// data storage in HashTargetBlockSize chunks, and the data storage itself.
// Reads are forwarded to the data storage; when verify is set, Read also
// checks the hash of every block the request touches.
type HierarchicalSha256Storage struct {
	masterHash    [HashSize]byte
	hashLayer     []byte
	data          vfs.File
	blockSize     int64
	verify        bool
}

// NewHierarchicalSha256Storage reads the master hash from masterHashStorage
// and the full hash layer from hashLayerStorage, per spec §4.10's
// initialization contract. hashTargetBlockSize must be a power of two;
// hashLayerStorage's size must not exceed it, and dataStorage's size must
// not exceed HashSize * 2^(2*log2(hashTargetBlockSize/HashSize)).
func NewHierarchicalSha256Storage(masterHashStorage, hashLayerStorage, dataStorage vfs.File, hashTargetBlockSize int64, verify bool) (*HierarchicalSha256Storage, error) {
	if hashTargetBlockSize <= 0 || hashTargetBlockSize&(hashTargetBlockSize-1) != 0 {
		return nil, ncaerr.ErrInvalidHierarchicalSha256BlockSize
	}
	if hashLayerStorage.Size() > hashTargetBlockSize {
		return nil, ncaerr.ErrInvalidHierarchicalSha256BlockSize
	}

	log2Ratio := bits.TrailingZeros64(uint64(hashTargetBlockSize) / HashSize)
	maxBaseSize := int64(HashSize) << uint(2*log2Ratio)
	if dataStorage.Size() > maxBaseSize {
		return nil, ncaerr.ErrInvalidHierarchicalSha256LayerCount
	}

	var master [HashSize]byte
	if err := vfs.ReadFull(masterHashStorage, master[:], 0); err != nil {
		return nil, err
	}

	hashLayer := make([]byte, hashLayerStorage.Size())
	if len(hashLayer) > 0 {
		if err := vfs.ReadFull(hashLayerStorage, hashLayer, 0); err != nil {
			return nil, err
		}
	}

	if verify {
		got := sha256.Sum256(hashLayer)
		if got != master {
			return nil, ncaerr.ErrHashVerificationFailed
		}
	}

	return &HierarchicalSha256Storage{
		masterHash: master,
		hashLayer:  hashLayer,
		data:       dataStorage,
		blockSize:  hashTargetBlockSize,
		verify:     verify,
	}, nil
}

func (s *HierarchicalSha256Storage) Size() int64 { return s.data.Size() }

func (s *HierarchicalSha256Storage) Read(dst []byte, off int64) (int, error) {
	n, err := s.data.Read(dst, off)
	if err != nil || n == 0 || !s.verify {
		return n, err
	}

	start := floorAlign(off, s.blockSize)
	end := ceilAlign(off+int64(n), s.blockSize)
	for blockStart := start; blockStart < end; blockStart += s.blockSize {
		if err := s.verifyBlock(blockStart); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (s *HierarchicalSha256Storage) verifyBlock(blockStart int64) error {
	blockIndex := blockStart / s.blockSize
	hashOff := blockIndex * HashSize
	if hashOff+HashSize > int64(len(s.hashLayer)) {
		return ncaerr.ErrHashVerificationFailed
	}

	size := s.blockSize
	if blockStart+size > s.data.Size() {
		size = s.data.Size() - blockStart
	}
	buf := make([]byte, size)
	if err := vfs.ReadFull(s.data, buf, blockStart); err != nil {
		return err
	}

	want := s.hashLayer[hashOff : hashOff+HashSize]
	got := sha256.Sum256(buf)
	for i := 0; i < HashSize; i++ {
		if got[i] != want[i] {
			return ncaerr.ErrHashVerificationFailed
		}
	}
	return nil
}
