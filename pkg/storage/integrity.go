package storage

import (
	"crypto/sha256"

	"github.com/falk/nca-go/pkg/ncaerr"
	"github.com/falk/nca-go/pkg/vfs"
)

// MinLayerCount and MaxLayerCount bound the hierarchical integrity layer
// count spec §4.10 defines (master hash through final data, inclusive).
const (
	MinLayerCount = 2
	MaxLayerCount = 7
)

// LevelInfo is one entry of a HierarchicalIntegrityVerificationInformation:
// the {offset, size, block_order} triple locating a layer's storage within
// its backing file.
type LevelInfo struct {
	Offset     int64
	Size       int64
	BlockOrder int
}

func (l LevelInfo) blockSize() int64 { return int64(1) << uint(l.BlockOrder) }

// HierarchicalIntegrityVerificationInformation is the per-NCA integrity
// metadata: one LevelInfo per layer, a salt seed, and the layer count.
type HierarchicalIntegrityVerificationInformation struct {
	Levels     []LevelInfo
	Seed       [16]byte
	MaxLayers  int
}

// verificationLayer wraps one layer's data storage, verifying each block
// read against the hash bytes its upper layer supplies.
type verificationLayer struct {
	data       vfs.File
	upper      vfs.File // nil for the root (master hash) layer.
	blockSize  int64
	dataSize   int64
	seed       [16]byte
	verify     bool
}

func (v *verificationLayer) Size() int64 { return v.dataSize }

func (v *verificationLayer) Read(dst []byte, off int64) (int, error) {
	if off >= v.dataSize {
		return 0, nil
	}
	n := int64(len(dst))
	if off+n > v.dataSize {
		n = v.dataSize - off
	}
	got, err := v.data.Read(dst[:n], off)
	if err != nil {
		return 0, err
	}
	if int64(got) != n {
		return 0, ncaerr.ErrHashVerificationFailed
	}

	if v.verify && v.upper != nil {
		start := floorAlign(off, v.blockSize)
		end := ceilAlign(off+n, v.blockSize)
		for blockStart := start; blockStart < end; blockStart += v.blockSize {
			if err := v.verifyBlock(blockStart); err != nil {
				return 0, err
			}
		}
	}
	return int(n), nil
}

// verifyBlock hashes the (seed-salted, zero-padded past data_size) block at
// blockStart and compares it against the HashSize bytes the upper layer
// stores at the corresponding hash offset, per spec §4.10's final-partial-
// block zero-padding rule.
func (v *verificationLayer) verifyBlock(blockStart int64) error {
	size := v.blockSize
	if blockStart+size > v.dataSize {
		size = v.dataSize - blockStart
	}
	if size <= 0 {
		return nil
	}
	buf := make([]byte, v.blockSize)
	got, err := v.data.Read(buf[:size], blockStart)
	if err != nil {
		return err
	}
	if int64(got) != size {
		return ncaerr.ErrHashVerificationFailed
	}
	// buf[size:] stays zero, satisfying the partial-block padding rule.

	h := sha256.New()
	h.Write(v.seed[:])
	h.Write(buf)
	sum := h.Sum(nil)

	blockIndex := blockStart / v.blockSize
	hashOff := blockIndex * HashSize
	want := make([]byte, HashSize)
	if _, err := v.upper.Read(want, hashOff); err != nil {
		return err
	}
	for i := 0; i < HashSize; i++ {
		if sum[i] != want[i] {
			return ncaerr.ErrHashVerificationFailed
		}
	}
	return nil
}

// HierarchicalIntegrityStorage is the 2-7 layer verified storage spec
// §4.10 describes, stacked bottom-up from a master hash down to the final
// data layer. Read is served by the topmost (outermost) layer, which
// recursively verifies every layer beneath it.
type HierarchicalIntegrityStorage struct {
	top *verificationLayer
}

// NewHierarchicalIntegrityStorage wires info.Levels against storages (one
// vfs.File per layer, storages[0] being the master hash) plus a final data
// storage, per spec §4.10's HierarchicalStorageInformation contract.
func NewHierarchicalIntegrityStorage(info HierarchicalIntegrityVerificationInformation, storages []vfs.File, finalData vfs.File, verify bool) (*HierarchicalIntegrityStorage, error) {
	if info.MaxLayers < MinLayerCount || info.MaxLayers > MaxLayerCount {
		return nil, ncaerr.ErrInvalidHierarchicalIntegrityVerificationLayerCount
	}
	if len(info.Levels) != info.MaxLayers-1 || len(storages) != info.MaxLayers-1 {
		return nil, ncaerr.ErrInvalidHierarchicalIntegrityVerificationLayerCount
	}

	all := append(append([]vfs.File{}, storages...), finalData)

	var upper vfs.File
	var layer *verificationLayer
	for i := 0; i < len(all); i++ {
		data := all[i]
		var blockSize int64
		if i < len(info.Levels) {
			blockSize = info.Levels[i].blockSize()
		} else {
			// Final data layer is verified against the last hash layer's
			// block order, the same size used to build that hash layer.
			blockSize = info.Levels[len(info.Levels)-1].blockSize()
		}
		layer = &verificationLayer{
			data:      data,
			upper:     upper,
			blockSize: blockSize,
			dataSize:  data.Size(),
			seed:      info.Seed,
			verify:    verify,
		}
		upper = layer
	}

	return &HierarchicalIntegrityStorage{top: layer}, nil
}

func (s *HierarchicalIntegrityStorage) Size() int64 { return s.top.Size() }

func (s *HierarchicalIntegrityStorage) Read(dst []byte, off int64) (int, error) {
	return s.top.Read(dst, off)
}
