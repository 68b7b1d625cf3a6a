package storage

import (
	"encoding/binary"

	"github.com/falk/nca-go/pkg/bktr"
	"github.com/falk/nca-go/pkg/ncaerr"
	"github.com/falk/nca-go/pkg/vfs"
)

const (
	// IndirectEntrySize is the 20-byte entry layout spec §3 defines.
	IndirectEntrySize = 20
	// IndirectNodeSize is the bucket-tree node size indirect/sparse
	// storage use.
	IndirectNodeSize = 16 * 1024
	// IndirectStorageCount is the two data-storage slots (original/patch).
	IndirectStorageCount = 2
)

// IndirectEntry is the 20-byte {virt_ofs, phys_ofs, storage_index} record
// spec §3 defines for both indirect and sparse storage.
type IndirectEntry struct {
	VirtOffset    int64
	PhysOffset    int64
	StorageIndex  int32
}

func decodeIndirectEntry(b []byte) IndirectEntry {
	return IndirectEntry{
		VirtOffset:   int64(binary.LittleEndian.Uint64(b[0:8])),
		PhysOffset:   int64(binary.LittleEndian.Uint64(b[8:16])),
		StorageIndex: int32(binary.LittleEndian.Uint32(b[16:20])),
	}
}

func (e IndirectEntry) PhysicalOffset() int64 { return e.PhysOffset }
func (e IndirectEntry) IsFragment() bool      { return e.StorageIndex != 0 }

// IndirectStorage maps virtual offsets into one of two underlying data
// storages via a bucket tree, per spec §4.6. Storage 0 is conventionally
// "original", storage 1 "patch"; SparseStorage specializes storage 1 to an
// infinite zero source.
type IndirectStorage struct {
	table        *bktr.Tree
	dataStorage  [IndirectStorageCount]vfs.File
	continuous   bool
}

// NewIndirectStorage initializes the bucket tree over nodeStorage/
// entryStorage and installs the two data storages.
func NewIndirectStorage(nodeStorage, entryStorage vfs.File, entryCount int32, data0, data1 vfs.File) (*IndirectStorage, error) {
	tree, err := bktr.Initialize(nodeStorage, entryStorage, IndirectNodeSize, IndirectEntrySize, entryCount)
	if err != nil {
		return nil, err
	}
	s := &IndirectStorage{table: tree, continuous: true}
	s.dataStorage[0] = data0
	s.dataStorage[1] = data1
	return s, nil
}

func (s *IndirectStorage) SetStorage(idx int, f vfs.File) { s.dataStorage[idx] = f }

func (s *IndirectStorage) Size() int64 {
	offsets, err := s.table.GetOffsets()
	if err != nil {
		return 0
	}
	return offsets.End
}

// entryOp is the per-covered-subrange callback OperatePerEntry in the
// original invokes; here it is a plain function forwarding a read.
type entryOp func(data vfs.File, physOffset, virtOffset, size int64) error

func (s *IndirectStorage) operatePerEntry(offset, size int64, rangeCheck bool, op entryOp) error {
	if size == 0 {
		return nil
	}
	tableOffsets, err := s.table.GetOffsets()
	if err != nil {
		return err
	}
	if !tableOffsets.IncludeRange(offset, size) {
		return ncaerr.ErrOutOfRange
	}

	visitor, err := s.table.Find(offset)
	if err != nil {
		return err
	}
	if visitor.VirtualOffset() < 0 || !tableOffsets.Include(visitor.VirtualOffset()) {
		return ncaerr.ErrInvalidIndirectEntryOffset
	}

	curOffset := offset
	endOffset := offset + size

	for curOffset < endOffset {
		entry := decodeIndirectEntry(visitor.Entry())
		if entry.VirtOffset > curOffset {
			return ncaerr.ErrInvalidIndirectEntryOffset
		}
		if entry.StorageIndex < 0 || entry.StorageIndex >= IndirectStorageCount {
			return ncaerr.ErrInvalidIndirectEntryStorageIndex
		}

		if s.continuous {
			crInfo, err := bktr.ScanContinuousReading(visitor, decodeIndirectEntry, curOffset, endOffset-curOffset)
			if err != nil {
				return err
			}
			if crInfo.CanDo() {
				dataOffset := curOffset - entry.VirtOffset
				curSize := crInfo.ReadSize
				if rangeCheck {
					if err := checkDataRange(s.dataStorage[0], entry.PhysOffset, dataOffset, curSize); err != nil {
						return err
					}
				}
				if err := op(s.dataStorage[0], entry.PhysOffset+dataOffset, curOffset, curSize); err != nil {
					return err
				}
				curOffset += curSize
				for i := int32(0); i < crInfo.SkipCount && visitor.CanMoveNext(); i++ {
					if err := visitor.MoveNext(); err != nil {
						return err
					}
				}
				continue
			}
		}

		var nextOffset int64
		if visitor.CanMoveNext() {
			peek := *visitor
			if err := peek.MoveNext(); err != nil {
				return err
			}
			nextOffset = peek.VirtualOffset()
		} else {
			nextOffset = tableOffsets.End
		}
		if curOffset >= nextOffset {
			return ncaerr.ErrInvalidIndirectEntryOffset
		}

		dataOffset := curOffset - entry.VirtOffset
		dataSize := nextOffset - entry.VirtOffset
		remaining := endOffset - curOffset
		curSize := remaining
		if dataSize-dataOffset < curSize {
			curSize = dataSize - dataOffset
		}

		if rangeCheck {
			if err := checkDataRange(s.dataStorage[entry.StorageIndex], entry.PhysOffset, dataOffset, curSize); err != nil {
				return ncaerr.ErrIndirectStorageCorrupted
			}
		}
		if err := op(s.dataStorage[entry.StorageIndex], entry.PhysOffset+dataOffset, curOffset, curSize); err != nil {
			return err
		}

		curOffset += curSize
		if curOffset < endOffset {
			if err := visitor.MoveNext(); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkDataRange(data vfs.File, physOffset, dataOffset, size int64) error {
	if data == nil {
		return ncaerr.ErrIndirectStorageCorrupted
	}
	dsSize := data.Size()
	if physOffset < 0 || physOffset > dsSize {
		return ncaerr.ErrInvalidIndirectEntryOffset
	}
	if physOffset+dataOffset+size > dsSize {
		return ncaerr.ErrInvalidIndirectStorageSize
	}
	return nil
}

func (s *IndirectStorage) Read(dst []byte, off int64) (int, error) {
	size := int64(len(dst))
	written := int64(0)
	err := s.operatePerEntry(off, size, true, func(data vfs.File, physOffset, virtOffset, n int64) error {
		dstOff := virtOffset - off
		got, rerr := data.Read(dst[dstOff:dstOff+n], physOffset)
		if rerr != nil {
			return rerr
		}
		if int64(got) != n {
			return ncaerr.ErrIndirectStorageCorrupted
		}
		written += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(written), nil
}
