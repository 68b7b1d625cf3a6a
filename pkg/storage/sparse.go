package storage

import (
	"github.com/falk/nca-go/pkg/bktr"
	"github.com/falk/nca-go/pkg/vfs"
)

// SparseStorage specializes IndirectStorage so that data storage slot 1 is
// an infinite zero source, per spec §4.7: entries pointing at storage index
// 1 read as runs of zero bytes rather than patch data. NCA FS sections with
// SparseInfo present use it as the innermost layer, directly over the
// section body and beneath their decryption layer.
type SparseStorage struct {
	*IndirectStorage
}

// NewSparseStorage initializes the underlying bucket tree with data0 as the
// real (still encrypted) section body and an infinite vfs.ZeroFile
// installed as storage slot 1. An entryCount of 0 (an empty sparse table)
// initializes the tree by end_offset alone, matching the original's
// SparseStorage::Initialize(end_offset) overload: the table carries no
// entries to read, so data0's own size is the only source of the tree's
// end_offset (spec §8 property 6, "a tree with entry_count=0 ... reports
// end_offset equal to its configured value").
func NewSparseStorage(nodeStorage, entryStorage vfs.File, entryCount int32, data0 vfs.File) (*SparseStorage, error) {
	var tree *bktr.Tree
	if entryCount == 0 {
		tree = bktr.InitializeEmpty(IndirectNodeSize, data0.Size())
	} else {
		t, err := bktr.Initialize(nodeStorage, entryStorage, IndirectNodeSize, IndirectEntrySize, entryCount)
		if err != nil {
			return nil, err
		}
		tree = t
	}

	ind := &IndirectStorage{table: tree, continuous: true}
	ind.dataStorage[0] = data0
	ind.dataStorage[1] = &vfs.ZeroFile{}
	return &SparseStorage{IndirectStorage: ind}, nil
}

// Read overrides IndirectStorage.Read: an empty entry table has nothing for
// operatePerEntry to walk (Tree.Find always fails on an empty tree), so a
// sparse storage with no entries reads as a flat run of zero bytes over its
// whole declared range, matching the original's SparseStorage::Read.
func (s *SparseStorage) Read(dst []byte, off int64) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if !s.table.IsEmpty() {
		return s.IndirectStorage.Read(dst, off)
	}

	offsets, err := s.table.GetOffsets()
	if err != nil {
		return 0, err
	}
	if !offsets.IncludeRange(off, int64(len(dst))) {
		return 0, vfs.ErrOutOfRange
	}
	for i := range dst {
		dst[i] = 0
	}
	return len(dst), nil
}
