package bktr

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/falk/nca-go/pkg/vfs"
)

// encodeHeader builds the 16-byte {magic,version,entry_count,reserved}
// preamble fronting every bucket-tree table region.
func encodeHeader(entryCount int32) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(entryCount))
	return buf
}

// TestSplitTableStorageRecoversRegions builds a combined table blob out of
// the header, node storage, and entry storage regions spec §3 describes and
// checks SplitTableStorage slices them back out at their true, entry_count
// -derived sizes rather than an assumed 50/50 split.
func TestSplitTableStorageRecoversRegions(t *testing.T) {
	const nodeSize = 1024
	const entrySize = 16
	const entryCount = 3

	nodeRegion := EncodeInteriorNode(nodeSize, NodeHeader{Index: 0, Count: 1, Offset: 0x5000}, []int64{0})
	entryRegion := EncodeEntrySetNode(nodeSize, NodeHeader{Index: 0, Count: entryCount, Offset: 0x5000}, entrySize, [][]byte{
		make([]byte, entrySize),
		make([]byte, entrySize),
		make([]byte, entrySize),
	})

	table := append(append(encodeHeader(entryCount), nodeRegion...), entryRegion...)
	tableFile := vfs.NewArrayFile(table)

	wantNodeSize := QueryNodeStorageSize(nodeSize, entrySize, entryCount)
	wantEntrySize := QueryEntryStorageSize(nodeSize, entrySize, entryCount)
	if wantNodeSize != nodeSize || wantEntrySize != nodeSize {
		t.Fatalf("sanity: want node/entry region sizes %d/%d, got %d/%d", nodeSize, nodeSize, wantNodeSize, wantEntrySize)
	}

	nodeStorage, entryStorage, gotCount, err := SplitTableStorage(tableFile, nodeSize, entrySize)
	if err != nil {
		t.Fatalf("SplitTableStorage: %v", err)
	}
	if gotCount != entryCount {
		t.Fatalf("entryCount = %d, want %d", gotCount, entryCount)
	}
	if nodeStorage.Size() != wantNodeSize || entryStorage.Size() != wantEntrySize {
		t.Fatalf("region sizes = %d/%d, want %d/%d", nodeStorage.Size(), entryStorage.Size(), wantNodeSize, wantEntrySize)
	}

	gotNode := make([]byte, nodeStorage.Size())
	if err := vfs.ReadFull(nodeStorage, gotNode, 0); err != nil {
		t.Fatalf("read node storage: %v", err)
	}
	if !bytes.Equal(gotNode, nodeRegion) {
		t.Errorf("node storage bytes diverged from the source region")
	}

	gotEntry := make([]byte, entryStorage.Size())
	if err := vfs.ReadFull(entryStorage, gotEntry, 0); err != nil {
		t.Fatalf("read entry storage: %v", err)
	}
	if !bytes.Equal(gotEntry, entryRegion) {
		t.Errorf("entry storage bytes diverged from the source region")
	}
}

// TestReadHeaderRejectsBadMagicAndVersion exercises the header validation
// ReadHeader performs before SplitTableStorage trusts entry_count.
func TestReadHeaderRejectsBadMagicAndVersion(t *testing.T) {
	bad := encodeHeader(1)
	copy(bad[0:4], "XXXX")
	if _, err := ReadHeader(vfs.NewArrayFile(bad), 1024, 16); err == nil {
		t.Error("expected error for bad magic")
	}

	badVersion := encodeHeader(1)
	binary.LittleEndian.PutUint32(badVersion[4:8], FormatVersion+1)
	if _, err := ReadHeader(vfs.NewArrayFile(badVersion), 1024, 16); err == nil {
		t.Error("expected error for bad version")
	}
}
