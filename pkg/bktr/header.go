// Package bktr implements the bucket-tree on-disk index (spec §3, §4.5):
// the shared substrate for indirect, sparse, AES-CTR-Ex, and compressed
// storage. It is a from-scratch Go rendition grounded in
// original_source/.../fssystem_bucket_tree.h and
// fssystem_bucket_tree_template_impl.h (Yuzu's BucketTree/Visitor classes),
// generalized from C++ templates to Go generics, and from manual
// heap-allocated node buffers to plain byte slices.
package bktr

import (
	"encoding/binary"
	"fmt"

	"github.com/falk/nca-go/pkg/ncaerr"
	"github.com/falk/nca-go/pkg/vfs"
)

const (
	// Magic is the bucket-tree header's "BKTR" tag (spec §3).
	Magic = "BKTR"
	// FormatVersion is the only version this pipeline accepts.
	FormatVersion = 1

	// NodeSizeMin and NodeSizeMax bound a tree's node_size (spec §3).
	NodeSizeMin = 1 << 10
	NodeSizeMax = 512 << 10

	// HeaderSize is the fixed 16-byte {magic,version,entry_count,reserved}
	// prefix preceding the node storage region.
	HeaderSize = 16

	// nodeHeaderSize is the fixed {index,count,offset} prefix of every
	// node and entry-set (spec §3: "NodeHeader" - 16 bytes).
	nodeHeaderSize = 16
)

// Header is the bucket tree's 16-byte on-disk preamble.
type Header struct {
	EntryCount int32
}

// ReadHeader parses the 16-byte Header from the front of a table storage.
func ReadHeader(table vfs.File, nodeSize, entrySize int) (Header, error) {
	var buf [HeaderSize]byte
	if err := vfs.ReadFull(table, buf[:], 0); err != nil {
		return Header{}, err
	}
	if string(buf[0:4]) != Magic {
		return Header{}, ncaerr.ErrInvalidBucketTreeSignature
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != FormatVersion {
		return Header{}, ncaerr.ErrInvalidBucketTreeVersion
	}
	entryCount := int32(binary.LittleEndian.Uint32(buf[8:12]))
	if entryCount < 0 {
		return Header{}, ncaerr.ErrInvalidBucketTreeNodeEntryCount
	}
	return Header{EntryCount: entryCount}, nil
}

// SplitTableStorage reads the 16-byte Header fronting a combined bucket-tree
// table region (node storage immediately followed by entry storage, per
// spec §3's three contiguous regions: header, node storage, entry storage)
// and carves out the node/entry sub-storages by their true sizes, computed
// from the table's own declared entry_count via QueryNodeStorageSize /
// QueryEntryStorageSize rather than an assumed 50/50 split of the region.
func SplitTableStorage(table vfs.File, nodeSize, entrySize int) (nodeStorage, entryStorage vfs.File, entryCount int32, err error) {
	hdr, err := ReadHeader(table, nodeSize, entrySize)
	if err != nil {
		return nil, nil, 0, err
	}

	nodeStorageSize := QueryNodeStorageSize(nodeSize, entrySize, hdr.EntryCount)
	entryStorageSize := QueryEntryStorageSize(nodeSize, entrySize, hdr.EntryCount)

	nodeStorage = vfs.NewOffsetFile(table, HeaderSize, nodeStorageSize)
	entryStorage = vfs.NewOffsetFile(table, HeaderSize+nodeStorageSize, entryStorageSize)
	return nodeStorage, entryStorage, hdr.EntryCount, nil
}

// NodeHeader is the 16-byte prefix of every interior node and entry-set.
type NodeHeader struct {
	Index  int32
	Count  int32
	Offset int64 // upper-bound virtual offset for interior nodes; end-offset for entry-sets.
}

func decodeNodeHeader(buf []byte) NodeHeader {
	return NodeHeader{
		Index:  int32(binary.LittleEndian.Uint32(buf[0:4])),
		Count:  int32(binary.LittleEndian.Uint32(buf[4:8])),
		Offset: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

func encodeNodeHeader(h NodeHeader) []byte {
	buf := make([]byte, nodeHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Index))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Count))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Offset))
	return buf
}

// EncodeInteriorNode serializes an L1/L2 interior node: NodeHeader followed
// by len(childOffsets) strictly increasing s64 child-start-offsets. header.Offset
// must already hold the node's upper bound. Used by table-building tests and
// by callers synthesizing bucket trees in memory.
func EncodeInteriorNode(nodeSize int, header NodeHeader, childOffsets []int64) []byte {
	buf := make([]byte, nodeSize)
	copy(buf, encodeNodeHeader(header))
	pos := nodeHeaderSize
	for _, off := range childOffsets {
		binary.LittleEndian.PutUint64(buf[pos:pos+8], uint64(off))
		pos += 8
	}
	return buf
}

// EncodeEntrySetNode serializes a leaf entry-set: NodeHeader followed by
// len(entries)*entrySize raw entry bytes.
func EncodeEntrySetNode(nodeSize int, header NodeHeader, entrySize int, entries [][]byte) []byte {
	buf := make([]byte, nodeSize)
	copy(buf, encodeNodeHeader(header))
	pos := nodeHeaderSize
	for _, e := range entries {
		if len(e) != entrySize {
			panic(fmt.Sprintf("bktr: entry length %d != entry size %d", len(e), entrySize))
		}
		copy(buf[pos:pos+entrySize], e)
		pos += entrySize
	}
	return buf
}

// offsetCapacity is the number of s64 child offsets an interior node of
// nodeSize can hold.
func offsetCapacity(nodeSize int) int {
	return (nodeSize - nodeHeaderSize) / 8
}

// entryCapacity is the number of entrySize-byte entries a leaf entry-set of
// nodeSize can hold.
func entryCapacity(nodeSize, entrySize int) int {
	return (nodeSize - nodeHeaderSize) / entrySize
}

// EntrySetCount returns the number of leaf entry-sets entryCount entries of
// entrySize pack into, per spec §3's QueryEntryStorageSize/QueryNodeStorageSize
// helpers.
func EntrySetCount(nodeSize, entrySize int, entryCount int32) int32 {
	if entryCount <= 0 {
		return 0
	}
	perNode := int32(entryCapacity(nodeSize, entrySize))
	return (entryCount + perNode - 1) / perNode
}

// QueryNodeStorageSize is a pure function of (node_size, entry_size,
// entry_count), per spec §3.
func QueryNodeStorageSize(nodeSize, entrySize int, entryCount int32) int64 {
	if entryCount <= 0 {
		return 0
	}
	setCount := EntrySetCount(nodeSize, entrySize, entryCount)
	l2Count := nodeL2Count(nodeSize, setCount)
	return int64(1+l2Count) * int64(nodeSize)
}

// QueryEntryStorageSize is a pure function of (node_size, entry_size,
// entry_count), per spec §3.
func QueryEntryStorageSize(nodeSize, entrySize int, entryCount int32) int64 {
	if entryCount <= 0 {
		return 0
	}
	setCount := EntrySetCount(nodeSize, entrySize, entryCount)
	return int64(setCount) * int64(nodeSize)
}

// nodeL2Count returns how many L2 nodes are needed to index setCount entry
// sets given an L1 node with offsetCapacity(nodeSize) direct slots. This is
// a simplified (one-pointer-per-L2-node) two-level scheme, not the
// original's tail-packed L1 layout.
func nodeL2Count(nodeSize int, setCount int32) int32 {
	capacity := int32(offsetCapacity(nodeSize))
	if setCount <= capacity {
		return 0
	}
	return (setCount + capacity - 1) / capacity
}
