package bktr

import (
	"sort"
	"sync"

	"github.com/falk/nca-go/pkg/ncaerr"
	"github.com/falk/nca-go/pkg/vfs"
)

// Offsets is the [start_offset, end_offset) a bucket tree covers, per
// spec §3.
type Offsets struct {
	Start int64
	End   int64
}

func (o Offsets) Include(offset int64) bool {
	return o.Start <= offset && offset < o.End
}

func (o Offsets) IncludeRange(offset, size int64) bool {
	return size > 0 && o.Start <= offset && size <= o.End-offset
}

// Tree is a bucket-tree index: an L1 (and optional L2) interior-node
// structure over a node storage, whose leaves point into an entry storage
// of fixed-size entries, per spec §4.5.
type Tree struct {
	nodeStorage  vfs.File
	entryStorage vfs.File
	nodeSize     int
	entrySize    int
	entryCount   int32
	setCount     int32
	l2Count      int32

	l1 []byte // the single L1 node, loaded once at Initialize.

	offsetOnce sync.Once
	offsets    Offsets
	offsetErr  error

	// emptyEnd is set by InitializeEmpty: a table with zero entries still
	// reports a configured end_offset, per spec §3's "entry_count=0 ...
	// the tree is empty" invariant.
	empty    bool
	emptyEnd int64
}

// Initialize stores the storages, loads L1 into memory, and validates it,
// per spec §4.5.
func Initialize(nodeStorage, entryStorage vfs.File, nodeSize, entrySize int, entryCount int32) (*Tree, error) {
	if entrySize < 8 {
		return nil, ncaerr.ErrInvalidBucketTreeNodeEntryCount
	}
	if nodeSize < entrySize+nodeHeaderSize || nodeSize < NodeSizeMin || nodeSize > NodeSizeMax {
		return nil, ncaerr.ErrInvalidBucketTreeNodeEntryCount
	}
	if entryCount < 0 {
		return nil, ncaerr.ErrInvalidBucketTreeNodeEntryCount
	}

	t := &Tree{
		nodeStorage:  nodeStorage,
		entryStorage: entryStorage,
		nodeSize:     nodeSize,
		entrySize:    entrySize,
		entryCount:   entryCount,
	}
	if entryCount == 0 {
		t.empty = true
		return t, nil
	}

	t.setCount = EntrySetCount(nodeSize, entrySize, entryCount)
	t.l2Count = nodeL2Count(nodeSize, t.setCount)

	l1 := make([]byte, nodeSize)
	if err := vfs.ReadFull(nodeStorage, l1, 0); err != nil {
		return nil, err
	}
	hdr := decodeNodeHeader(l1)
	if hdr.Index != 0 {
		return nil, ncaerr.ErrInvalidBucketTreeNodeEntryCount
	}
	if err := verifyInteriorCount(hdr, nodeSize); err != nil {
		return nil, err
	}
	t.l1 = l1

	return t, nil
}

// InitializeEmpty builds a logically-empty tree that still reports a fixed
// end_offset, per spec §4.5's init_empty.
func InitializeEmpty(nodeSize int, endOffset int64) *Tree {
	return &Tree{nodeSize: nodeSize, empty: true, emptyEnd: endOffset}
}

func (t *Tree) IsInitialized() bool { return t.nodeSize > 0 }
func (t *Tree) IsEmpty() bool       { return t.empty }
func (t *Tree) EntryCount() int32   { return t.entryCount }
func (t *Tree) EntrySize() int     { return t.entrySize }

func verifyInteriorCount(h NodeHeader, nodeSize int) error {
	max := int32(offsetCapacity(nodeSize))
	if h.Count < 1 || h.Count > max {
		return ncaerr.ErrInvalidBucketTreeNodeEntryCount
	}
	return nil
}

func verifyEntrySetCount(h NodeHeader, nodeSize, entrySize int) error {
	max := int32(entryCapacity(nodeSize, entrySize))
	if h.Count < 1 || h.Count > max {
		return ncaerr.ErrInvalidBucketTreeNodeEntryCount
	}
	return nil
}

func nodeOffsets(buf []byte, count int32) []int64 {
	out := make([]int64, count)
	pos := nodeHeaderSize
	for i := int32(0); i < count; i++ {
		out[i] = int64(leU64(buf[pos : pos+8]))
		pos += 8
	}
	return out
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// GetOffsets returns the tree's [start_offset, end_offset), lazily computed
// and memoized from the L1 node's first child offset and the overall
// bounds, per spec §4.5.
func (t *Tree) GetOffsets() (Offsets, error) {
	if t.empty {
		return Offsets{Start: 0, End: t.emptyEnd}, nil
	}
	t.offsetOnce.Do(func() {
		hdr := decodeNodeHeader(t.l1)
		offs := nodeOffsets(t.l1, hdr.Count)
		if len(offs) == 0 {
			t.offsetErr = ncaerr.ErrInvalidBucketTreeNodeEntryCount
			return
		}
		t.offsets = Offsets{Start: offs[0], End: hdr.Offset}
	})
	return t.offsets, t.offsetErr
}

// readNode reads the nodeIndex'th node (0 = L1) from node storage.
func (t *Tree) readNode(nodeIndex int32) ([]byte, NodeHeader, error) {
	if nodeIndex == 0 {
		return t.l1, decodeNodeHeader(t.l1), nil
	}
	buf := make([]byte, t.nodeSize)
	if err := vfs.ReadFull(t.nodeStorage, buf, int64(nodeIndex)*int64(t.nodeSize)); err != nil {
		return nil, NodeHeader{}, err
	}
	hdr := decodeNodeHeader(buf)
	if hdr.Index != nodeIndex {
		return nil, NodeHeader{}, ncaerr.ErrInvalidBucketTreeNodeEntryCount
	}
	if err := verifyInteriorCount(hdr, t.nodeSize); err != nil {
		return nil, NodeHeader{}, err
	}
	return buf, hdr, nil
}

// readEntrySet reads the setIndex'th leaf entry-set from entry storage.
func (t *Tree) readEntrySet(setIndex int32) ([]byte, NodeHeader, error) {
	buf := make([]byte, t.nodeSize)
	if err := vfs.ReadFull(t.entryStorage, buf, int64(setIndex)*int64(t.nodeSize)); err != nil {
		return nil, NodeHeader{}, err
	}
	hdr := decodeNodeHeader(buf)
	if hdr.Index != setIndex {
		return nil, NodeHeader{}, ncaerr.ErrInvalidBucketTreeNodeEntryCount
	}
	if err := verifyEntrySetCount(hdr, t.nodeSize, t.entrySize); err != nil {
		return nil, NodeHeader{}, err
	}
	return buf, hdr, nil
}

// findChildIndex binary-searches offsets (strictly increasing starts) for
// the largest index j with offsets[j] <= v.
func findChildIndex(offsets []int64, v int64) int {
	j := sort.Search(len(offsets), func(i int) bool { return offsets[i] > v }) - 1
	return j
}

// findEntrySetIndex descends L1 (and L2, if present) to the entry-set index
// covering virtual offset v, per spec §4.5's Find algorithm.
func (t *Tree) findEntrySetIndex(v int64) (int32, error) {
	hdr := decodeNodeHeader(t.l1)
	offs := nodeOffsets(t.l1, hdr.Count)

	j := findChildIndex(offs, v)
	if j < 0 {
		return 0, ncaerr.ErrOutOfRange
	}

	if t.l2Count == 0 {
		// L1 directly addresses entry-sets.
		return int32(j), nil
	}

	// L1 addresses L2 nodes; node index 1+j is the j'th L2 node.
	l2Buf, l2Hdr, err := t.readNode(int32(1 + j))
	if err != nil {
		return 0, err
	}
	l2Offs := nodeOffsets(l2Buf, l2Hdr.Count)
	k := findChildIndex(l2Offs, v)
	if k < 0 {
		return 0, ncaerr.ErrOutOfRange
	}

	capacity := int32(offsetCapacity(t.nodeSize))
	return int32(j)*capacity + int32(k), nil
}

// Find positions a Visitor at the entry covering virtualOffset, per spec
// §4.5.
func (t *Tree) Find(virtualOffset int64) (*Visitor, error) {
	if t.empty {
		return nil, ncaerr.ErrOutOfRange
	}

	offsets, err := t.GetOffsets()
	if err != nil {
		return nil, err
	}
	if !offsets.Include(virtualOffset) {
		return nil, ncaerr.ErrOutOfRange
	}

	setIndex, err := t.findEntrySetIndex(virtualOffset)
	if err != nil {
		return nil, err
	}
	setBuf, setHdr, err := t.readEntrySet(setIndex)
	if err != nil {
		return nil, err
	}

	entryIndex, err := t.findEntryInSet(setBuf, setHdr, virtualOffset)
	if err != nil {
		return nil, err
	}

	return &Visitor{
		tree:      t,
		offsets:   offsets,
		setBuf:    setBuf,
		setHdr:    setHdr,
		setIndex:  setIndex,
		entryIdx:  entryIndex,
	}, nil
}

// findEntryInSet binary-searches the entries within one entry-set for the
// entry covering v; entries store their virtual offset as the first 8
// bytes (little-endian), matching every entry layout in spec §3.
func (t *Tree) findEntryInSet(buf []byte, hdr NodeHeader, v int64) (int32, error) {
	offs := make([]int64, hdr.Count)
	pos := nodeHeaderSize
	for i := int32(0); i < hdr.Count; i++ {
		offs[i] = int64(leU64(buf[pos : pos+8]))
		pos += t.entrySize
	}
	j := findChildIndex(offs, v)
	if j < 0 {
		return 0, ncaerr.ErrInvalidBucketTreeEntryOffset
	}
	return int32(j), nil
}

func (t *Tree) entryBytes(buf []byte, index int32) []byte {
	start := nodeHeaderSize + int(index)*t.entrySize
	return buf[start : start+t.entrySize]
}

func (t *Tree) entryVirtualOffset(buf []byte, index int32) int64 {
	return int64(leU64(t.entryBytes(buf, index)[0:8]))
}
