package bktr

import "github.com/falk/nca-go/pkg/ncaerr"

// Visitor positions a cursor at one entry within a Tree and can advance
// forward/backward across entry-set boundaries, per spec §4.5.
type Visitor struct {
	tree     *Tree
	offsets  Offsets
	setBuf   []byte
	setHdr   NodeHeader
	setIndex int32
	entryIdx int32
}

// Entry returns the raw bytes of the entry the visitor is currently
// positioned at; callers decode it as their storage-specific entry layout.
func (v *Visitor) Entry() []byte {
	return v.tree.entryBytes(v.setBuf, v.entryIdx)
}

// VirtualOffset is the entry's stored virtual offset (first 8 bytes of
// every entry layout in spec §3).
func (v *Visitor) VirtualOffset() int64 {
	return v.tree.entryVirtualOffset(v.setBuf, v.entryIdx)
}

func (v *Visitor) CanMoveNext() bool {
	return v.entryIdx+1 < v.setHdr.Count || v.setIndex+1 < v.tree.setCount
}

func (v *Visitor) CanMovePrevious() bool {
	return v.entryIdx > 0 || v.setIndex > 0
}

// MoveNext advances to the next entry, crossing into the next entry-set
// node if the current one is exhausted.
func (v *Visitor) MoveNext() error {
	if v.entryIdx+1 < v.setHdr.Count {
		v.entryIdx++
		return nil
	}
	if v.setIndex+1 >= v.tree.setCount {
		return ncaerr.ErrOutOfRange
	}
	buf, hdr, err := v.tree.readEntrySet(v.setIndex + 1)
	if err != nil {
		return err
	}
	v.setBuf, v.setHdr, v.setIndex, v.entryIdx = buf, hdr, v.setIndex+1, 0
	return nil
}

// MovePrevious steps back one entry, crossing into the previous entry-set
// node if needed.
func (v *Visitor) MovePrevious() error {
	if v.entryIdx > 0 {
		v.entryIdx--
		return nil
	}
	if v.setIndex == 0 {
		return ncaerr.ErrOutOfRange
	}
	buf, hdr, err := v.tree.readEntrySet(v.setIndex - 1)
	if err != nil {
		return err
	}
	v.setBuf, v.setHdr, v.setIndex = buf, hdr, v.setIndex-1
	v.entryIdx = hdr.Count - 1
	return nil
}

// nextEntryOffset returns the virtual offset that bounds the current
// entry's range on the right: the next entry's offset, or the tree's
// end_offset if this is the last entry.
func (v *Visitor) nextEntryOffset() (int64, error) {
	if v.entryIdx+1 < v.setHdr.Count {
		return v.tree.entryVirtualOffset(v.setBuf, v.entryIdx+1), nil
	}
	if v.setIndex+1 < v.tree.setCount {
		return v.setHdr.Offset, nil // this entry-set's recorded end == next set's start.
	}
	return v.offsets.End, nil
}

// ContinuousReadingInfo is the pure scan-result struct spec §4.5 and §9
// describe: {read_size, skip_count, done}.
type ContinuousReadingInfo struct {
	ReadSize  int64
	SkipCount int32
	Done      bool
}

func (c *ContinuousReadingInfo) CanDo() bool { return c.ReadSize > 0 }

// ScanEntry is the interface a storage's entry type implements so that
// ScanContinuousReading can merge adjacent physically-contiguous,
// non-fragment entries into a single larger read, per spec §4.5's
// "continuous-reading scan".
type ScanEntry interface {
	PhysicalOffset() int64
	IsFragment() bool
}

// ScanContinuousReading walks forward from the visitor's current entry,
// merging adjacent entries whose physical placement is contiguous and
// whose type permits merging, producing an Info the caller uses to issue
// one large read and skip ahead (spec §4.5, §9).
func ScanContinuousReading[E ScanEntry](v *Visitor, decode func([]byte) E, offset int64, size int64) (ContinuousReadingInfo, error) {
	var info ContinuousReadingInfo
	if size == 0 {
		return info, nil
	}

	first := decode(v.Entry())
	if first.IsFragment() {
		return info, nil
	}
	if v.tree.entryVirtualOffset(v.setBuf, v.entryIdx) > offset {
		return info, ncaerr.ErrOutOfRange
	}

	curOffset := offset
	endOffset := offset + size
	physOffset := first.PhysicalOffset()

	setBuf, setHdr, setIndex, entryIdx := v.setBuf, v.setHdr, v.setIndex, v.entryIdx

	var mergeSize, readable int64
	merged := false
	skip := int32(0)

	for curOffset < endOffset {
		entryOffset := v.tree.entryVirtualOffset(setBuf, entryIdx)
		if entryOffset > curOffset {
			return info, ncaerr.ErrInvalidIndirectEntryOffset
		}

		var nextOffset int64
		var nextBuf []byte
		var nextHdr NodeHeader
		var nextSetIndex, nextEntryIdx int32

		if entryIdx+1 < setHdr.Count {
			nextBuf, nextHdr, nextSetIndex, nextEntryIdx = setBuf, setHdr, setIndex, entryIdx+1
			nextOffset = v.tree.entryVirtualOffset(setBuf, nextEntryIdx)
		} else if setIndex+1 < v.tree.setCount {
			buf, hdr, err := v.tree.readEntrySet(setIndex + 1)
			if err != nil {
				return info, err
			}
			nextBuf, nextHdr, nextSetIndex, nextEntryIdx = buf, hdr, setIndex+1, 0
			nextOffset = setHdr.Offset
		} else {
			nextOffset = v.offsets.End
		}

		if curOffset >= nextOffset {
			return info, ncaerr.ErrInvalidIndirectEntryOffset
		}

		dataSize := nextOffset - entryOffset
		remaining := endOffset - curOffset
		readSize := remaining
		if dataSize < remaining {
			readSize = dataSize
		}

		cur := decode(v.tree.entryBytes(setBuf, entryIdx))
		if cur.IsFragment() {
			const fragmentSizeMax = 4 * 1024
			if readSize >= fragmentSizeMax || remaining <= dataSize {
				break
			}
			mergeSize += readSize
		} else {
			if physOffset != cur.PhysicalOffset() {
				break
			}
			readable += mergeSize + readSize
			merged = merged || mergeSize > 0
			mergeSize = 0
		}

		curOffset += readSize
		physOffset += nextOffset - entryOffset
		skip++

		if nextBuf == nil {
			break
		}
		setBuf, setHdr, setIndex, entryIdx = nextBuf, nextHdr, nextSetIndex, nextEntryIdx
	}

	if merged {
		info.ReadSize = readable
	}
	info.SkipCount = skip
	return info, nil
}
