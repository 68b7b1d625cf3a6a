package storage

import "github.com/falk/nca-go/pkg/vfs"

// AlignmentMatchingStorage adapts a base storage whose physical reads must
// land on DataAlign boundaries to a caller whose offsets/sizes may be
// arbitrary, per spec §4.4. It computes the largest aligned "core"
// sub-range of the request that can be read directly into the
// caller-supplied buffer, and services the unaligned head/tail through a
// small scratch buffer.
type AlignmentMatchingStorage struct {
	base       vfs.File
	dataAlign  int64
	bufferAlign int64
}

func NewAlignmentMatchingStorage(base vfs.File, dataAlign, bufferAlign int64) *AlignmentMatchingStorage {
	return &AlignmentMatchingStorage{base: base, dataAlign: dataAlign, bufferAlign: bufferAlign}
}

func (s *AlignmentMatchingStorage) Size() int64 { return s.base.Size() }

func floorAlign(v, align int64) int64 { return (v / align) * align }
func ceilAlign(v, align int64) int64  { return ((v + align - 1) / align) * align }

// Read implements the three-phase algorithm in spec §4.4: read an aligned
// core directly into dst when possible, then patch in the head/tail via a
// DataAlign-sized scratch buffer.
func (s *AlignmentMatchingStorage) Read(dst []byte, off int64) (int, error) {
	size := int64(len(dst))
	if size == 0 {
		return 0, nil
	}

	alignedStart := floorAlign(off, s.dataAlign)
	alignedEnd := ceilAlign(off+size, s.dataAlign)

	// Fast path: request is already aligned on both ends.
	if alignedStart == off && alignedEnd == off+size {
		return s.base.Read(dst, off)
	}

	// Determine the aligned "core" sub-range inside [off, off+size); it is
	// read straight into dst at its matching position, with no copy.
	coreStart := ceilAlign(off, s.dataAlign)
	coreEnd := floorAlign(off+size, s.dataAlign)

	buf := make([]byte, s.dataAlign)
	total := 0

	if coreStart < coreEnd {
		n, err := s.base.Read(dst[coreStart-off:coreEnd-off], coreStart)
		if err != nil {
			return 0, err
		}
		total += n
		if int64(n) < coreEnd-coreStart {
			// Short read hit EOF inside the core; nothing past it can be
			// serviced either.
			return total, nil
		}
	}

	// Head: [alignedStart, coreStart) overlapped with [off, off+size).
	if off < coreStart {
		n, err := s.base.Read(buf, alignedStart)
		if err != nil {
			return 0, err
		}
		avail := int64(n)
		headLen := coreStart - off
		if headLen > size {
			headLen = size
		}
		srcOff := off - alignedStart
		if srcOff >= avail {
			return total, nil
		}
		if srcOff+headLen > avail {
			headLen = avail - srcOff
		}
		copy(dst[0:headLen], buf[srcOff:srcOff+headLen])
		total += int(headLen)
		if srcOff+headLen < off+size-alignedStart && avail < s.dataAlign {
			return total, nil
		}
	}

	// Tail: [coreEnd, alignedEnd) overlapped with [off, off+size).
	if coreEnd < off+size && coreEnd >= coreStart {
		tailAlignedStart := floorAlign(coreEnd, s.dataAlign)
		n, err := s.base.Read(buf, tailAlignedStart)
		if err != nil {
			return 0, err
		}
		avail := int64(n)
		tailLen := off + size - coreEnd
		srcOff := coreEnd - tailAlignedStart
		if srcOff >= avail {
			return total, nil
		}
		if srcOff+tailLen > avail {
			tailLen = avail - srcOff
		}
		copy(dst[coreEnd-off:coreEnd-off+tailLen], buf[srcOff:srcOff+tailLen])
		total += int(tailLen)
	}

	return total, nil
}

// Write performs read-modify-write on unaligned head/tail blocks and writes
// the aligned core directly, the symmetric counterpart spec §4.4 describes.
func (s *AlignmentMatchingStorage) Write(src []byte, off int64) (int, error) {
	w, ok := s.base.(vfs.WriterFile)
	if !ok {
		return 0, vfs.ErrOutOfRange
	}
	size := int64(len(src))
	if size == 0 {
		return 0, nil
	}

	coreStart := ceilAlign(off, s.dataAlign)
	coreEnd := floorAlign(off+size, s.dataAlign)
	total := 0

	if off < coreStart {
		alignedStart := floorAlign(off, s.dataAlign)
		buf := make([]byte, s.dataAlign)
		if _, err := s.base.Read(buf, alignedStart); err != nil {
			return 0, err
		}
		headLen := coreStart - off
		if headLen > size {
			headLen = size
		}
		copy(buf[off-alignedStart:off-alignedStart+headLen], src[0:headLen])
		if _, err := w.Write(buf, alignedStart); err != nil {
			return 0, err
		}
		total += int(headLen)
	}

	if coreStart < coreEnd {
		n, err := w.Write(src[coreStart-off:coreEnd-off], coreStart)
		if err != nil {
			return 0, err
		}
		total += n
	}

	if coreEnd < off+size && coreEnd >= coreStart {
		tailAlignedStart := floorAlign(coreEnd, s.dataAlign)
		buf := make([]byte, s.dataAlign)
		if _, err := s.base.Read(buf, tailAlignedStart); err != nil {
			return 0, err
		}
		tailLen := off + size - coreEnd
		copy(buf[coreEnd-tailAlignedStart:], src[coreEnd-off:coreEnd-off+tailLen])
		if _, err := w.Write(buf, tailAlignedStart); err != nil {
			return 0, err
		}
		total += int(tailLen)
	}

	return total, nil
}
