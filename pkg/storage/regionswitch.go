package storage

import "github.com/falk/nca-go/pkg/vfs"

// Region is a half-open virtual-offset range within a RegionSwitchStorage,
// per spec §4.11.
type Region struct {
	Offset int64
	Size   int64
}

func (r Region) end() int64 { return r.Offset + r.Size }

// RegionSwitchStorage demuxes reads between an "inside" and an "outside"
// storage at a single Region boundary, splitting any request spanning the
// boundary into maximal contiguous sub-reads, per spec §4.11. Bytes inside
// the region come from the inside storage and every byte outside it from
// the outside storage; the reported Size is the inside storage's size.
type RegionSwitchStorage struct {
	inside  vfs.File
	outside vfs.File
	region  Region
}

func NewRegionSwitchStorage(inside, outside vfs.File, region Region) *RegionSwitchStorage {
	return &RegionSwitchStorage{inside: inside, outside: outside, region: region}
}

func (s *RegionSwitchStorage) Size() int64 { return s.inside.Size() }

func (s *RegionSwitchStorage) Read(dst []byte, off int64) (int, error) {
	size := int64(len(dst))
	if size == 0 {
		return 0, nil
	}
	endOffset := off + size
	total := 0

	curOffset := off
	for curOffset < endOffset {
		inRegion := curOffset >= s.region.Offset && curOffset < s.region.end()

		var chunkEnd int64
		var target vfs.File
		if inRegion {
			chunkEnd = s.region.end()
			target = s.inside
		} else if curOffset < s.region.Offset {
			chunkEnd = s.region.Offset
			target = s.outside
		} else {
			chunkEnd = endOffset
			target = s.outside
		}
		if chunkEnd > endOffset {
			chunkEnd = endOffset
		}

		dstOff := curOffset - off
		chunkSize := chunkEnd - curOffset
		n, err := target.Read(dst[dstOff:dstOff+chunkSize], curOffset)
		if err != nil {
			return total, err
		}
		total += n
		if int64(n) < chunkSize {
			return total, nil
		}
		curOffset = chunkEnd
	}
	return total, nil
}
