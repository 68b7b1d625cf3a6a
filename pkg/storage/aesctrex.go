package storage

import (
	"encoding/binary"

	"github.com/falk/nca-go/pkg/aescrypto"
	"github.com/falk/nca-go/pkg/bktr"
	"github.com/falk/nca-go/pkg/ncaerr"
	"github.com/falk/nca-go/pkg/vfs"
)

const (
	// CtrExEntrySize is the {virt_offset, encryption_value, reserved,
	// generation} layout spec §3 gives the AES-CTR-Ex subsection bucket tree.
	CtrExEntrySize = 16
	// CtrExNodeSize matches the node size every BKTR table in an NCA uses.
	CtrExNodeSize = 16 * 1024
)

// ctrExEncryption is the entry's encryption_value byte: whether the
// subsection it covers is AES-CTR ciphertext at all, per
// fssystem_aes_ctr_counter_extended_storage.h's Entry::Encryption enum.
type ctrExEncryption uint8

const (
	CtrExEncrypted    ctrExEncryption = 0
	CtrExNotEncrypted ctrExEncryption = 1
)

// ctrExEntry is one patch-aware subsection: every byte from VirtOffset up to
// the next entry's VirtOffset (or the tree's end) is, when Encryption ==
// CtrExEncrypted, encrypted with the upper IV's SecureValue unchanged but
// generation word replaced by Counter; when CtrExNotEncrypted, the bytes
// are plaintext and must pass through untouched.
type ctrExEntry struct {
	VirtOffset int64
	Encryption ctrExEncryption
	Counter    uint32
}

func decodeCtrExEntry(b []byte) ctrExEntry {
	return ctrExEntry{
		VirtOffset: int64(binary.LittleEndian.Uint64(b[0:8])),
		Encryption: ctrExEncryption(b[8]),
		Counter:    binary.LittleEndian.Uint32(b[12:16]),
	}
}

// PhysicalOffset satisfies bktr.ScanEntry trivially: CTR-Ex entries have no
// independent physical placement, their data lives at the same virtual
// offset in the base cipher-text storage, so every entry is "contiguous"
// with itself and never merges across a counter change.
func (e ctrExEntry) PhysicalOffset() int64 { return e.VirtOffset }
func (e ctrExEntry) IsFragment() bool      { return false }

// AesCtrExStorage is the AES-CTR decryption layer used by FS sections that
// carry a patch subsection bucket tree (spec §4.3's "CTR-Ex" variant): the
// counter's generation word is swapped per subsection instead of staying
// fixed for the whole section.
type AesCtrExStorage struct {
	base       vfs.File
	table      *bktr.Tree
	key        aescrypto.Key128
	upperIv    aescrypto.UpperIv
	baseOffset int64 // see AesCtrStorage.baseOffset.
}

// NewAesCtrExStorage builds the subsection bucket tree over nodeStorage/
// entryStorage and wraps base (ciphertext) with it.
func NewAesCtrExStorage(base, nodeStorage, entryStorage vfs.File, entryCount int32, key aescrypto.Key128, upperIv aescrypto.UpperIv, baseOffset int64) (*AesCtrExStorage, error) {
	table, err := bktr.Initialize(nodeStorage, entryStorage, CtrExNodeSize, CtrExEntrySize, entryCount)
	if err != nil {
		return nil, err
	}
	return &AesCtrExStorage{base: base, table: table, key: key, upperIv: upperIv, baseOffset: baseOffset}, nil
}

func (s *AesCtrExStorage) Size() int64 { return s.base.Size() }

func (s *AesCtrExStorage) Read(dst []byte, off int64) (int, error) {
	size := int64(len(dst))
	if size == 0 {
		return 0, nil
	}
	n, err := s.base.Read(dst, off)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	offsets, err := s.table.GetOffsets()
	if err != nil {
		return 0, err
	}
	if !offsets.IncludeRange(off, int64(n)) {
		return 0, ncaerr.ErrOutOfRange
	}

	visitor, err := s.table.Find(off)
	if err != nil {
		return 0, err
	}

	curOffset := off
	endOffset := off + int64(n)
	for curOffset < endOffset {
		entry := decodeCtrExEntry(visitor.Entry())

		var nextOffset int64
		if visitor.CanMoveNext() {
			peek := *visitor
			if err := peek.MoveNext(); err != nil {
				return 0, err
			}
			nextOffset = peek.VirtualOffset()
		} else {
			nextOffset = offsets.End
		}
		if curOffset >= nextOffset {
			return 0, ncaerr.ErrInvalidBucketTreeEntryOffset
		}

		chunkEnd := nextOffset
		if chunkEnd > endOffset {
			chunkEnd = endOffset
		}

		bufStart := curOffset - off
		bufEnd := chunkEnd - off

		if entry.Encryption == CtrExEncrypted {
			upper := s.upperIv
			upper.Generation = entry.Counter
			stream, err := aescrypto.NewCtrStream(s.key, upper.Bytes())
			if err != nil {
				return 0, err
			}
			stream.XORKeyStreamAt(dst[bufStart:bufEnd], s.baseOffset+curOffset)
		}
		// CtrExNotEncrypted: dst already holds the plaintext bytes read
		// straight from base above; nothing further to do.

		curOffset = chunkEnd
		if curOffset < endOffset {
			if err := visitor.MoveNext(); err != nil {
				return 0, err
			}
		}
	}

	return n, nil
}
