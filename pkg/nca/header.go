// Package nca parses the NCA container header and FS headers and composes
// the layered storage chain spec §4.12/§4.13 describe, generalizing the
// teacher's pkg/fs/nca_header.go from a single hardcoded "Program NCA,
// standard crypto" path into the full per-section driver.
package nca

import (
	"encoding/binary"

	"github.com/falk/nca-go/pkg/ncaerr"
)

const (
	HeaderSize       = 0x400
	SectorSize       = 0x200
	FsHeaderSize     = 0x200
	FsHeaderCount    = 4
	FsHeaderBase     = 0x400
	MagicNca3        = "NCA3"
	KeyAreaKeyCount  = 5
	ZeroKeyIndex     = 0xFF
	MinSdkAddonVer   = 0x000B0000
)

// FsType and HashType and EncryptionType and MetaDataHashType enumerate the
// FS header's typed fields, per spec §3's FS header description.
type (
	FsType             byte
	HashType           byte
	EncryptionType     byte
	MetaDataHashType   byte
	CompressionTypeTag byte
)

const (
	FsTypeRomFs FsType = iota
	FsTypePartitionFs
)

const (
	HashTypeNone HashType = iota
	HashTypeHierarchicalSha256
	HashTypeHierarchicalIntegrity
	HashTypeAutoSha3
	HashTypeHierarchicalSha3256
	HashTypeHierarchicalIntegritySha3
	HashTypeAuto
)

const (
	EncryptionTypeNone EncryptionType = iota
	EncryptionTypeAesXts
	EncryptionTypeAesCtr
	EncryptionTypeAesCtrEx
	EncryptionTypeAesCtrSkipLayerHash
	EncryptionTypeAesCtrExSkipLayerHash
)

const (
	MetaDataHashTypeNone MetaDataHashType = iota
	MetaDataHashTypeHierarchicalIntegrity
)

// FsInfo is one of the header's four {start_sector, end_sector, hash_sectors}
// records (spec §3's "four FsInfo records").
type FsInfo struct {
	StartSector uint32
	EndSector   uint32
	HashSectors uint32
	Reserved    uint32
}

func (f FsInfo) StartOffset() int64 { return int64(f.StartSector) * SectorSize }
func (f FsInfo) EndOffset() int64   { return int64(f.EndSector) * SectorSize }

// Header is the decoded 1024-byte NCA header.
type Header struct {
	Magic             [4]byte
	DistributionType  byte
	ContentType       byte
	KeyGeneration     byte
	KeyIndex          byte
	ContentSize       uint64
	ProgramID         uint64
	ContentIndex      uint32
	SdkAddonVersion   uint32
	KeyGeneration2    byte
	RightsID          [16]byte
	FsInfos           [FsHeaderCount]FsInfo
	FsHeaderHashes    [FsHeaderCount][32]byte
	EncryptedKeyArea  [KeyAreaKeyCount][16]byte

	PlaintextHeader bool // true when step 3's plaintext fallback was used.
}

// ProperKeyGeneration is max(key_generation, key_generation_2), per §4.12.
func (h *Header) ProperKeyGeneration() int {
	gen := int(h.KeyGeneration)
	if int(h.KeyGeneration2) > gen {
		gen = int(h.KeyGeneration2)
	}
	return gen
}

// MasterKeyID is max(proper_key_generation, 1) - 1, per §4.12.
func (h *Header) MasterKeyID() int {
	gen := h.ProperKeyGeneration()
	if gen < 1 {
		gen = 1
	}
	return gen - 1
}

// HasRightsID reports whether rights_id is non-zero, i.e. this NCA needs an
// externally-supplied titlekey rather than the key-area keys (§4.12 step 6).
func (h *Header) HasRightsID() bool {
	for _, b := range h.RightsID {
		if b != 0 {
			return true
		}
	}
	return false
}

// ParseHeader decodes a 1024-byte decrypted header buffer, per spec §3's
// NCA header layout.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, ncaerr.ErrInvalidNcaHeader
	}

	var h Header
	copy(h.Magic[:], buf[0x00:0x04])
	if string(h.Magic[:]) != MagicNca3 {
		return nil, ncaerr.ErrUnsupportedSdkVersion
	}

	h.DistributionType = buf[0x04]
	h.ContentType = buf[0x05]
	h.KeyGeneration = buf[0x06]
	h.KeyIndex = buf[0x07]
	h.ContentSize = binary.LittleEndian.Uint64(buf[0x08:0x10])
	h.ProgramID = binary.LittleEndian.Uint64(buf[0x10:0x18])
	h.ContentIndex = binary.LittleEndian.Uint32(buf[0x18:0x1C])
	h.SdkAddonVersion = binary.LittleEndian.Uint32(buf[0x1C:0x20])
	h.KeyGeneration2 = buf[0x20]
	copy(h.RightsID[:], buf[0x30:0x40])

	for i := 0; i < FsHeaderCount; i++ {
		off := 0x40 + i*16
		h.FsInfos[i] = FsInfo{
			StartSector: binary.LittleEndian.Uint32(buf[off : off+4]),
			EndSector:   binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			HashSectors: binary.LittleEndian.Uint32(buf[off+8 : off+12]),
			Reserved:    binary.LittleEndian.Uint32(buf[off+12 : off+16]),
		}
	}
	for i := 0; i < FsHeaderCount; i++ {
		off := 0x80 + i*32
		copy(h.FsHeaderHashes[i][:], buf[off:off+32])
	}
	for i := 0; i < KeyAreaKeyCount; i++ {
		off := 0x300 + i*16
		copy(h.EncryptedKeyArea[i][:], buf[off:off+16])
	}

	if h.KeyIndex >= 3 && h.KeyIndex != ZeroKeyIndex {
		return nil, ncaerr.ErrInvalidNcaKeyIndex
	}
	if h.SdkAddonVersion < MinSdkAddonVer {
		return nil, ncaerr.ErrUnsupportedSdkVersion
	}

	return &h, nil
}

// BucketTreeHeaderInfo is the {offset, size} pair every bucket-tree-backed
// meta region in an FS header carries (indirect table, AES-CTR-Ex table,
// sparse table).
type BucketTreeHeaderInfo struct {
	Offset int64
	Size   int64
}

// PatchInfo describes the optional indirect-storage and AES-CTR-Ex tables
// an FS header's patch_info carries, at fixed header offset 0x100.
type PatchInfo struct {
	IndirectTable BucketTreeHeaderInfo
	AesCtrExTable BucketTreeHeaderInfo
}

func (p PatchInfo) HasIndirectTable() bool { return p.IndirectTable.Size != 0 }
func (p PatchInfo) HasAesCtrExTable() bool { return p.AesCtrExTable.Size != 0 }

// SparseInfo is the FS header's sparse-layer descriptor.
type SparseInfo struct {
	Table      BucketTreeHeaderInfo
	Generation uint32
}

func (s SparseInfo) Exists() bool { return s.Generation != 0 }

// CompressionInfo is the FS header's compressed-layer descriptor.
type CompressionInfo struct {
	Table BucketTreeHeaderInfo
}

func (c CompressionInfo) Exists() bool { return c.Table.Offset != 0 || c.Table.Size != 0 }

// MetaDataHashDataInfo is the combined patch/sparse meta-hash region
// descriptor.
type MetaDataHashDataInfo struct {
	Offset int64
	Size   int64
	Type   MetaDataHashType
}

// HashLayerRegion is one region of a HierarchicalSha256Data's three
// substorage carve-outs.
type HashLayerRegion struct {
	Offset int64
	Size   int64
}

// HierarchicalSha256Data is the HashData union's SHA-256 variant.
type HierarchicalSha256Data struct {
	MasterHash         [32]byte
	HashBlockSize       uint32
	HashLayerCount      uint32
	Layers              [2]HashLayerRegion // [0]=hash layer region, [1]=data layer region; MasterHash is the third input.
}

// IntegrityMetaInfo is the HashData union's hierarchical-integrity variant.
type IntegrityMetaInfo struct {
	MasterHash [32]byte
	MaxLayers  uint32
	Levels     [6]struct {
		Offset     int64
		Size       int64
		BlockOrder uint32
	}
	Seed [16]byte
}

// FsHeader is the decoded 512-byte per-section FS header.
type FsHeader struct {
	Version          uint16
	Type             FsType
	Hash             HashType
	Encryption       EncryptionType
	MetaHashType     MetaDataHashType

	Sha256Data    HierarchicalSha256Data
	IntegrityMeta IntegrityMetaInfo

	Patch       PatchInfo
	UpperIv     struct {
		Generation  uint32
		SecureValue uint32
	}
	Sparse      SparseInfo
	Compression CompressionInfo
	MetaHash    MetaDataHashDataInfo
}

func (f *FsHeader) ExistsSparseLayer() bool { return f.Sparse.Generation != 0 }
func (f *FsHeader) ExistsCompressionLayer() bool {
	return f.Compression.Table.Offset != 0 || f.Compression.Table.Size != 0
}
func (f *FsHeader) ExistsPatchMetaHashLayer() bool {
	return f.MetaHash.Size != 0 && f.Patch.HasIndirectTable()
}
func (f *FsHeader) ExistsSparseMetaHashLayer() bool {
	return f.MetaHash.Size != 0 && f.ExistsSparseLayer()
}

// ParseFsHeader decodes one 512-byte FS header, per spec §3.
func ParseFsHeader(buf []byte) (*FsHeader, error) {
	if len(buf) < FsHeaderSize {
		return nil, ncaerr.ErrInvalidNcaFsHeader
	}

	var h FsHeader
	h.Version = binary.LittleEndian.Uint16(buf[0x00:0x02])
	h.Type = FsType(buf[0x02])
	h.Hash = HashType(buf[0x03])
	h.Encryption = EncryptionType(buf[0x04])
	h.MetaHashType = MetaDataHashType(buf[0x05])

	switch h.Hash {
	case HashTypeHierarchicalSha256:
		copy(h.Sha256Data.MasterHash[:], buf[0x08:0x28])
		h.Sha256Data.HashBlockSize = binary.LittleEndian.Uint32(buf[0x28:0x2C])
		h.Sha256Data.HashLayerCount = binary.LittleEndian.Uint32(buf[0x2C:0x30])
		for i := 0; i < 2; i++ {
			off := 0x30 + i*16
			h.Sha256Data.Layers[i] = HashLayerRegion{
				Offset: int64(binary.LittleEndian.Uint64(buf[off : off+8])),
				Size:   int64(binary.LittleEndian.Uint64(buf[off+8 : off+16])),
			}
		}
	case HashTypeHierarchicalIntegrity:
		copy(h.IntegrityMeta.MasterHash[:], buf[0x08:0x28])
		h.IntegrityMeta.MaxLayers = binary.LittleEndian.Uint32(buf[0x28:0x2C])
		for i := 0; i < 6; i++ {
			off := 0x30 + i*24
			if off+24 > 0xF0 {
				break
			}
			h.IntegrityMeta.Levels[i].Offset = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
			h.IntegrityMeta.Levels[i].Size = int64(binary.LittleEndian.Uint64(buf[off+8 : off+16]))
			h.IntegrityMeta.Levels[i].BlockOrder = binary.LittleEndian.Uint32(buf[off+16 : off+20])
		}
		copy(h.IntegrityMeta.Seed[:], buf[0xE0:0xF0])
	}

	h.Patch.IndirectTable = BucketTreeHeaderInfo{
		Offset: int64(binary.LittleEndian.Uint64(buf[0x100:0x108])),
		Size:   int64(binary.LittleEndian.Uint64(buf[0x108:0x110])),
	}
	h.Patch.AesCtrExTable = BucketTreeHeaderInfo{
		Offset: int64(binary.LittleEndian.Uint64(buf[0x110:0x118])),
		Size:   int64(binary.LittleEndian.Uint64(buf[0x118:0x120])),
	}

	h.UpperIv.Generation = binary.LittleEndian.Uint32(buf[0x140:0x144])
	h.UpperIv.SecureValue = binary.LittleEndian.Uint32(buf[0x144:0x148])

	h.Sparse.Table = BucketTreeHeaderInfo{
		Offset: int64(binary.LittleEndian.Uint64(buf[0x150:0x158])),
		Size:   int64(binary.LittleEndian.Uint64(buf[0x158:0x160])),
	}
	h.Sparse.Generation = binary.LittleEndian.Uint32(buf[0x160:0x164])

	h.Compression.Table = BucketTreeHeaderInfo{
		Offset: int64(binary.LittleEndian.Uint64(buf[0x180:0x188])),
		Size:   int64(binary.LittleEndian.Uint64(buf[0x188:0x190])),
	}

	h.MetaHash.Offset = int64(binary.LittleEndian.Uint64(buf[0x1A0:0x1A8]))
	h.MetaHash.Size = int64(binary.LittleEndian.Uint64(buf[0x1A8:0x1B0]))
	h.MetaHash.Type = h.MetaHashType

	switch h.Encryption {
	case EncryptionTypeNone, EncryptionTypeAesXts, EncryptionTypeAesCtr,
		EncryptionTypeAesCtrEx, EncryptionTypeAesCtrSkipLayerHash, EncryptionTypeAesCtrExSkipLayerHash:
	default:
		return nil, ncaerr.ErrInvalidNcaFsHeaderEncryptionType
	}

	return &h, nil
}
