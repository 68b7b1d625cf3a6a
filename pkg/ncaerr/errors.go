// Package ncaerr collects the flat error taxonomy used across the NCA read
// pipeline, per spec §7. These are sentinel errors rather than re-used
// numeric result codes: the source language's Result-macro propagation
// (R_TRY/R_UNLESS/R_THROW) is replaced with native Go error wrapping, and
// callers match categories with errors.Is.
package ncaerr

import "errors"

// Input structure.
var (
	ErrInvalidNcaSignature             = errors.New("nca: invalid signature")
	ErrInvalidNcaHeader                = errors.New("nca: invalid header")
	ErrInvalidNcaFsHeader              = errors.New("nca: invalid fs header")
	ErrInvalidNcaFsHeaderEncryptionType = errors.New("nca: invalid fs header encryption type")
	ErrInvalidNcaFsHeaderHashType       = errors.New("nca: invalid fs header hash type")
	ErrUnsupportedSdkVersion            = errors.New("nca: unsupported sdk version")
	ErrInvalidNcaKeyIndex               = errors.New("nca: invalid key index")
)

// Key material.
var (
	ErrMissingKeyAreaKey = errors.New("nca: missing key area key")
	ErrMissingTitlekey   = errors.New("nca: missing titlekey")
	ErrMissingTitlekek   = errors.New("nca: missing titlekek")
	ErrMissingHeaderKey  = errors.New("nca: missing header key")
)

// Bucket tree.
var (
	ErrInvalidBucketTreeSignature              = errors.New("bktr: invalid signature")
	ErrInvalidBucketTreeVersion                = errors.New("bktr: invalid version")
	ErrInvalidBucketTreeNodeEntryCount          = errors.New("bktr: invalid node entry count")
	ErrInvalidBucketTreeEntryOffset             = errors.New("bktr: invalid entry offset")
	ErrInvalidIndirectEntryOffset               = errors.New("indirect: invalid entry offset")
	ErrInvalidIndirectEntryStorageIndex         = errors.New("indirect: invalid entry storage index")
	ErrInvalidIndirectStorageSize               = errors.New("indirect: invalid storage size")
	ErrIndirectStorageCorrupted                 = errors.New("indirect: storage corrupted")
	ErrInvalidAesCtrCounterExtendedEntryOffset  = errors.New("aesctrex: invalid entry offset")
)

// Range.
var (
	ErrOutOfRange                     = errors.New("nca: out of range")
	ErrNcaBaseStorageOutOfRange       = errors.New("nca: base storage out of range")
	ErrInvalidOffset                  = errors.New("nca: invalid offset")
	ErrInvalidSize                    = errors.New("nca: invalid size")
	ErrInvalidCompressedStorageSize   = errors.New("compressed: invalid storage size")
)

// Compression.
var (
	ErrUnexpectedInCompressedStorage  = errors.New("compressed: unexpected layout")
	ErrUnsupportedCompressionType     = errors.New("compressed: unsupported compression type")
)

// Integrity.
var (
	ErrInvalidHierarchicalSha256BlockSize               = errors.New("sha256: invalid block size")
	ErrInvalidHierarchicalSha256LayerCount               = errors.New("sha256: invalid layer count")
	ErrInvalidHierarchicalIntegrityVerificationLayerCount = errors.New("integrity: invalid layer count")
	ErrInvalidMetaDataHashDataSize                       = errors.New("nca: invalid meta data hash size")
	ErrInvalidMetaDataHashDataHash                        = errors.New("nca: invalid meta data hash")
	ErrHashVerificationFailed                             = errors.New("integrity: hash verification failed")
)

// Resource.
var (
	ErrAllocationMemoryFailed = errors.New("nca: allocation failed")
	ErrNullptrArgument        = errors.New("nca: nil argument")
)

// Patch/sparse meta-hash.
var (
	ErrInvalidPatchMetaDataHashType   = errors.New("nca: invalid patch meta data hash type")
	ErrInvalidPatchMetaDataHashSize   = errors.New("nca: invalid patch meta data hash size")
	ErrInvalidPatchMetaDataHashHash   = errors.New("nca: invalid patch meta data hash")
	ErrInvalidPatchMetaDataHashOffset = errors.New("nca: invalid patch meta data hash offset")
	ErrInvalidSparseMetaDataHashType   = errors.New("nca: invalid sparse meta data hash type")
	ErrInvalidSparseMetaDataHashSize   = errors.New("nca: invalid sparse meta data hash size")
	ErrInvalidSparseMetaDataHashHash   = errors.New("nca: invalid sparse meta data hash")
	ErrInvalidSparseMetaDataHashOffset = errors.New("nca: invalid sparse meta data hash offset")
)
