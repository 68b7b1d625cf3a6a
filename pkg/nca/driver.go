package nca

import (
	"github.com/falk/nca-go/pkg/aescrypto"
	"github.com/falk/nca-go/pkg/bktr"
	"github.com/falk/nca-go/pkg/ncaerr"
	"github.com/falk/nca-go/pkg/storage"
	"github.com/falk/nca-go/pkg/vfs"
)

// OpenOptions tunes OpenStorage's composition, per §4.13 step 7 ("raw
// storage" exit) and step 6 ("caller-supplied external original storage").
type OpenOptions struct {
	// Raw, when true, skips integrity/compression wrapping and returns the
	// storage as of step 7.
	Raw bool
	// ExternalOriginal, when non-nil, is used as the indirect storage's
	// storage-0 ("original") side instead of recursing into BaseReader.
	ExternalOriginal vfs.File
	// Verify turns on hash-layer verification for hierarchical SHA-256 and
	// hierarchical integrity storages.
	Verify bool
}

// OpenStorage composes the FS section's full virtual file, per §4.13's
// "FS driver composer". This is the "assembly language" step: every layer
// constructor lives in pkg/storage, pkg/aescrypto, pkg/bktr; this function
// only decides which ones to stack and in what order, driven by the
// section's FsHeader.
func (r *Reader) OpenStorage(fsIndex int, opts OpenOptions) (vfs.File, *FsHeader, error) {
	if !r.HasFsInfo(fsIndex) {
		return nil, nil, ncaerr.ErrInvalidNcaFsHeader
	}
	if !r.section.valid {
		return nil, nil, ncaerr.ErrMissingTitlekey
	}

	fh := r.fs[fsIndex]
	fsInfo := r.header.FsInfos[fsIndex]
	fsOffset := fsInfo.StartOffset()
	fsEnd := fsInfo.EndOffset()

	var current vfs.File
	fsDataOffset := int64(0)

	// Step 2: innermost = sparse-or-body.
	if fh.ExistsSparseLayer() {
		sparseBody := vfs.NewOffsetFile(r.base, fsOffset, fsEnd-fsOffset)
		table := vfs.NewOffsetFile(sparseBody, fh.Sparse.Table.Offset, fh.Sparse.Table.Size)
		nodeFile, entryFile, entryCount, err := bktr.SplitTableStorage(table, storage.IndirectNodeSize, storage.IndirectEntrySize)
		if err != nil {
			return nil, nil, err
		}
		sparse, err := storage.NewSparseStorage(nodeFile, entryFile, entryCount, sparseBody)
		if err != nil {
			return nil, nil, err
		}
		current = sparse
	} else {
		current = vfs.NewOffsetFile(r.base, fsOffset, fsEnd-fsOffset)
		fsDataOffset = fsOffset
	}

	var ctrExMeta, indirectMeta vfs.File

	// Step 3: patch meta. The combined region, when a patch meta-hash layer
	// is declared, carries both the AES-CTR-Ex and indirect bucket trees
	// back to back; hash verification of that combined blob is left to the
	// hierarchical-integrity layer a caller wraps around the opened meta
	// storage directly, matching §9's "layout/contract level" latitude for
	// integrity subsystems.
	if fh.ExistsPatchMetaHashLayer() {
		if fh.MetaHashType != MetaDataHashTypeHierarchicalIntegrity {
			return nil, nil, ncaerr.ErrInvalidPatchMetaDataHashType
		}
		metaBody := vfs.NewOffsetFile(current, fh.MetaHash.Offset, fh.MetaHash.Size)
		ctrExMeta = vfs.NewOffsetFile(metaBody, fh.Patch.AesCtrExTable.Offset-fh.MetaHash.Offset, fh.Patch.AesCtrExTable.Size)
		indirectMeta = vfs.NewOffsetFile(metaBody, fh.Patch.IndirectTable.Offset-fh.MetaHash.Offset, fh.Patch.IndirectTable.Size)
	}

	// Step 4: AES-CTR-Ex branch (replaces the encryption switch entirely).
	if fh.Patch.HasAesCtrExTable() {
		table := ctrExMeta
		if table == nil {
			table = vfs.NewOffsetFile(current, fh.Patch.AesCtrExTable.Offset, fh.Patch.AesCtrExTable.Size)
		}
		nodeFile, entryFile, entryCount, err := bktr.SplitTableStorage(table, storage.CtrExNodeSize, storage.CtrExEntrySize)
		if err != nil {
			return nil, nil, err
		}

		upper := aescrypto.UpperIv{Generation: fh.UpperIv.Generation, SecureValue: fh.UpperIv.SecureValue}
		ctrEx, err := storage.NewAesCtrExStorage(current, nodeFile, entryFile, entryCount, r.section.ctrEx, upper, fsDataOffset)
		if err != nil {
			return nil, nil, err
		}
		current = storage.NewAlignmentMatchingStorage(ctrEx, aescrypto.BlockSize, 1)
	} else {
		switch fh.Encryption {
		case EncryptionTypeNone:
			// leave as-is.
		case EncryptionTypeAesXts:
			xts := storage.NewAesXtsStorage(current, r.section.xts, aescrypto.XtsBlockSize, fsDataOffset)
			current = storage.NewAlignmentMatchingStorage(xts, aescrypto.XtsBlockSize, 1)
		case EncryptionTypeAesCtr:
			upper := aescrypto.UpperIv{Generation: fh.UpperIv.Generation, SecureValue: fh.UpperIv.SecureValue}.Bytes()
			ctr := storage.NewAesCtrStorage(current, r.section.ctr, upper, fsDataOffset)
			current = storage.NewAlignmentMatchingStorage(ctr, aescrypto.BlockSize, 1)
		case EncryptionTypeAesCtrSkipLayerHash:
			upper := aescrypto.UpperIv{Generation: fh.UpperIv.Generation, SecureValue: fh.UpperIv.SecureValue}.Bytes()
			ctr := storage.NewAesCtrStorage(current, r.section.ctr, upper, fsDataOffset)
			aligned := storage.NewAlignmentMatchingStorage(ctr, aescrypto.BlockSize, 1)
			hashTarget := r.hashTargetOffset(fh)
			current = storage.NewRegionSwitchStorage(aligned, current, storage.Region{Offset: 0, Size: hashTarget})
		default:
			return nil, nil, ncaerr.ErrInvalidNcaFsHeaderEncryptionType
		}
	}

	// Step 6: indirect.
	if fh.Patch.HasIndirectTable() {
		table := indirectMeta
		if table == nil {
			table = vfs.NewOffsetFile(current, fh.Patch.IndirectTable.Offset, fh.Patch.IndirectTable.Size)
		}
		nodeFile, entryFile, entryCount, err := bktr.SplitTableStorage(table, storage.IndirectNodeSize, storage.IndirectEntrySize)
		if err != nil {
			return nil, nil, err
		}

		var original vfs.File
		switch {
		case opts.ExternalOriginal != nil:
			original = opts.ExternalOriginal
		case r.baseReader != nil:
			orig, _, err := r.baseReader.OpenStorage(fsIndex, OpenOptions{Raw: true})
			if err != nil {
				return nil, nil, err
			}
			original = orig
		default:
			original = &vfs.ZeroFile{}
		}

		ind, err := storage.NewIndirectStorage(nodeFile, entryFile, entryCount, original, current)
		if err != nil {
			return nil, nil, err
		}
		current = ind
	}

	// Step 7: raw-storage exit.
	if fh.ExistsSparseLayer() || opts.Raw {
		return current, fh, nil
	}

	// Step 8: hash layer.
	switch fh.Hash {
	case HashTypeHierarchicalSha256:
		blockSize := int64(fh.Sha256Data.HashBlockSize)
		masterHash := vfs.NewArrayFile(fh.Sha256Data.MasterHash[:])
		hashLayer := vfs.NewOffsetFile(current, fh.Sha256Data.Layers[0].Offset, fh.Sha256Data.Layers[0].Size)
		dataLayer := vfs.NewOffsetFile(current, fh.Sha256Data.Layers[1].Offset, fh.Sha256Data.Layers[1].Size)
		sha, err := storage.NewHierarchicalSha256Storage(masterHash, hashLayer, dataLayer, blockSize, opts.Verify)
		if err != nil {
			return nil, nil, err
		}
		current = sha

	case HashTypeHierarchicalIntegrity, HashTypeHierarchicalIntegritySha3:
		meta := fh.IntegrityMeta
		layerCount := int(meta.MaxLayers)
		if layerCount < storage.MinLayerCount || layerCount > storage.MaxLayerCount {
			return nil, nil, ncaerr.ErrInvalidHierarchicalIntegrityVerificationLayerCount
		}
		levels := make([]storage.LevelInfo, layerCount-1)
		storages := make([]vfs.File, layerCount-1)
		for i := 0; i < layerCount-1; i++ {
			lv := meta.Levels[i]
			levels[i] = storage.LevelInfo{Offset: lv.Offset, Size: lv.Size, BlockOrder: int(lv.BlockOrder)}
			storages[i] = vfs.NewOffsetFile(current, lv.Offset, lv.Size)
		}
		finalLevel := meta.Levels[layerCount-1]
		finalData := vfs.NewOffsetFile(current, finalLevel.Offset, finalLevel.Size)

		info := storage.HierarchicalIntegrityVerificationInformation{Levels: levels, Seed: meta.Seed, MaxLayers: layerCount}
		integ, err := storage.NewHierarchicalIntegrityStorage(info, storages, finalData, opts.Verify)
		if err != nil {
			return nil, nil, err
		}
		current = integ

	default:
		return nil, nil, ncaerr.ErrInvalidNcaFsHeaderHashType
	}

	// Step 9: compression.
	if fh.ExistsCompressionLayer() {
		table := vfs.NewOffsetFile(current, fh.Compression.Table.Offset, fh.Compression.Table.Size)
		nodeFile, entryFile, entryCount, err := bktr.SplitTableStorage(table, storage.CompressedNodeSize, storage.CompressedEntrySize)
		if err != nil {
			return nil, nil, err
		}
		comp, err := storage.NewCompressedStorage(nodeFile, entryFile, entryCount, current, r.decompressors)
		if err != nil {
			return nil, nil, err
		}
		current = comp
	}

	return current, fh, nil
}

// hashTargetOffset returns GetHashTargetOffset per §4.13: the offset of the
// last hash-layer region (SHA-256 variants) or the last integrity layer's
// info offset (integrity variants).
func (r *Reader) hashTargetOffset(fh *FsHeader) int64 {
	switch fh.Hash {
	case HashTypeHierarchicalSha256:
		return fh.Sha256Data.Layers[1].Offset
	case HashTypeHierarchicalIntegrity, HashTypeHierarchicalIntegritySha3:
		maxLayers := int(fh.IntegrityMeta.MaxLayers)
		if maxLayers < 1 {
			return 0
		}
		return fh.IntegrityMeta.Levels[maxLayers-1].Offset
	default:
		return 0
	}
}
