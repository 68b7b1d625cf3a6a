package storage

import "github.com/pierrec/lz4/v4"

// NewDefaultDecompressors returns the decompressor set every real NCA
// section needs: CompressionLz4 decoded with pierrec/lz4's raw block
// codec (the NCA format stores bare LZ4 blocks, not framed streams, so
// the frame-oriented klauspost/compress/lz4 package doesn't apply here).
func NewDefaultDecompressors() map[CompressionType]Decompressor {
	return map[CompressionType]Decompressor{
		CompressionLz4: func(dst, src []byte) (int, error) {
			return lz4.UncompressBlock(src, dst)
		},
	}
}
