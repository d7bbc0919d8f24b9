package compress

import (
	"fmt"
	"strings"
)

// CompressionType identifies the codec a metadata snapshot was written with.
// The values match Kafka's record batch compression ids.
type CompressionType uint8

// Supported compression types
const (
	NONE   CompressionType = 0
	GZIP   CompressionType = 1
	SNAPPY CompressionType = 2
	LZ4    CompressionType = 3
	ZSTD   CompressionType = 4
)

var compressionNames = map[CompressionType]string{
	NONE:   "none",
	GZIP:   "gzip",
	SNAPPY: "snappy",
	LZ4:    "lz4",
	ZSTD:   "zstd",
}

var compressors = map[CompressionType]Compressor{
	NONE:   noneCompressor{},
	GZIP:   &GzipCompressor{},
	SNAPPY: &SnappyCompressor{},
	LZ4:    &LZ4Compressor{},
	ZSTD:   &ZSTDCompressor{},
}

func (c CompressionType) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ParseCompressionType returns the compression type with the given name
func ParseCompressionType(name string) (CompressionType, error) {
	if name == "" {
		return NONE, nil
	}
	for c, n := range compressionNames {
		if strings.EqualFold(n, name) {
			return c, nil
		}
	}
	return NONE, fmt.Errorf("unknown compression type %q", name)
}

// GetCompressor returns the Compressor for a compression type
func GetCompressor(c CompressionType) (Compressor, error) {
	compressor, ok := compressors[c]
	if !ok {
		return nil, fmt.Errorf("unknown compression type %d", uint8(c))
	}
	return compressor, nil
}

// Compressor represents one of the supported compressors
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
