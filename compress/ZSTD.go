package compress

import (
	"sync"

	log "github.com/CefBoud/monkafka-registry/logging"
	"github.com/klauspost/compress/zstd"
)

// ZSTDCompressor implements Compressor interface
type ZSTDCompressor struct{}

// Encoders and decoders are safe for concurrent EncodeAll/DecodeAll calls,
// pooling them keeps their internal buffers around between snapshots.
var (
	zstdWriterPool, zstdReaderPool sync.Pool
)

// Compress takes in data and applies ZSTD to it
func (c *ZSTDCompressor) Compress(data []byte) ([]byte, error) {
	encoder, found := zstdWriterPool.Get().(*zstd.Encoder)
	if !found {
		var err error
		// WithZeroFrames will encode 0 length input as full frames
		encoder, err = zstd.NewWriter(nil, zstd.WithZeroFrames(true))
		if err != nil {
			log.Error("Failed to create ZSTD encoder: %v", err)
			return nil, err
		}
	}
	defer zstdWriterPool.Put(encoder)
	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses ZSTD-compressed data
func (c *ZSTDCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, found := zstdReaderPool.Get().(*zstd.Decoder)
	if !found {
		var err error
		decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
	}
	defer zstdReaderPool.Put(decoder)

	decompressedData, err := decoder.DecodeAll(data, nil)
	if err != nil {
		log.Error("Failed to decompress ZSTD data: %v", err)
		return nil, err
	}
	return decompressedData, nil
}
