package compress

// xerial snappy adds a framing format on top of snappy that
// github.com/golang/snappy doesn't handle; go-xerial-snappy reads both.
import snappy "github.com/eapache/go-xerial-snappy"

// SnappyCompressor implements Compressor interface
type SnappyCompressor struct{}

// Compress takes in data and applies snappy to it
func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(data), nil
}

// Decompress decompresses snappy-compressed data
func (c *SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(data)
}
