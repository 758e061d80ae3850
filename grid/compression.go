package grid

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// Compression levels 1-4 map to zstd encoder speeds. Each level is its own gRPC compressor, so a
// member always decodes what a peer sent whatever level it runs with itself.
var zstdLevels = [...]struct {
	name  string
	speed zstd.EncoderLevel
}{
	1: {"zstd-fastest", zstd.SpeedFastest},
	2: {"zstd-default", zstd.SpeedDefault},
	3: {"zstd-better", zstd.SpeedBetterCompression},
	4: {"zstd-best", zstd.SpeedBestCompression},
}

func init() {
	for level := 1; level < len(zstdLevels); level++ {
		encoding.RegisterCompressor(newZstdCodec(zstdLevels[level].name, zstdLevels[level].speed))
	}
}

// CompressorName returns the gRPC compressor for a compression level, empty for 0 or an unknown level
func CompressorName(level int) string {
	if level < 1 || level >= len(zstdLevels) {
		return ""
	}
	return zstdLevels[level].name
}

// zstdCodec compresses whole messages. The encoder and decoder are shared; EncodeAll and DecodeAll
// are safe for concurrent use.
type zstdCodec struct {
	name string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func newZstdCodec(name string, speed zstd.EncoderLevel) *zstdCodec {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(speed))
	if err != nil {
		panic(fmt.Sprintf("grid: zstd encoder %s: %v", name, err))
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic(fmt.Sprintf("grid: zstd decoder %s: %v", name, err))
	}
	return &zstdCodec{name: name, enc: enc, dec: dec}
}

func (c *zstdCodec) Name() string { return c.name }

func (c *zstdCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return &frameWriter{codec: c, w: w}, nil
}

func (c *zstdCodec) Decompress(r io.Reader) (io.Reader, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	out, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	return bytes.NewReader(out), nil
}

// frameWriter collects one message and writes it as a single zstd frame on Close
type frameWriter struct {
	codec *zstdCodec
	w     io.Writer
	buf   []byte
}

func (f *frameWriter) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

func (f *frameWriter) Close() error {
	_, err := f.w.Write(f.codec.enc.EncodeAll(f.buf, nil))
	f.buf = nil
	return err
}
