package grid

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCompressorName(t *testing.T) {
	assert.Equal(t, "", CompressorName(0))
	assert.Equal(t, "", CompressorName(5))
	assert.Equal(t, "", CompressorName(-1))
	assert.Equal(t, "zstd-fastest", CompressorName(1))
	assert.Equal(t, "zstd-best", CompressorName(4))

	assert.Equal(t, "", NewClient().compressor)
	assert.Equal(t, "zstd-better", NewClient(WithCompression(3)).compressor)
}

func TestZstdCompressors_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("grid partition payload "), 512)

	for level := 1; level <= 4; level++ {
		c := encoding.GetCompressor(CompressorName(level))
		require.NotNil(t, c, "level %d not registered", level)

		var buf bytes.Buffer
		w, err := c.Compress(&buf)
		require.NoError(t, err)
		_, err = w.Write(payload[:100])
		require.NoError(t, err)
		_, err = w.Write(payload[100:])
		require.NoError(t, err)
		require.NoError(t, w.Close())
		assert.Less(t, buf.Len(), len(payload))

		r, err := c.Decompress(&buf)
		require.NoError(t, err)
		out, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, payload, out)
	}
}

func TestZstdCompressors_RejectGarbage(t *testing.T) {
	c := encoding.GetCompressor(CompressorName(2))
	_, err := c.Decompress(bytes.NewReader([]byte("not a zstd frame")))
	assert.Error(t, err)
}

func TestRouter_MixedCompressionLevels(t *testing.T) {
	withCounterProcessor(t)
	ctx := context.Background()

	a := startMember(t, 1, WithCompression(1))
	b := startMember(t, 2, WithCompression(4))
	connect(t, a, b)
	require.NoError(t, a.router.EnsureMap(ctx, "counters"))

	key := []byte("k")
	toB := ownedBy(t, a.router, 2)
	toA := ownedBy(t, b.router, 1)
	_, err := a.router.Invoke(ctx, "counters", toB, key, &counterProcessor{By: 7})
	require.NoError(t, err)
	_, err = b.router.Invoke(ctx, "counters", toA, key, &counterProcessor{By: 9})
	require.NoError(t, err)

	n, found := counterValue(t, b.service, toB, key)
	require.True(t, found)
	assert.Equal(t, int64(7), n)
	n, found = counterValue(t, a.service, toA, key)
	require.True(t, found)
	assert.Equal(t, int64(9), n)
}
