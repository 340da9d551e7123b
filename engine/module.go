package engine

import (
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/wippyai/wasm-media/errors"
)

// Compression identifies how an engine binary is packed.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionGzip Compression = "gzip"
	CompressionLZ4  Compression = "lz4"
)

var (
	wasmMagic = []byte{0x00, 'a', 's', 'm'}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	gzipMagic = []byte{0x1F, 0x8B}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

// maxModuleSize bounds decompressed engines.
const maxModuleSize = 512 << 20

// DetectCompression inspects the leading magic bytes.
func DetectCompression(b []byte) (Compression, bool) {
	switch {
	case bytes.HasPrefix(b, wasmMagic):
		return CompressionNone, true
	case bytes.HasPrefix(b, zstdMagic):
		return CompressionZstd, true
	case bytes.HasPrefix(b, gzipMagic):
		return CompressionGzip, true
	case bytes.HasPrefix(b, lz4Magic):
		return CompressionLZ4, true
	}
	return "", false
}

// ReadModule reads an engine binary from disk, decompressing it if needed.
func ReadModule(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}
	wasm, err := DecodeModule(raw)
	if err != nil {
		var me *errors.Error
		if errors.As(err, &me) {
			me.Path = append([]string{path}, me.Path...)
		}
		return nil, err
	}
	return wasm, nil
}

// DecodeModule returns the raw wasm binary inside b. Plain binaries are
// returned as is.
func DecodeModule(b []byte) ([]byte, error) {
	c, ok := DetectCompression(b)
	if !ok {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Detail("not a wasm binary or a zstd, gzip or lz4 stream").
			Build()
	}

	var (
		out []byte
		err error
	)
	switch c {
	case CompressionNone:
		return b, nil
	case CompressionZstd:
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(maxModuleSize))
		if err == nil {
			out, err = dec.DecodeAll(b, nil)
			dec.Close()
		}
	case CompressionGzip:
		var zr *gzip.Reader
		zr, err = gzip.NewReader(bytes.NewReader(b))
		if err == nil {
			out, err = readLimited(zr)
			_ = zr.Close()
		}
	case CompressionLZ4:
		out, err = readLimited(lz4.NewReader(bytes.NewReader(b)))
	}
	if err != nil {
		return nil, errors.Load(string(c)+" decompression failed", err)
	}
	if !bytes.HasPrefix(out, wasmMagic) {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Detail("%s stream does not contain a wasm binary", c).
			Build()
	}
	return out, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxModuleSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxModuleSize {
		return nil, errors.Overflow(errors.PhaseLoad, uint32(len(out)), maxModuleSize)
	}
	return out, nil
}
