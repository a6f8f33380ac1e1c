// pkg/compress/compress.go

package compress

import (
	"fmt"
	"strings"

	"github.com/DataDog/zstd"
	lz4 "github.com/hungys/go-lz4"
)

// Compressor compresses and decompresses block payloads.
type Compressor interface {
	Name() string
	CompressBound(int) int
	Compress(dst, src []byte) (int, error)
	Decompress(dst, src []byte) (int, error)
}

// NewCompressor returns a compressor for the given algorithm name.
func NewCompressor(algr string) (Compressor, error) {
	switch strings.ToLower(algr) {
	case "lz4":
		return LZ4{}, nil
	case "zstd":
		return ZStandard{}, nil
	case "none", "":
		return noOp{}, nil
	}
	return nil, fmt.Errorf("unknown compress algorithm: %s", algr)
}

type noOp struct{}

func (n noOp) Name() string            { return "none" }
func (n noOp) CompressBound(l int) int { return l }
func (n noOp) Compress(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, fmt.Errorf("dst is not big enough: %d < %d", len(dst), len(src))
	}
	return copy(dst, src), nil
}
func (n noOp) Decompress(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, fmt.Errorf("dst is not big enough: %d < %d", len(dst), len(src))
	}
	return copy(dst, src), nil
}

type LZ4 struct{}

func (l LZ4) Name() string            { return "lz4" }
func (l LZ4) CompressBound(s int) int { return lz4.CompressBound(s) }
func (l LZ4) Compress(dst, src []byte) (int, error) {
	return lz4.CompressDefault(src, dst)
}
func (l LZ4) Decompress(dst, src []byte) (int, error) {
	return lz4.DecompressSafe(src, dst)
}

type ZStandard struct{}

func (z ZStandard) Name() string            { return "zstd" }
func (z ZStandard) CompressBound(s int) int { return zstd.CompressBound(s) }
func (z ZStandard) Compress(dst, src []byte) (int, error) {
	d, err := zstd.CompressLevel(dst[:0], src, zstd.DefaultCompression)
	if err != nil {
		return 0, err
	}
	if len(d) > cap(dst) {
		return 0, fmt.Errorf("dst is smaller than compressed data: %d < %d", cap(dst), len(d))
	}
	return len(d), err
}
func (z ZStandard) Decompress(dst, src []byte) (int, error) {
	d, err := zstd.Decompress(dst[:0], src)
	if err != nil {
		return 0, err
	}
	if len(d) > cap(dst) {
		return 0, fmt.Errorf("dst is smaller than decompressed data: %d < %d", cap(dst), len(d))
	}
	return len(d), err
}
