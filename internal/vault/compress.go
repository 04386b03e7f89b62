package vault

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionLevel 对应配置项 CompressionLevel，决定写入 vault 前的压缩算法。
type CompressionLevel string

const (
	CompressionNone    CompressionLevel = "none"
	CompressionFast    CompressionLevel = "fast"
	CompressionDefault CompressionLevel = "default"
	CompressionBest    CompressionLevel = "best"
)

// ParseCompressionLevel 规范化配置值，空字符串视为 default。
func ParseCompressionLevel(raw string) (CompressionLevel, error) {
	switch level := CompressionLevel(strings.ToLower(strings.TrimSpace(raw))); level {
	case "":
		return CompressionDefault, nil
	case CompressionNone, CompressionFast, CompressionDefault, CompressionBest:
		return level, nil
	default:
		return "", fmt.Errorf("unknown compression level: %q", raw)
	}
}

// frame tags are persisted with every object; never renumber them.
const (
	frameRaw  byte = 0
	frameLZ4  byte = 1
	frameZstd byte = 2
)

// maxFrameSize 是单个对象解压后的上限，帧头声明的长度超出时视为损坏。
const (
	maxFrameSize = 1 << 30
	lz4MaxRatio  = 255
	zstdPrealloc = 1 << 20
)

var errIncompressible = errors.New("data is incompressible")

// ErrCorruptFrame 表示存储的对象帧无法解码。
var ErrCorruptFrame = errors.New("corrupt frame")

var (
	zstdDefault *zstd.Encoder
	zstdBest    *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdDefault, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("vault: zstd encoder initialization failed: " + err.Error())
	}
	zstdBest, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		panic("vault: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameSize))
	if err != nil {
		panic("vault: zstd decoder initialization failed: " + err.Error())
	}
}

// Compressor 是压缩装饰器：写入时按 level 压缩并加上帧头，读取时依据帧头解压，
// 因此更换配置不会影响已有对象的读取。
type Compressor struct {
	inner Vault
	level CompressionLevel
}

// Compressed 用 level 包装 inner。
func Compressed(inner Vault, level CompressionLevel) *Compressor {
	if level == "" {
		level = CompressionDefault
	}
	return &Compressor{inner: inner, level: level}
}

func (c *Compressor) Read(ctx context.Context, path string) ([]byte, error) {
	raw, err := c.inner.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	data, err := decodeFrame(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", path, ErrCorruptFrame, err)
	}
	return data, nil
}

func (c *Compressor) Write(ctx context.Context, path string, data []byte) error {
	_, err := c.WriteSized(ctx, path, data)
	return err
}

// WriteSized 写入压缩帧并返回帧长度。
func (c *Compressor) WriteSized(ctx context.Context, path string, data []byte) (int, error) {
	framed, err := c.encodeFrame(data)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}
	if err := c.inner.Write(ctx, path, framed); err != nil {
		return 0, err
	}
	return len(framed), nil
}

func (c *Compressor) Delete(ctx context.Context, path string) error {
	return c.inner.Delete(ctx, path)
}

// Close 关闭内部实现。
func (c *Compressor) Close() error {
	return Close(c.inner)
}

func (c *Compressor) encodeFrame(data []byte) ([]byte, error) {
	var (
		tag     = frameRaw
		payload = data
		err     error
	)
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("object of %d bytes exceeds limit %d", len(data), maxFrameSize)
	}
	level := c.level
	if len(data) == 0 {
		level = CompressionNone
	}
	switch level {
	case CompressionNone:
	case CompressionFast:
		payload, err = compressLZ4(data)
		tag = frameLZ4
	case CompressionDefault:
		payload, err = compressZstd(zstdDefault, data)
		tag = frameZstd
	case CompressionBest:
		payload, err = compressZstd(zstdBest, data)
		tag = frameZstd
	default:
		return nil, fmt.Errorf("unsupported compression level: %q", c.level)
	}
	if errors.Is(err, errIncompressible) {
		tag, payload, err = frameRaw, data, nil
	}
	if err != nil {
		return nil, err
	}

	header := make([]byte, 1+binary.MaxVarintLen64)
	header[0] = tag
	n := binary.PutUvarint(header[1:], uint64(len(data)))
	framed := make([]byte, 0, 1+n+len(payload))
	framed = append(framed, header[:1+n]...)
	return append(framed, payload...), nil
}

func decodeFrame(raw []byte) ([]byte, error) {
	if len(raw) < 2 {
		return nil, errors.New("frame too short")
	}
	size, n := binary.Uvarint(raw[1:])
	if n <= 0 {
		return nil, errors.New("invalid frame size")
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds limit %d", size, maxFrameSize)
	}
	payload := raw[1+n:]

	switch raw[0] {
	case frameRaw:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("raw frame: size %d does not match expected %d", len(payload), size)
		}
		return payload, nil
	case frameLZ4:
		return decompressLZ4(payload, int(size))
	case frameZstd:
		return decompressZstd(payload, int(size))
	default:
		return nil, fmt.Errorf("unknown frame tag: %d", raw[0])
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	if size > len(compressed)*lz4MaxRatio {
		return nil, fmt.Errorf("lz4 decompress: size %d impossible for %d compressed bytes", size, len(compressed))
	}
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(encoder *zstd.Encoder, data []byte) ([]byte, error) {
	compressed := encoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, min(size, zstdPrealloc)))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
