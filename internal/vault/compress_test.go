package vault

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

func TestCompressorRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("maxbooster audio frame "), 512)
	random := []byte{0x01, 0x9f, 0x33, 0x7a, 0xee}

	testCases := []struct {
		name  string
		level CompressionLevel
	}{
		{"none", CompressionNone},
		{"fast", CompressionFast},
		{"default", CompressionDefault},
		{"best", CompressionBest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inner := NewMemoryVault()
			c := Compressed(inner, tc.level)
			for _, payload := range [][]byte{compressible, random, {}} {
				if err := c.Write(context.Background(), "obj", payload); err != nil {
					t.Fatalf("write error: %v", err)
				}
				got, err := c.Read(context.Background(), "obj")
				if err != nil {
					t.Fatalf("read error: %v", err)
				}
				if !bytes.Equal(got, payload) {
					t.Fatalf("round trip mismatch for %d bytes", len(payload))
				}
			}
		})
	}
}

func TestCompressorShrinksCompressibleData(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 64*1024)
	for _, level := range []CompressionLevel{CompressionFast, CompressionDefault, CompressionBest} {
		inner := NewMemoryVault()
		size, err := WriteSized(context.Background(), Compressed(inner, level), "obj", payload)
		if err != nil {
			t.Fatalf("%s: write error: %v", level, err)
		}
		if size >= len(payload)/10 {
			t.Fatalf("%s: expected strong compression, got %d bytes", level, size)
		}
		stored, _ := inner.Read(context.Background(), "obj")
		if len(stored) != size {
			t.Fatalf("%s: reported %d bytes, stored %d", level, size, len(stored))
		}
	}
	size, _ := WriteSized(context.Background(), Compressed(NewMemoryVault(), CompressionNone), "obj", payload)
	if size <= len(payload) {
		t.Fatalf("none level should only add a frame header, got %d", size)
	}
}

func TestCompressorReadsFramesWrittenWithOtherLevels(t *testing.T) {
	inner := NewMemoryVault()
	payload := bytes.Repeat([]byte("version-history "), 200)
	if err := Compressed(inner, CompressionFast).Write(context.Background(), "obj", payload); err != nil {
		t.Fatalf("write error: %v", err)
	}
	got, err := Compressed(inner, CompressionBest).Read(context.Background(), "obj")
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("cross-level read mismatch")
	}
}

func TestCompressorRejectsCorruptFrames(t *testing.T) {
	inner := NewMemoryVault()
	_ = inner.Write(context.Background(), "short", []byte{frameRaw})
	_ = inner.Write(context.Background(), "tag", []byte{0x7f, 0x01, 0x00})
	_ = inner.Write(context.Background(), "size", []byte{frameRaw, 0x05, 'a'})

	c := Compressed(inner, CompressionDefault)
	for _, path := range []string{"short", "tag", "size"} {
		if _, err := c.Read(context.Background(), path); err == nil {
			t.Fatalf("expected decode error for %s", path)
		}
	}
	if _, err := c.Read(context.Background(), "missing"); !IsNotFound(err) {
		t.Fatalf("missing object should stay ErrNotFound, got %v", err)
	}
}

func TestCompressorRejectsOversizedFrameHeaders(t *testing.T) {
	inner := NewMemoryVault()
	frames := map[string][]byte{
		"lz4-huge":   binary.AppendUvarint([]byte{frameLZ4}, 1<<63),
		"zstd-huge":  binary.AppendUvarint([]byte{frameZstd}, 1<<63),
		"raw-huge":   binary.AppendUvarint([]byte{frameRaw}, 1<<63),
		"lz4-ratio":  append(binary.AppendUvarint([]byte{frameLZ4}, 1<<20), 0x10, 'a'),
		"zstd-large": append(binary.AppendUvarint([]byte{frameZstd}, maxFrameSize), 0x28, 0xb5, 0x2f, 0xfd),
	}
	for name, frame := range frames {
		_ = inner.Write(context.Background(), name, frame)
	}

	c := Compressed(inner, CompressionDefault)
	for name := range frames {
		_, err := c.Read(context.Background(), name)
		if !errors.Is(err, ErrCorruptFrame) {
			t.Fatalf("%s: expected ErrCorruptFrame, got %v", name, err)
		}
	}
}

func TestParseCompressionLevel(t *testing.T) {
	testCases := []struct {
		raw       string
		want      CompressionLevel
		shouldErr bool
	}{
		{"", CompressionDefault, false},
		{"NONE", CompressionNone, false},
		{" fast ", CompressionFast, false},
		{"best", CompressionBest, false},
		{"ultra", "", true},
	}
	for _, tc := range testCases {
		got, err := ParseCompressionLevel(tc.raw)
		if tc.shouldErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseCompressionLevel(%q) = %q, %v", tc.raw, got, err)
		}
	}
}
