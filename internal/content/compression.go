// internal/content/compression.go
package content

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// CompressionOptions configures compression behavior
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// Level selects a zstd encoder preset: 1 fastest, 2 default,
	// 3 better compression, 4 best compression.
	Level int
	// Disabled stores every blob as-is
	Disabled bool
}

// DefaultCompressionOptions provides sensible defaults
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 1024, // 1KB
		Level:   2,    // zstd.SpeedDefault
	}
}

// compressionManager handles compression operations. EncodeAll and DecodeAll
// are safe for concurrent use, so one encoder and one decoder are shared.
type compressionManager struct {
	opts CompressionOptions
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	if opts.Level == 0 {
		opts.Level = DefaultCompressionOptions().Level
	}

	level, err := encoderLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &compressionManager{opts: opts, enc: enc, dec: dec}, nil
}

func encoderLevel(level int) (zstd.EncoderLevel, error) {
	switch level {
	case 1:
		return zstd.SpeedFastest, nil
	case 2:
		return zstd.SpeedDefault, nil
	case 3:
		return zstd.SpeedBetterCompression, nil
	case 4:
		return zstd.SpeedBestCompression, nil
	}
	return 0, fmt.Errorf("compression level %d out of range 1-4", level)
}

// shouldCompress determines if content should be compressed
func (cm *compressionManager) shouldCompress(size int) bool {
	return !cm.opts.Disabled && size >= cm.opts.MinSize
}

// compress returns the bytes to store and whether they are compressed.
// Content that does not shrink is stored raw.
func (cm *compressionManager) compress(content []byte) ([]byte, bool) {
	if !cm.shouldCompress(len(content)) {
		return content, false
	}

	out := cm.enc.EncodeAll(content, make([]byte, 0, len(content)/2))
	if len(out) >= len(content) {
		return content, false
	}
	return out, true
}

// decompress reverses compress for a blob recorded as compressed.
func (cm *compressionManager) decompress(stored []byte) ([]byte, error) {
	if len(stored) < 4 || !bytes.Equal(stored[:4], zstdMagic) {
		return nil, fmt.Errorf("blob is not zstd framed")
	}
	out, err := cm.dec.DecodeAll(stored, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}

// close cleans up resources
func (cm *compressionManager) close() {
	cm.enc.Close()
	cm.dec.Close()
}
