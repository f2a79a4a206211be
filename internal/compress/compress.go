// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package compress implements the save blob codec.
//
// The codec is a pure optimization: when compression fails, or does not
// pay for itself against the configured minimum ratio, the payload is
// stored uncompressed under algorithm "none". Callers never see a
// compression error on the write path.
//
// Every Result is self-describing. It carries the algorithm, original and
// compressed sizes, the checksum of the uncompressed payload and a format
// version, so a reader needs no out-of-band knowledge of how the blob was
// produced. Large payloads are split into an ordered chunk list that
// Decompress reassembles transparently.
package compress

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Algorithm identifies a supported compression algorithm.
type Algorithm string

const (
	// AlgorithmZstd is the default algorithm.
	AlgorithmZstd Algorithm = "zstd"

	// AlgorithmGzip is kept for payloads written by older clients and
	// for configurations that prefer it.
	AlgorithmGzip Algorithm = "gzip"

	// AlgorithmNone stores the payload verbatim.
	AlgorithmNone Algorithm = "none"
)

// Format versions of the blob payload. Decoding dispatches on this
// discriminant only, never on structural sniffing.
const (
	// FormatVersionLegacy is the original single-payload gzip format.
	FormatVersionLegacy = 1

	// FormatVersionCurrent is the chunk-capable self-describing format.
	FormatVersionCurrent = 2
)

var (
	// ErrUnknownAlgorithm is returned when a blob names an algorithm this
	// build does not support.
	ErrUnknownAlgorithm = errors.New("unknown compression algorithm")

	// ErrUnknownFormat is returned when a blob carries an unrecognized
	// format version.
	ErrUnknownFormat = errors.New("unknown blob format version")

	// ErrChecksumMismatch is returned when the decompressed payload does
	// not hash to the checksum recorded at compression time.
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
)

// Metadata describes how a Result was produced.
type Metadata struct {
	Algorithm      Algorithm `json:"algorithm"`
	OriginalSize   int64     `json:"originalSize"`
	CompressedSize int64     `json:"compressedSize"`

	// Ratio is CompressedSize / OriginalSize; 1.0 for pass-through.
	Ratio float64 `json:"ratio"`

	// Checksum is the SHA-256 hex digest of the uncompressed payload.
	Checksum string `json:"checksum"`

	IsCompressed  bool `json:"isCompressed"`
	FormatVersion int  `json:"formatVersion"`
}

// Result is a compressed (or pass-through) save payload plus its
// self-describing metadata. Exactly one of Payload or Chunks is set.
type Result struct {
	Metadata Metadata `json:"compressionMetadata"`

	// Payload holds the whole encoded payload when it fits in one piece.
	Payload []byte `json:"payload,omitempty"`

	// Chunks holds the encoded payload split at the configured chunk
	// size, in order. Reassembled transparently by Decompress.
	Chunks [][]byte `json:"chunks,omitempty"`
}

// Config controls the codec.
type Config struct {
	// Algorithm selects the codec; "none" disables compression.
	Algorithm Algorithm `koanf:"algorithm"`

	// Level is the compression level. zstd: 1-4 (maps to fastest..best),
	// gzip: 1-9. Zero selects the library default.
	Level int `koanf:"level"`

	// MinRatio is the largest compressed/original ratio worth keeping.
	// Payloads that compress worse than this fall back to "none".
	MinRatio float64 `koanf:"min_ratio"`

	// ChunkSize splits encoded payloads larger than this many bytes
	// into an ordered chunk list. Zero disables chunking.
	ChunkSize int `koanf:"chunk_size"`
}

// DefaultConfig returns the production codec settings.
func DefaultConfig() Config {
	return Config{
		Algorithm: AlgorithmZstd,
		Level:     3,
		MinRatio:  0.95,
		ChunkSize: 256 * 1024,
	}
}

// Codec compresses and decompresses save payloads. It is stateless apart
// from reusable zstd coder instances and safe for concurrent use.
type Codec struct {
	cfg Config

	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// NewCodec builds a codec for the given configuration.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmZstd
	}
	if cfg.MinRatio <= 0 || cfg.MinRatio > 1 {
		cfg.MinRatio = 0.95
	}

	level := zstd.EncoderLevel(cfg.Level)
	if cfg.Level <= 0 || cfg.Level > int(zstd.SpeedBestCompression) {
		level = zstd.SpeedDefault
	}

	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Codec{cfg: cfg, zenc: zenc, zdec: zdec}, nil
}

// Compress encodes data under the configured algorithm. It never fails the
// caller for compression reasons: an encoder error or an unprofitable
// ratio both degrade to a pass-through "none" result.
func (c *Codec) Compress(data []byte) *Result {
	checksum := digest(data)

	if c.cfg.Algorithm == AlgorithmNone || len(data) == 0 {
		return c.passthrough(data, checksum)
	}

	encoded, err := c.encode(data)
	if err != nil {
		return c.passthrough(data, checksum)
	}

	ratio := float64(len(encoded)) / float64(len(data))
	if ratio > c.cfg.MinRatio {
		// Not worth the cycles to decompress later.
		return c.passthrough(data, checksum)
	}

	res := &Result{
		Metadata: Metadata{
			Algorithm:      c.cfg.Algorithm,
			OriginalSize:   int64(len(data)),
			CompressedSize: int64(len(encoded)),
			Ratio:          ratio,
			Checksum:       checksum,
			IsCompressed:   true,
			FormatVersion:  FormatVersionCurrent,
		},
	}
	c.pack(res, encoded)
	return res
}

// Decompress decodes a Result back to the original payload, reassembling
// chunks and verifying the recorded checksum. Legacy blobs are decoded
// through a dedicated path selected by the format version discriminant.
func (c *Codec) Decompress(res *Result) ([]byte, error) {
	if res == nil {
		return nil, errors.New("nil compression result")
	}

	switch res.Metadata.FormatVersion {
	case FormatVersionLegacy:
		return c.decompressLegacy(res)
	case FormatVersionCurrent:
		return c.decompressCurrent(res)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, res.Metadata.FormatVersion)
	}
}

// decompressCurrent handles format version 2: optional chunking, any
// supported algorithm, mandatory checksum verification.
func (c *Codec) decompressCurrent(res *Result) ([]byte, error) {
	encoded := res.Payload
	if len(res.Chunks) > 0 {
		var buf bytes.Buffer
		buf.Grow(int(res.Metadata.CompressedSize))
		for _, chunk := range res.Chunks {
			buf.Write(chunk)
		}
		encoded = buf.Bytes()
	}

	data, err := c.decode(res.Metadata.Algorithm, encoded)
	if err != nil {
		return nil, err
	}

	if res.Metadata.Checksum != "" && digest(data) != res.Metadata.Checksum {
		return nil, ErrChecksumMismatch
	}
	if res.Metadata.OriginalSize > 0 && int64(len(data)) != res.Metadata.OriginalSize {
		return nil, fmt.Errorf("decompressed size %d does not match recorded size %d",
			len(data), res.Metadata.OriginalSize)
	}
	return data, nil
}

// decompressLegacy handles format version 1: a single gzip payload with
// no chunk list. Checksums were optional in that format.
func (c *Codec) decompressLegacy(res *Result) ([]byte, error) {
	if len(res.Chunks) > 0 {
		return nil, errors.New("legacy format does not support chunked payloads")
	}
	alg := res.Metadata.Algorithm
	if alg == "" {
		alg = AlgorithmGzip
	}
	if !res.Metadata.IsCompressed {
		alg = AlgorithmNone
	}

	data, err := c.decode(alg, res.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode legacy blob: %w", err)
	}
	if res.Metadata.Checksum != "" && digest(data) != res.Metadata.Checksum {
		return nil, ErrChecksumMismatch
	}
	return data, nil
}

// passthrough builds an uncompressed result; still chunked when the raw
// payload exceeds the chunk size.
func (c *Codec) passthrough(data []byte, checksum string) *Result {
	res := &Result{
		Metadata: Metadata{
			Algorithm:      AlgorithmNone,
			OriginalSize:   int64(len(data)),
			CompressedSize: int64(len(data)),
			Ratio:          1.0,
			Checksum:       checksum,
			IsCompressed:   false,
			FormatVersion:  FormatVersionCurrent,
		},
	}
	c.pack(res, data)
	return res
}

// pack stores the encoded payload on the result, splitting it into an
// ordered chunk list when it exceeds the configured chunk size.
func (c *Codec) pack(res *Result, encoded []byte) {
	if c.cfg.ChunkSize <= 0 || len(encoded) <= c.cfg.ChunkSize {
		res.Payload = encoded
		return
	}

	for off := 0; off < len(encoded); off += c.cfg.ChunkSize {
		end := off + c.cfg.ChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		chunk := make([]byte, end-off)
		copy(chunk, encoded[off:end])
		res.Chunks = append(res.Chunks, chunk)
	}
}

// encode compresses data under the configured algorithm.
func (c *Codec) encode(data []byte) ([]byte, error) {
	switch c.cfg.Algorithm {
	case AlgorithmZstd:
		return c.zenc.EncodeAll(data, nil), nil
	case AlgorithmGzip:
		return c.gzipEncode(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, c.cfg.Algorithm)
	}
}

// decode reverses encode for the named algorithm.
func (c *Codec) decode(alg Algorithm, encoded []byte) ([]byte, error) {
	switch alg {
	case AlgorithmNone:
		return encoded, nil
	case AlgorithmZstd:
		return c.zdec.DecodeAll(encoded, nil)
	case AlgorithmGzip:
		return gzipDecode(encoded)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
}

// gzipEncode compresses with klauspost gzip at the configured level.
func (c *Codec) gzipEncode(data []byte) ([]byte, error) {
	level := c.cfg.Level
	if level <= 0 || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// gzipDecode decompresses a gzip payload.
func gzipDecode(encoded []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return data, nil
}

// digest returns the SHA-256 hex digest of data.
func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
