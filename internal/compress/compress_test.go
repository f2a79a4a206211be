// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package compress

import (
	"bytes"
	"strings"
	"testing"
)

// compressible produces a payload that any real codec shrinks.
func compressible(n int) []byte {
	return []byte(strings.Repeat("the hero walked through the tall grass. ", n))
}

func mustCodec(t *testing.T, cfg Config) *Codec {
	t.Helper()
	c, err := NewCodec(cfg)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestRoundTrip_AllAlgorithms(t *testing.T) {
	payload := compressible(200)

	for _, alg := range []Algorithm{AlgorithmZstd, AlgorithmGzip, AlgorithmNone} {
		t.Run(string(alg), func(t *testing.T) {
			c := mustCodec(t, Config{Algorithm: alg, MinRatio: 0.95})

			res := c.Compress(payload)
			got, err := c.Decompress(res)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatal("round trip not exact")
			}

			if alg == AlgorithmNone {
				if res.Metadata.IsCompressed {
					t.Error("none algorithm must not mark payload compressed")
				}
			} else if !res.Metadata.IsCompressed {
				t.Errorf("%s: compressible payload stored uncompressed", alg)
			}
		})
	}
}

func TestRoundTrip_Chunked(t *testing.T) {
	payload := compressible(5000)
	c := mustCodec(t, Config{Algorithm: AlgorithmZstd, MinRatio: 0.95, ChunkSize: 512})

	res := c.Compress(payload)
	if len(res.Chunks) < 2 {
		t.Fatalf("expected chunked payload, got %d chunks", len(res.Chunks))
	}
	if res.Payload != nil {
		t.Error("chunked result must not also carry a whole payload")
	}

	got, err := c.Decompress(res)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("chunked round trip not exact")
	}
}

func TestRoundTrip_ChunkedPassthrough(t *testing.T) {
	// Incompressible payload plus a small chunk size exercises the
	// chunked "none" path.
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i*31 + i/7)
	}
	c := mustCodec(t, Config{Algorithm: AlgorithmNone, ChunkSize: 1000})

	res := c.Compress(payload)
	if len(res.Chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(res.Chunks))
	}

	got, err := c.Decompress(res)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("passthrough chunked round trip not exact")
	}
}

func TestCompress_MinRatioFallback(t *testing.T) {
	// Random-ish bytes do not compress; the codec must fall back to
	// pass-through instead of storing a larger payload.
	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte((i*131 + 17) % 251)
	}

	c := mustCodec(t, Config{Algorithm: AlgorithmZstd, MinRatio: 0.5})
	res := c.Compress(payload)

	if res.Metadata.Algorithm != AlgorithmNone {
		t.Errorf("algorithm = %s, want none fallback", res.Metadata.Algorithm)
	}
	if res.Metadata.Ratio != 1.0 {
		t.Errorf("ratio = %f, want 1.0 for pass-through", res.Metadata.Ratio)
	}

	got, err := c.Decompress(res)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("fallback round trip not exact")
	}
}

func TestCompress_MetadataSelfDescribing(t *testing.T) {
	payload := compressible(100)
	c := mustCodec(t, Config{Algorithm: AlgorithmZstd, MinRatio: 0.95})

	res := c.Compress(payload)
	md := res.Metadata

	if md.OriginalSize != int64(len(payload)) {
		t.Errorf("OriginalSize = %d, want %d", md.OriginalSize, len(payload))
	}
	if md.CompressedSize <= 0 || md.CompressedSize >= md.OriginalSize {
		t.Errorf("CompressedSize = %d not in (0, %d)", md.CompressedSize, md.OriginalSize)
	}
	if md.Checksum == "" {
		t.Error("checksum missing from metadata")
	}
	if md.FormatVersion != FormatVersionCurrent {
		t.Errorf("FormatVersion = %d, want %d", md.FormatVersion, FormatVersionCurrent)
	}
}

func TestDecompress_ChecksumMismatch(t *testing.T) {
	payload := compressible(100)
	c := mustCodec(t, Config{Algorithm: AlgorithmGzip, MinRatio: 0.95})

	res := c.Compress(payload)
	res.Metadata.Checksum = strings.Repeat("0", 64)

	if _, err := c.Decompress(res); err != ErrChecksumMismatch {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
}

func TestDecompress_LegacyFormat(t *testing.T) {
	payload := compressible(100)
	c := mustCodec(t, Config{Algorithm: AlgorithmGzip, MinRatio: 0.95})

	encoded, err := c.gzipEncode(payload)
	if err != nil {
		t.Fatalf("gzipEncode: %v", err)
	}

	// A blob as written by the v1 client: single gzip payload, version 1,
	// no chunk list, no checksum.
	legacy := &Result{
		Metadata: Metadata{
			Algorithm:     AlgorithmGzip,
			IsCompressed:  true,
			FormatVersion: FormatVersionLegacy,
		},
		Payload: encoded,
	}

	got, err := c.Decompress(legacy)
	if err != nil {
		t.Fatalf("Decompress legacy: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("legacy round trip not exact")
	}
}

func TestDecompress_UnknownFormatVersion(t *testing.T) {
	c := mustCodec(t, DefaultConfig())
	res := &Result{Metadata: Metadata{FormatVersion: 99}}

	if _, err := c.Decompress(res); err == nil {
		t.Fatal("expected error for unknown format version")
	}
}

func TestCompress_EmptyPayload(t *testing.T) {
	c := mustCodec(t, DefaultConfig())
	res := c.Compress(nil)

	if res.Metadata.Algorithm != AlgorithmNone {
		t.Errorf("empty payload should pass through, got %s", res.Metadata.Algorithm)
	}
	got, err := c.Decompress(res)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty payload back, got %d bytes", len(got))
	}
}
