/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package compression provides configurable compression for ranet's wire
protocol.

Compression Overview:
=====================

AppendEntries carrying a large batch of log entries is the one message
on ranet's wire that benefits from compression; RequestVote and the
various *Response messages are tiny and not worth the CPU. internal/transport
calls into this package per-frame, guarded by Config.MinSize, so small
frames pass through untouched.

Supported Algorithms:
=====================

1. LZ4 (github.com/pierrec/lz4/v4): fast, moderate ratio.
2. Snappy (github.com/golang/snappy): very fast, lower ratio.
3. Zstd (github.com/klauspost/compress/zstd): best ratio, tunable speed.
4. Gzip (compress/gzip): stdlib fallback, kept for compatibility with
   tooling that only speaks gzip.

*/
package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmGzip
	AlgorithmLZ4
	AlgorithmSnappy
	AlgorithmZstd
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses a compression algorithm from string.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none", "":
		return AlgorithmNone, nil
	case "gzip":
		return AlgorithmGzip, nil
	case "lz4":
		return AlgorithmLZ4, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm: %s", s)
	}
}

// Level represents compression level. Only zstd honors it; gzip always
// uses its default level, and lz4 and snappy have no tunable level.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 5
	LevelBest    Level = 9
)

// Config holds compression configuration.
type Config struct {
	Algorithm Algorithm `json:"algorithm"`
	Level     Level     `json:"level"`
	MinSize   int       `json:"min_size"`   // Minimum frame size to bother compressing
	BatchSize int       `json:"batch_size"` // Not read by this package; frames are compressed one at a time
}

// DefaultConfig returns sensible defaults for replication traffic.
func DefaultConfig() Config {
	return Config{
		Algorithm: AlgorithmSnappy,
		Level:     LevelDefault,
		MinSize:   256,
		BatchSize: 100,
	}
}

// Errors.
var (
	ErrInvalidHeader    = errors.New("invalid compression header")
	ErrUnsupportedAlgo  = errors.New("unsupported compression algorithm")
	ErrDecompressFailed = errors.New("decompression failed")
)

const (
	flagRaw        byte = 0x00
	flagCompressed byte = 0x01
)

// Compressor provides compression/decompression operations for one
// configured algorithm.
type Compressor struct {
	config     Config
	gzipPool   sync.Pool
	bufferPool sync.Pool
	zstdEnc    *zstd.Encoder
	zstdDec    *zstd.Decoder
}

// NewCompressor creates a new Compressor. zstd's encoder/decoder are
// expensive to build, so one pair is created lazily and reused for the
// Compressor's lifetime.
func NewCompressor(config Config) *Compressor {
	return &Compressor{
		config: config,
		gzipPool: sync.Pool{
			New: func() interface{} {
				return gzip.NewWriter(nil)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

func (c *Compressor) zstdEncoder() (*zstd.Encoder, error) {
	if c.zstdEnc == nil {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(c.config.Level)))
		if err != nil {
			return nil, err
		}
		c.zstdEnc = enc
	}
	return c.zstdEnc, nil
}

func (c *Compressor) zstdDecoder() (*zstd.Decoder, error) {
	if c.zstdDec == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		c.zstdDec = dec
	}
	return c.zstdDec, nil
}

func zstdLevel(l Level) zstd.EncoderLevel {
	switch {
	case l <= LevelFastest:
		return zstd.SpeedFastest
	case l >= LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Compress compresses data with the Compressor's configured algorithm.
// Frames shorter than Config.MinSize are stored verbatim (still prefixed
// with a one-byte flag so Decompress always knows how to treat them).
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) < c.config.MinSize || c.config.Algorithm == AlgorithmNone {
		return append([]byte{flagRaw}, data...), nil
	}

	compressed, err := c.compressBytes(data, c.config.Algorithm)
	if err != nil {
		return nil, err
	}
	return append([]byte{flagCompressed}, compressed...), nil
}

func (c *Compressor) compressBytes(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case AlgorithmGzip:
		buf := c.bufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		defer c.bufferPool.Put(buf)

		gw := c.gzipPool.Get().(*gzip.Writer)
		defer c.gzipPool.Put(gw)
		gw.Reset(buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		return append([]byte(nil), buf.Bytes()...), nil

	case AlgorithmLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(data, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Incompressible block: lz4 leaves n==0, fall back to a
			// literal copy so Decompress still round-trips.
			return append([]byte{0}, data...), nil
		}
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, uint32(len(data)))
		return append(append([]byte{1}, header...), buf[:n]...), nil

	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil

	case AlgorithmZstd:
		enc, err := c.zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil

	default:
		return nil, ErrUnsupportedAlgo
	}
}

// Decompress reverses Compress. algo must match the algorithm the data
// was compressed with.
func (c *Compressor) Decompress(data []byte, algo Algorithm) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidHeader
	}
	flag, body := data[0], data[1:]
	if flag == flagRaw {
		return append([]byte(nil), body...), nil
	}
	return c.decompressBytes(body, algo)
}

func (c *Compressor) decompressBytes(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case AlgorithmGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	case AlgorithmLZ4:
		if len(data) == 0 {
			return nil, ErrInvalidHeader
		}
		if data[0] == 0 {
			return append([]byte(nil), data[1:]...), nil
		}
		if len(data) < 5 {
			return nil, ErrInvalidHeader
		}
		origLen := binary.BigEndian.Uint32(data[1:5])
		out := make([]byte, origLen)
		n, err := lz4.UncompressBlock(data[5:], out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out[:n], nil

	case AlgorithmSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	case AlgorithmZstd:
		dec, err := c.zstdDecoder()
		if err != nil {
			return nil, err
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	default:
		return nil, ErrUnsupportedAlgo
	}
}
