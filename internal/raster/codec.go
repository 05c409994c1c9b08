package raster

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Compression names accepted by Codec.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// ValidityBitmap marks payloads that carry a per-cell validity bitmap after
// the cell values. A set bit means the cell holds data.
const ValidityBitmap = "bitmap"

// ErrChecksumMismatch is returned when a payload does not match its header.
var ErrChecksumMismatch = errors.New("grid payload checksum mismatch")

// Header is the JSON sidecar describing a BIL payload.
type Header struct {
	Definition
	Layout      string  `json:"layout"`
	ByteOrder   string  `json:"byte_order"`
	NBits       int     `json:"nbits"`
	NoData      float64 `json:"nodata"`
	Compression string  `json:"compression"`
	Validity    string  `json:"validity,omitempty"`
	Checksum    string  `json:"checksum"`
	ValidCells  int     `json:"valid_cells"`
}

// Codec encodes grids as little-endian 64-bit band-interleaved-by-line
// payloads with a JSON header. No-data cells hold the NoDataValue sentinel
// and are also flagged in a trailing validity bitmap, so a valid cell equal
// to the sentinel survives a round trip. The encoding is deterministic: identical
// grids always produce identical bytes.
type Codec struct {
	compression string
	enc         *zstd.Encoder
	dec         *zstd.Decoder
}

// NewCodec creates a codec writing payloads with the given compression.
func NewCodec(compression string) (*Codec, error) {
	if compression == "" {
		compression = CompressionNone
	}
	if compression != CompressionNone && compression != CompressionZstd {
		return nil, fmt.Errorf("unknown grid compression: %s", compression)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{compression: compression, enc: enc, dec: dec}, nil
}

// Close releases compressor resources.
func (c *Codec) Close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}

// Encode returns the header and payload bytes for g.
func (c *Codec) Encode(g *Grid) (header, payload []byte, err error) {
	n := len(g.values)
	raw := make([]byte, 8*n+bitmapLen(n))
	bitmap := raw[8*n:]
	for i, v := range g.values {
		if math.IsNaN(v) {
			v = NoDataValue
		} else {
			bitmap[i/8] |= 1 << (i % 8)
		}
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}

	h := Header{
		Definition:  g.def,
		Layout:      "BIL",
		ByteOrder:   "I",
		NBits:       64,
		NoData:      NoDataValue,
		Compression: c.compression,
		Validity:    ValidityBitmap,
		Checksum:    Checksum(raw),
		ValidCells:  g.ValidCount(),
	}
	header, err = json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal grid header: %w", err)
	}

	payload = raw
	if c.compression == CompressionZstd {
		payload = c.enc.EncodeAll(raw, nil)
	}
	return header, payload, nil
}

// Decode rebuilds a grid from header and payload bytes, verifying the
// payload checksum.
func (c *Codec) Decode(header, payload []byte) (*Grid, error) {
	var h Header
	if err := json.Unmarshal(header, &h); err != nil {
		return nil, fmt.Errorf("parse grid header: %w", err)
	}
	if err := h.Definition.Validate(); err != nil {
		return nil, err
	}
	if h.NBits != 64 {
		return nil, fmt.Errorf("unsupported grid nbits: %d", h.NBits)
	}

	raw := payload
	switch h.Compression {
	case "", CompressionNone:
	case CompressionZstd:
		var err error
		raw, err = c.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown grid compression: %s", h.Compression)
	}

	if h.Checksum != "" && Checksum(raw) != h.Checksum {
		return nil, ErrChecksumMismatch
	}

	n := h.Definition.Cells()
	want := 8 * n
	switch h.Validity {
	case ValidityBitmap:
		want += bitmapLen(n)
	case "":
		// Sentinel only: a cell equal to NoData is no-data.
	default:
		return nil, fmt.Errorf("unknown grid validity encoding: %s", h.Validity)
	}
	if len(raw) != want {
		return nil, fmt.Errorf("grid payload has %d bytes, want %d", len(raw), want)
	}

	values := make([]float64, n)
	bitmap := raw[8*n:]
	for i := range values {
		v := math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		var valid bool
		if h.Validity == ValidityBitmap {
			valid = bitmap[i/8]&(1<<(i%8)) != 0
		} else {
			valid = v != h.NoData
		}
		if !valid {
			v = math.NaN()
		}
		values[i] = v
	}
	return &Grid{def: h.Definition, values: values}, nil
}

func bitmapLen(cells int) int {
	return (cells + 7) / 8
}
