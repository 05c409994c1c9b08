package raster

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Checksum returns the "sha256:" checksum of data.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Checksum returns a checksum over the cell values in row-major order.
// All no-data cells hash alike whatever their NaN payload.
func (g *Grid) Checksum() string {
	h := sha256.New()
	var buf [8]byte
	for _, v := range g.values {
		if math.IsNaN(v) {
			v = math.NaN()
		}
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
