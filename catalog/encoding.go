package catalog

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector converts a float32 slice to little-endian bytes for BLOB
// storage.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}

	return buf
}

// decodeVector converts little-endian bytes back to a float32 slice.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("catalog: corrupt embedding blob of %d bytes", len(b))
	}

	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}

	return v, nil
}
