package dataset

import (
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
	"math"
)

// Fingerprint returns a 16-character hex digest of the parsed examples.
// Used by the run store to tell whether two runs trained on the same data.
func Fingerprint(examples []Example) string {
	h := fnv.New64a()

	var label [8]byte
	for _, ex := range examples {
		h.Write([]byte(ex.TextA))
		h.Write([]byte{0})
		h.Write([]byte(ex.TextB))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(label[:], math.Float64bits(ex.Label))
		h.Write(label[:])
	}

	return hex.EncodeToString(h.Sum(nil))
}
