// Package determinism owns the process-wide random seed.
//
// Every random draw the training stack makes, such as the per-epoch batch
// shuffle, goes through a stream derived here, so a single call to Seed at
// process start fixes all of them.
// Streams are independent of one another: adding a new consumer does not
// perturb the sequences existing consumers see.
package determinism

import (
	"hash/fnv"
	"math/rand/v2"
	"sync"
)

// DefaultSeed is used when Seed is never called.
const DefaultSeed int64 = 777

var (
	mu   sync.RWMutex
	seed = DefaultSeed
)

// Seed sets the global seed. It affects every stream created afterwards.
func Seed(s int64) {
	mu.Lock()
	seed = s
	mu.Unlock()
}

// Current returns the global seed.
func Current() int64 {
	mu.RLock()
	defer mu.RUnlock()
	return seed
}

// Stream returns a generator for the named stream. Two calls with the same
// name under the same seed yield identical sequences.
func Stream(name string) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(Current()), streamID(name)))
}

// streamID hashes the stream name into the PCG sequence selector.
func streamID(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
