// Package sampling draws the integer day delays that drive disease
// progression.
//
// Every agent owns a Stream derived from the run's master seed and the agent's
// index. Draws never go through a shared generator, so an agent's delays do
// not depend on the order in which agents are visited, and the same seed
// reproduces the same run whether draws happen sequentially or on a worker
// pool.
package sampling

import (
	"math/rand/v2"
	"time"
)

// Seed is the master seed of a simulation run.
type Seed uint64

// Source is the part of a random generator the samplers need.
type Source interface {
	NormFloat64() float64
	Float64() float64
}

// Stream is an independent random stream owned by one agent.
type Stream struct {
	*rand.Rand
}

// NewStream returns the stream with the given key under the master seed. The
// same (seed, key) pair always yields the same sequence.
func NewStream(seed Seed, key uint64) *Stream {
	hi := splitMix64(uint64(seed) ^ splitMix64(key))
	lo := splitMix64(hi ^ key)

	return &Stream{Rand: rand.New(rand.NewPCG(hi, lo))}
}

// RandomSeed draws a fresh master seed for runs that were not given one.
func RandomSeed() Seed {
	return Seed(splitMix64(uint64(time.Now().UnixNano())) ^ rand.Uint64())
}

func splitMix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb

	return x ^ (x >> 31)
}
