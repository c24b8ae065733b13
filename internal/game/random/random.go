// Package random provides the randomness source used by game rules.
//
// Game evaluation never touches math/rand or crypto/rand directly; rules
// receive a Source so that tests and replay tooling can substitute a
// deterministic sequence.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
)

// Source yields uniform random integers for game rules.
type Source interface {
	// IntN returns a uniform value in [0, n). It panics when n <= 0.
	IntN(n int) int
}

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

type source struct {
	rng *rand.Rand
}

func (s *source) IntN(n int) int {
	return s.rng.Intn(n)
}

// NewSeeded returns a Source that is deterministic with respect to seed.
// Given the same seed and the same call sequence it always produces the
// same values.
func NewSeeded(seed int64) Source {
	return &source{rng: rand.New(rand.NewSource(seed))}
}

// New returns a Source seeded from crypto/rand.
func New() (Source, error) {
	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}

	return NewSeeded(seed), nil
}

// Fixed returns a Source that replays the provided values in order and
// wraps around when exhausted. Each value is reduced modulo n at call
// time. It is intended for tests that script dice rolls or tile draws.
func Fixed(values ...int) Source {
	if len(values) == 0 {
		values = []int{0}
	}

	return &fixedSource{values: values}
}

type fixedSource struct {
	values []int
	next   int
}

func (s *fixedSource) IntN(n int) int {
	if n <= 0 {
		panic("random: IntN called with non-positive n")
	}

	v := s.values[s.next%len(s.values)]
	s.next++

	return ((v % n) + n) % n
}
