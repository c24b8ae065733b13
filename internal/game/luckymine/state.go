package luckymine

import (
	"math"
	"math/bits"

	"github.com/louisbranch/parlor/internal/game/codec"
	"github.com/louisbranch/parlor/internal/game/random"
)

// Type is the stable game-type tag rooms are keyed under.
const Type = "luckymine"

// Board limits. Masks are two 64-bit words, so 128 tiles is the hard
// ceiling.
const (
	minTiles = 10
	maxTiles = 128

	defaultTiles = 25
	defaultMines = 5
)

// Round status values.
const (
	StatusActive    = 0
	StatusHitMine   = 1
	StatusCashedOut = 2
)

// defaultRewardSlope keeps 97% of the fair multiplier for the player.
const defaultRewardSlope float32 = 0.97

const stateVersion = 1

// State is the packed room state: mine and reveal masks plus the
// running payout. Fixed-size so the codec serializes it bytewise.
type State struct {
	MineMask        [2]uint64
	RevealedMask    [2]uint64
	CurrentPlayer   uint8
	TotalTiles      uint8
	TotalMines      uint8
	Status          uint8
	RevealedSafe    uint32
	EntryCost       uint32
	RewardSlope     float32
	CurrentWinnings uint64
	JackpotCounter  uint32
	DeadSeats       uint8 // reserved for the multi-seat variant
}

var stateCodec = codec.MustNew[State](stateVersion)

// Codec returns the shared state codec for wiring repositories.
func Codec() *codec.Codec[State] { return stateCodec }

func maskHas(mask [2]uint64, tile int) bool {
	return mask[tile/64]>>(uint(tile%64))&1 == 1
}

func maskSet(mask *[2]uint64, tile int) {
	mask[tile/64] |= 1 << uint(tile%64)
}

func maskCount(mask [2]uint64) int {
	return bits.OnesCount64(mask[0]) + bits.OnesCount64(mask[1])
}

func maskTiles(mask [2]uint64, total int) []int {
	out := make([]int, 0, maskCount(mask))
	for tile := 0; tile < total; tile++ {
		if maskHas(mask, tile) {
			out = append(out, tile)
		}
	}

	return out
}

// safeTiles is the number of tiles that can be revealed without losing.
func (s *State) safeTiles() int {
	return int(s.TotalTiles) - int(s.TotalMines)
}

// winningsAt returns the payout after k safe reveals: the entry cost
// times the fair odds of surviving k picks, shaved by the reward slope
// and floored. Zero before the first reveal and past the safe count.
func (s *State) winningsAt(k int) uint64 {
	safe := s.safeTiles()
	if k <= 0 || k > safe {
		return 0
	}

	multiplier := 1.0
	for i := 0; i < k; i++ {
		multiplier *= float64(int(s.TotalTiles)-i) / float64(safe-i)
	}
	multiplier *= float64(s.RewardSlope)

	return uint64(math.Floor(float64(s.EntryCost) * multiplier))
}

// placeMines draws a uniform random subset of the tiles using a partial
// Fisher-Yates pass over a stack-allocated index buffer: only the first
// mines entries ever need a swap.
func placeMines(tiles, mines int, src random.Source) [2]uint64 {
	var indices [maxTiles]uint8
	for i := 0; i < tiles; i++ {
		indices[i] = uint8(i)
	}

	var mask [2]uint64
	for i := 0; i < mines; i++ {
		j := i + src.IntN(tiles-i)
		indices[i], indices[j] = indices[j], indices[i]
		maskSet(&mask, int(indices[i]))
	}

	return mask
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}
