package ludo

import (
	"math/bits"

	"github.com/louisbranch/parlor/internal/game/codec"
)

// Type is the stable game-type tag rooms are keyed under.
const Type = "ludo"

// Board geometry. A token's position is a single byte: 0 is base,
// 1..52 the shared outer track, 53..58 the private home column and 59
// finished.
const (
	posBase     = 0
	trackSize   = 52
	homeFirst   = 53
	posFinished = 59

	maxSeats      = 4
	tokensPerSeat = 4
)

const stateVersion = 1

// State is the packed room state. The layout is fixed-size so the codec
// can serialize it bytewise and detect schema drift by (version, size).
type State struct {
	CurrentPlayer      uint8
	LastRoll           uint8 // 0 = no roll pending
	ConsecutiveSixes   uint8
	GameOver           uint8
	TurnID             uint32
	TurnStartedAt      int64 // unix milliseconds, 0 until the table fills
	TurnTimeoutSeconds uint16
	ActiveSeats        uint8 // bitmask of seats participating
	FinishedSeats      uint8 // bitmask of seats whose tokens all finished
	MovableTokens      uint8 // bitmask of the current seat's movable tokens
	Winners            uint32
	Positions          [maxSeats * tokensPerSeat]uint8
}

var stateCodec = codec.MustNew[State](stateVersion)

// Codec returns the shared state codec for wiring repositories.
func Codec() *codec.Codec[State] { return stateCodec }

func (s *State) position(seat, token int) uint8 {
	return s.Positions[seat*tokensPerSeat+token]
}

func (s *State) setPosition(seat, token int, pos uint8) {
	s.Positions[seat*tokensPerSeat+token] = pos
}

func seatBit(seat int) uint8 { return 1 << uint(seat) }

func (s *State) seatActive(seat int) bool   { return s.ActiveSeats&seatBit(seat) != 0 }
func (s *State) seatFinished(seat int) bool { return s.FinishedSeats&seatBit(seat) != 0 }

func (s *State) activeCount() int { return bits.OnesCount8(s.ActiveSeats) }

func (s *State) finishedCount() int { return bits.OnesCount8(s.FinishedSeats & s.ActiveSeats) }

// seatDone reports whether every token of the seat has reached the end.
func (s *State) seatDone(seat int) bool {
	for t := 0; t < tokensPerSeat; t++ {
		if s.position(seat, t) != posFinished {
			return false
		}
	}

	return true
}

// started reports whether any play has happened. Players may only leave
// a table that has not started (or one that is already over).
func (s *State) started() bool {
	if s.LastRoll != 0 || s.TurnID > 1 {
		return true
	}
	for _, pos := range s.Positions {
		if pos != posBase {
			return true
		}
	}

	return false
}

// appendWinner packs the seat into the next free 8-bit ranking slot.
// Slots hold seat+1 so zero means unused.
func appendWinner(winners uint32, seat int) uint32 {
	for slot := 0; slot < maxSeats; slot++ {
		if winners>>(8*slot)&0xff == 0 {
			return winners | uint32(seat+1)<<(8*slot)
		}
	}

	return winners
}

// ranking unpacks the winners field into seats in finish order.
func ranking(winners uint32) []int {
	out := make([]int, 0, maxSeats)
	for slot := 0; slot < maxSeats; slot++ {
		packed := winners >> (8 * slot) & 0xff
		if packed == 0 {
			break
		}
		out = append(out, int(packed)-1)
	}

	return out
}

// maskSeats expands a seat bitmask into sorted seat indices.
func maskSeats(mask uint8) []int {
	out := make([]int, 0, maxSeats)
	for seat := 0; seat < maxSeats; seat++ {
		if mask&seatBit(seat) != 0 {
			out = append(out, seat)
		}
	}

	return out
}
