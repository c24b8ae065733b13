package ludo

import "time"

// entrySquare returns the outer-track square a seat's tokens enter on.
func entrySquare(seat int) uint8 { return uint8(1 + 13*seat) }

// safeSquares hold the four entry squares and the four star squares.
// Capture never happens on them.
var safeSquares = map[uint8]bool{
	1: true, 14: true, 27: true, 40: true,
	9: true, 22: true, 35: true, 48: true,
}

func isSafe(square uint8) bool { return safeSquares[square] }

// relative converts an absolute track square into the seat's progress
// 1..52, where 1 is the seat's own entry square.
func relative(square uint8, seat int) int {
	return (int(square)-int(entrySquare(seat))+trackSize)%trackSize + 1
}

// absolute converts seat progress 1..52 back to a track square.
func absolute(progress, seat int) uint8 {
	return uint8((int(entrySquare(seat))-1+progress-1)%trackSize + 1)
}

// destination computes where a seat's token lands when moving value
// steps from pos. Overshooting the finish forbids the move.
func destination(pos uint8, value, seat int) (uint8, bool) {
	switch {
	case pos == posBase:
		if value != 6 {
			return 0, false
		}

		return entrySquare(seat), true
	case pos <= trackSize:
		progress := relative(pos, seat) + value
		if progress > posFinished {
			return 0, false
		}
		if progress <= trackSize {
			return absolute(progress, seat), true
		}

		return uint8(progress), true
	case pos < posFinished:
		progress := int(pos) + value
		if progress > posFinished {
			return 0, false
		}

		return uint8(progress), true
	default:
		return 0, false
	}
}

// blockAt reports whether an opposing seat holds two or more tokens on
// the square. Blocks bar traversal for everyone but their owner.
func (s *State) blockAt(square uint8, movingSeat int) bool {
	for seat := 0; seat < maxSeats; seat++ {
		if seat == movingSeat {
			continue
		}
		count := 0
		for t := 0; t < tokensPerSeat; t++ {
			if s.position(seat, t) == square {
				count++
			}
		}
		if count >= 2 {
			return true
		}
	}

	return false
}

// pathBlocked reports whether moving value steps from pos would pass
// through an opposing block. Only shared-track squares strictly between
// the start and the landing square count; home columns are private and
// landing on a block is allowed (it just captures nothing).
func (s *State) pathBlocked(pos uint8, value, seat int) bool {
	if pos == posBase || pos > trackSize {
		return false
	}
	from := relative(pos, seat)
	last := from + value - 1
	if last > trackSize {
		last = trackSize
	}
	for p := from + 1; p <= last; p++ {
		if s.blockAt(absolute(p, seat), seat) {
			return true
		}
	}

	return false
}

// movable reports whether the seat's token may move value steps.
func (s *State) movable(seat, token, value int) bool {
	pos := s.position(seat, token)
	if _, ok := destination(pos, value, seat); !ok {
		return false
	}

	return !s.pathBlocked(pos, value, seat)
}

// movableMask returns the bitmask of the seat's movable tokens for the
// rolled value.
func (s *State) movableMask(seat, value int) uint8 {
	var mask uint8
	for t := 0; t < tokensPerSeat; t++ {
		if s.movable(seat, t, value) {
			mask |= 1 << uint(t)
		}
	}

	return mask
}

// soleOpponentAt finds a lone opposing token on the square. Capture
// requires exactly one opposing token there in total; pairs are blocks
// and mixed crowds are left alone.
func (s *State) soleOpponentAt(square uint8, movingSeat int) (int, int, bool) {
	count, foundSeat, foundToken := 0, 0, 0
	for seat := 0; seat < maxSeats; seat++ {
		if seat == movingSeat {
			continue
		}
		for t := 0; t < tokensPerSeat; t++ {
			if s.position(seat, t) == square {
				count++
				foundSeat, foundToken = seat, t
			}
		}
	}

	return foundSeat, foundToken, count == 1
}

// nextSeat returns the next active, unfinished seat after from. When no
// other seat can act, from is returned unchanged.
func (s *State) nextSeat(from int) int {
	for i := 1; i <= maxSeats; i++ {
		candidate := (from + i) % maxSeats
		if s.seatActive(candidate) && !s.seatFinished(candidate) {
			return candidate
		}
	}

	return from
}

// advanceTurn hands control to the next seat and resets the per-turn
// dice tracking.
func (s *State) advanceTurn(now time.Time) int {
	next := s.nextSeat(int(s.CurrentPlayer))
	s.CurrentPlayer = uint8(next)
	s.LastRoll = 0
	s.ConsecutiveSixes = 0
	s.MovableTokens = 0
	s.TurnID++
	s.TurnStartedAt = now.UnixMilli()

	return next
}
