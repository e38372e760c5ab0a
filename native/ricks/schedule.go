package ricks

import "math"

// The schedule is a pure function of (genesis, window length, clock). Windows
// are half-open [opens, closes): the closing instant already belongs to the
// next window. No warm-up is enforced; a depositor that wants one sets the
// genesis in the future and the engine reports ErrClockSkew until it arrives.

// WindowIndex computes the index of the window containing now.
func WindowIndex(genesis, windowLength, now int64) (uint64, error) {
	if windowLength <= 0 {
		return 0, ErrInvalidParams
	}
	if now < genesis {
		return 0, ErrClockSkew
	}
	return uint64((now - genesis) / windowLength), nil
}

// WindowOpensAt computes the opening instant of the window at index.
func WindowOpensAt(genesis, windowLength int64, index uint64) (int64, error) {
	if windowLength <= 0 {
		return 0, ErrInvalidParams
	}
	if index > uint64(math.MaxInt64) {
		return 0, ErrInvalidParams
	}
	offset, ok := checkedMul(windowLength, int64(index))
	if !ok {
		return 0, ErrInvalidParams
	}
	opens, ok := checkedAdd(genesis, offset)
	if !ok {
		return 0, ErrInvalidParams
	}
	return opens, nil
}

// WindowClosesAt computes the closing instant of the window at index.
func WindowClosesAt(genesis, windowLength int64, index uint64) (int64, error) {
	opens, err := WindowOpensAt(genesis, windowLength, index)
	if err != nil {
		return 0, err
	}
	closes, ok := checkedAdd(opens, windowLength)
	if !ok {
		return 0, ErrInvalidParams
	}
	return closes, nil
}

func checkedAdd(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func checkedMul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	product := a * b
	if product/b != a {
		return 0, false
	}
	return product, true
}
