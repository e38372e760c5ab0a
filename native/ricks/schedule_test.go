package ricks

import (
	"errors"
	"math"
	"testing"
)

func TestWindowIndex(t *testing.T) {
	cases := []struct {
		name    string
		genesis int64
		length  int64
		now     int64
		want    uint64
		wantErr error
	}{
		{"at genesis", 0, 86_400, 0, 0, nil},
		{"mid first window", 0, 86_400, 43_200, 0, nil},
		{"last second of window", 0, 86_400, 86_399, 0, nil},
		{"boundary belongs to next", 0, 86_400, 86_400, 1, nil},
		{"later window", 1_000, 100, 1_950, 9, nil},
		{"before genesis", 1_000, 100, 999, 0, ErrClockSkew},
		{"zero length", 0, 0, 10, 0, ErrInvalidParams},
	}
	for _, tc := range cases {
		got, err := WindowIndex(tc.genesis, tc.length, tc.now)
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.wantErr)
		}
		if err == nil && got != tc.want {
			t.Fatalf("%s: index = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestWindowBounds(t *testing.T) {
	opens, err := WindowOpensAt(1_000, 100, 9)
	if err != nil {
		t.Fatalf("WindowOpensAt: %v", err)
	}
	if opens != 1_900 {
		t.Fatalf("opens = %d, want 1900", opens)
	}
	closes, err := WindowClosesAt(1_000, 100, 9)
	if err != nil {
		t.Fatalf("WindowClosesAt: %v", err)
	}
	if closes != 2_000 {
		t.Fatalf("closes = %d, want 2000", closes)
	}
}

func TestWindowBoundsConsistentWithIndex(t *testing.T) {
	genesis, length := int64(5_000), int64(3_600)
	for _, now := range []int64{5_000, 5_001, 8_599, 8_600, 99_999} {
		index, err := WindowIndex(genesis, length, now)
		if err != nil {
			t.Fatalf("WindowIndex(%d): %v", now, err)
		}
		opens, err := WindowOpensAt(genesis, length, index)
		if err != nil {
			t.Fatalf("WindowOpensAt: %v", err)
		}
		closes, err := WindowClosesAt(genesis, length, index)
		if err != nil {
			t.Fatalf("WindowClosesAt: %v", err)
		}
		if now < opens || now >= closes {
			t.Fatalf("now=%d outside window %d [%d, %d)", now, index, opens, closes)
		}
	}
}

func TestScheduleOverflow(t *testing.T) {
	if _, err := WindowOpensAt(0, math.MaxInt64, 2); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams on overflow, got %v", err)
	}
	if _, err := WindowClosesAt(math.MaxInt64-10, 100, 0); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams on closing overflow, got %v", err)
	}
	if _, err := WindowOpensAt(0, 1, math.MaxUint64); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams on index overflow, got %v", err)
	}
}
