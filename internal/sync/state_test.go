package sync

import (
	"errors"
	"fmt"
	"testing"
)

func TestRoomTransitions(t *testing.T) {
	tests := []struct {
		from, to RoomState
		ok       bool
	}{
		{StateUninitialized, StateLoading, true},
		{StateLoading, StateLive, true},
		{StateLive, StatePaginatingBack, true},
		{StatePaginatingBack, StateLive, true},
		{StateLive, StateClosed, true},
		{StatePaginatingBack, StateClosed, true},
		{StateUninitialized, StateLive, false},
		{StatePaginatingBack, StatePaginatingBack, false},
		{StateClosed, StateUninitialized, false},
		{StateClosed, StateLive, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestKind(t *testing.T) {
	err := fmt.Errorf("%w: %v", ErrFetchFailed, errors.New("dial tcp: refused"))
	if got := Kind(err); got != "fetch_failed" {
		t.Errorf("Kind = %q, want fetch_failed", got)
	}
	if got := Kind(errors.New("plain")); got != "internal" {
		t.Errorf("Kind = %q, want internal", got)
	}
}
