package sync

import (
	"fmt"
	"slices"
)

// RoomState is the lifecycle state of an open room.
type RoomState string

const (
	StateUninitialized  RoomState = "UNINITIALIZED"
	StateLoading        RoomState = "LOADING"
	StateLive           RoomState = "LIVE"
	StatePaginatingBack RoomState = "PAGINATING_BACK"
	StateClosed         RoomState = "CLOSED"
)

// roomTransitions defines allowed room state transitions. Closed is
// terminal; reopening creates a new room.
var roomTransitions = map[RoomState][]RoomState{
	StateUninitialized:  {StateLoading, StateClosed},
	StateLoading:        {StateLive, StateClosed},
	StateLive:           {StatePaginatingBack, StateClosed},
	StatePaginatingBack: {StateLive, StateClosed},
	StateClosed:         nil,
}

// CanTransition reports whether a room may move from s to to.
func (s RoomState) CanTransition(to RoomState) bool {
	return slices.Contains(roomTransitions[s], to)
}

func checkTransition(from, to RoomState) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("invalid room transition from %s to %s", from, to)
	}
	return nil
}

// StateChange is the payload of room.state_changed events.
type StateChange struct {
	RoomID string
	From   RoomState
	To     RoomState
}

// ViewChange is the payload of room.view_changed events.
type ViewChange struct {
	RoomID string
	Size   int
	Added  int
}

// Notice is the payload of room.notice events: a non-fatal failure during
// background processing.
type Notice struct {
	RoomID string
	Err    error
}
