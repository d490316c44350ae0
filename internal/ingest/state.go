// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package ingest

// State is a step of the run state machine.
type State string

// Run states in the order a healthy run visits them. Completed and Failed
// are terminal.
const (
	StateIdle           State = "idle"
	StateFetchingCursor State = "fetching_cursor"
	StateReading        State = "reading"
	StateNormalizing    State = "normalizing"
	StateResolving      State = "resolving"
	StatePersisting     State = "persisting"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// validTransitions lists the allowed successors of each non-terminal state.
// Failed is reachable from all of them and is not listed.
var validTransitions = map[State][]State{
	StateIdle:           {StateFetchingCursor},
	StateFetchingCursor: {StateReading},
	StateReading:        {StateNormalizing, StateCompleted, StateFetchingCursor},
	StateNormalizing:    {StateResolving, StateReading},
	StateResolving:      {StatePersisting, StateResolving},
	StatePersisting:     {StateReading, StateResolving},
}

// CanTransition reports whether the machine may move from one state to another.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
