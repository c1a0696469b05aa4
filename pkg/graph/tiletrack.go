package graph

import "sync"

// tileKey identifies one tile across all matrices touched by a
// session. This tracks in-flight dependency state (who has read or
// written a tile since it was last written) and is deliberately
// separate from pkg/coherence.Directory, which tracks where the most
// recent *materialised* copy of a tile lives. The two answer
// different questions: this one drives edge construction at
// submission time, the other drives staging at execution time.
type tileKey struct {
	Base int
	Tile int
}

// tileState is the analyser's bookkeeping for one tile: the readers
// since the last writer, and the last writer itself (spec §4.2,
// grounded on cj_Task_dependency_analysis's set_r/set_w).
type tileState struct {
	mu      sync.Mutex
	readers []TaskID
	writer  TaskID
	hasW    bool
}

// tileTracker owns one tileState per tile, created lazily.
type tileTracker struct {
	mu     sync.Mutex
	states map[tileKey]*tileState
}

func newTileTracker() *tileTracker {
	return &tileTracker{states: make(map[tileKey]*tileState)}
}

func (tt *tileTracker) stateFor(k tileKey) *tileState {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	s, ok := tt.states[k]
	if !ok {
		s = &tileState{}
		tt.states[k] = s
	}
	return s
}
