package models

// AssetState is the persisted lifecycle state of one asset in the run ledger.
type AssetState string

const (
	StatePending   AssetState = "pending"
	StateRunning   AssetState = "running" // submitted, ingestion in progress remotely
	StateSucceeded AssetState = "succeeded"
	StateFailed    AssetState = "failed"
	StateSkipped   AssetState = "skipped"
)

// Uploading is an in-memory phase between pending and running; it is never persisted.

var allowedTransitions = map[AssetState]map[AssetState]bool{
	"": {
		StatePending: true,
	},
	StatePending: {
		StatePending:   true, // re-entered when a crashed run is resumed
		StateRunning:   true,
		StateSucceeded: true,
		StateFailed:    true,
		StateSkipped:   true,
	},
	StateRunning: {
		StateSucceeded: true, // observed as existing remotely
		StateFailed:    true,
		StatePending:   true, // re-queued with overwrite
	},
	StateSucceeded: {
		StatePending: true,
	},
	StateFailed: {
		StatePending: true,
	},
	StateSkipped: {
		StatePending: true,
	},
}

// IsKnownState reports whether s can appear in a ledger file.
func IsKnownState(s AssetState) bool {
	if s == "" {
		return false
	}
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether an asset may move from one ledger state to another.
func CanTransition(from, to AssetState) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether no further transition happens within the current run.
func (s AssetState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped:
		return true
	}
	return false
}
