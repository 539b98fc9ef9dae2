package gpio

// State is a step of the pin setup sequence.
type State int

const (
	StateUnconfigured State = iota
	StatePinResolved
	StateUnexported // stale export from a previous run cleared
	StateExported
	StateEdgeSet
	StateDirectionSet
	StateWatching
	StateReady
	StateFailed
)

var stateNames = [...]string{
	StateUnconfigured: "unconfigured",
	StatePinResolved:  "pin-resolved",
	StateUnexported:   "unexported",
	StateExported:     "exported",
	StateEdgeSet:      "edge-set",
	StateDirectionSet: "direction-set",
	StateWatching:     "watching",
	StateReady:        "ready",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
