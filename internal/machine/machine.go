// Package machine is the composite state of the publishing workflow: three
// orthogonal regions, a pure transition function and a table of entry hooks.
package machine

import "fmt"

// Region is one orthogonal part of the state.
type Region int

const (
	RegionVisibility Region = iota + 1
	RegionOperation
	RegionErrored
)

func (r Region) String() string {
	switch r {
	case RegionVisibility:
		return "visibility"
	case RegionOperation:
		return "operation"
	case RegionErrored:
		return "errored"
	default:
		return fmt.Sprintf("region(%d)", int(r))
	}
}

// Leaf is the active state of a region.
type Leaf string

const (
	Hidden  Leaf = "hidden"
	Visible Leaf = "visible"

	Initialising Leaf = "initialising"
	Ready        Leaf = "ready"
	Publishing   Leaf = "publishing"
	Stopping     Leaf = "stopping"
	Stopped      Leaf = "stopped"
	Finished     Leaf = "finished"
	Repairing    Leaf = "repairing"
	Saving       Leaf = "saving"

	Clean Leaf = "clean"
	Dirty Leaf = "dirty"
)

// Event triggers transitions. One event may move several regions.
type Event string

const (
	EventShow          Event = "show"
	EventHide          Event = "hide"
	EventPublish       Event = "publish"
	EventInitialise    Event = "initialise"
	EventInitialised   Event = "initialised"
	EventRepair        Event = "repair"
	EventRepaired      Event = "repaired"
	EventSave          Event = "save"
	EventSaved         Event = "saved"
	EventStop          Event = "stop"
	EventStopped       Event = "stopped"
	EventFinish        Event = "finish"
	EventPluginFailure Event = "pluginFailure"
)

// State is the active leaf of every region.
type State struct {
	Visibility Leaf
	Operation  Leaf
	Errored    Leaf
}

// Initial is hidden, initialising and clean.
func Initial() State {
	return State{Visibility: Hidden, Operation: Initialising, Errored: Clean}
}

// Has reports whether l is active in any region.
func (s State) Has(l Leaf) bool {
	return s.Visibility == l || s.Operation == l || s.Errored == l
}

// Leaves lists the active configuration.
func (s State) Leaves() []Leaf {
	return []Leaf{s.Visibility, s.Operation, s.Errored}
}

func (s State) String() string {
	return fmt.Sprintf("%s|%s|%s", s.Visibility, s.Operation, s.Errored)
}

func (s State) leaf(r Region) Leaf {
	switch r {
	case RegionVisibility:
		return s.Visibility
	case RegionOperation:
		return s.Operation
	default:
		return s.Errored
	}
}

func (s *State) set(r Region, l Leaf) {
	switch r {
	case RegionVisibility:
		s.Visibility = l
	case RegionOperation:
		s.Operation = l
	default:
		s.Errored = l
	}
}

type edge struct {
	from  Leaf
	event Event
}

var regions = []Region{RegionVisibility, RegionOperation, RegionErrored}

var transitions = map[Region]map[edge]Leaf{
	RegionVisibility: {
		{Hidden, EventShow}:  Visible,
		{Visible, EventHide}: Hidden,
	},
	RegionOperation: {
		{Ready, EventPublish}:            Publishing,
		{Ready, EventInitialise}:         Initialising,
		{Ready, EventRepair}:             Repairing,
		{Ready, EventSave}:               Saving,
		{Saving, EventSaved}:             Ready,
		{Publishing, EventStop}:          Stopping,
		{Publishing, EventFinish}:        Finished,
		{Finished, EventInitialise}:      Initialising,
		{Finished, EventRepair}:          Repairing,
		{Repairing, EventRepaired}:       Ready,
		{Initialising, EventInitialised}: Ready,
		{Stopping, EventStopped}:         Stopped,
		{Stopped, EventFinish}:           Finished,
	},
	RegionErrored: {
		{Dirty, EventInitialise}:    Clean,
		{Clean, EventPluginFailure}: Dirty,
	},
}

// Entered names a leaf that became active.
type Entered struct {
	Region Region
	Leaf   Leaf
}

// Transition applies e to every region independently. Regions without an
// edge for e keep their leaf. entered is empty when nothing moved.
func Transition(s State, e Event) (next State, entered []Entered) {
	next = s
	for _, r := range regions {
		to, ok := transitions[r][edge{from: s.leaf(r), event: e}]
		if !ok {
			continue
		}
		next.set(r, to)
		entered = append(entered, Entered{Region: r, Leaf: to})
	}
	return next, entered
}

// Accepts reports whether e moves any region out of s.
func Accepts(s State, e Event) bool {
	_, entered := Transition(s, e)
	return len(entered) > 0
}
