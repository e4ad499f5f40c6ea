package machine

// Hook runs after its leaf became active.
type Hook func(s State)

// Machine holds the current state and runs entry hooks. It is not safe for
// concurrent use; one goroutine owns it.
type Machine struct {
	state State
	hooks map[Entered][]Hook
	any   []func(Entered, State)
}

// New starts a machine in the initial configuration.
func New() *Machine {
	return &Machine{state: Initial(), hooks: make(map[Entered][]Hook)}
}

// State returns the active configuration.
func (m *Machine) State() State { return m.state }

// On registers fn to run whenever leaf l of region r is entered.
func (m *Machine) On(r Region, l Leaf, fn Hook) {
	key := Entered{Region: r, Leaf: l}
	m.hooks[key] = append(m.hooks[key], fn)
}

// OnAny registers fn to run for every entered leaf.
func (m *Machine) OnAny(fn func(Entered, State)) {
	m.any = append(m.any, fn)
}

// Fire applies e and runs the hooks of every entered leaf in region order.
// It reports whether anything moved.
func (m *Machine) Fire(e Event) bool {
	next, entered := Transition(m.state, e)
	if len(entered) == 0 {
		return false
	}
	m.state = next
	for _, en := range entered {
		for _, fn := range m.any {
			fn(en, next)
		}
		for _, fn := range m.hooks[en] {
			fn(next)
		}
	}
	return true
}
