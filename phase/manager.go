package phase

import (
	"fmt"
	"sync"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
)

// Spec declares a custom phase anchored before or after an existing phase.
type Spec struct {
	Name   string
	Before string
	After  string
}

// Manager holds the in and out phase lists of a bus. Lists are returned as
// copies; adding a phase never mutates a previously returned Phase value.
type Manager struct {
	mu  sync.RWMutex
	in  []Phase
	out []Phase
}

// NewManager returns a manager with the default phase lists.
func NewManager() *Manager {
	return &Manager{
		in:  FromNames(DefaultInNames()...),
		out: FromNames(DefaultOutNames()...),
	}
}

// NewManagerWith returns a manager with explicit phase lists.
func NewManagerWith(in, out []Phase) *Manager {
	return &Manager{
		in:  append([]Phase(nil), in...),
		out: append([]Phase(nil), out...),
	}
}

func (m *Manager) InPhases() []Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Phase(nil), m.in...)
}

func (m *Manager) OutPhases() []Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Phase(nil), m.out...)
}

// InFaultPhases returns the phases of the chain that processes a received
// fault. Fault chains share the backbone of their direction.
func (m *Manager) InFaultPhases() []Phase {
	return m.InPhases()
}

// OutFaultPhases returns the phases of the chain that sends a fault reply.
func (m *Manager) OutFaultPhases() []Phase {
	return m.OutPhases()
}

// AddInPhase inserts name into the in list immediately before or after an
// existing phase. Exactly one anchor must be given.
func (m *Manager) AddInPhase(name, before, after string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated, err := insertPhase(m.in, name, before, after)
	if err != nil {
		return fmt.Errorf("in phases: %w", err)
	}
	m.in = updated
	return nil
}

// AddOutPhase inserts name into the out list immediately before or after an
// existing phase.
func (m *Manager) AddOutPhase(name, before, after string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated, err := insertPhase(m.out, name, before, after)
	if err != nil {
		return fmt.Errorf("out phases: %w", err)
	}
	m.out = updated
	return nil
}

// Apply inserts the custom in and out phases in declaration order, so a spec
// may anchor on a phase declared earlier in the same slice.
func (m *Manager) Apply(in, out []Spec) error {
	for _, s := range in {
		if err := m.AddInPhase(s.Name, s.Before, s.After); err != nil {
			return err
		}
	}
	for _, s := range out {
		if err := m.AddOutPhase(s.Name, s.Before, s.After); err != nil {
			return err
		}
	}
	return nil
}

func insertPhase(phases []Phase, name, before, after string) ([]Phase, error) {
	if name == "" {
		return nil, fmt.Errorf("phase name is required")
	}
	if (before == "") == (after == "") {
		return nil, fmt.Errorf("phase %q needs exactly one of before or after", name)
	}
	if Index(phases, name) >= 0 {
		return nil, fmt.Errorf("phase %q already exists", name)
	}

	anchor := before
	if anchor == "" {
		anchor = after
	}
	at := Index(phases, anchor)
	if at < 0 {
		return nil, &errspkg.PhaseAnchorError{Phase: name, Anchor: anchor}
	}
	if after != "" {
		at++
	}

	names := Names(phases)
	names = append(names[:at], append([]string{name}, names[at:]...)...)
	return FromNames(names...), nil
}
