// Package registry caches installed and latest version records per component.
package registry

import (
	"fmt"
	"sync"

	"github.com/autopeer-io/skypeer/internal/update/core"
)

// entry is guarded by its own lock so that writes to one component never wait
// on another.
type entry struct {
	mu          sync.RWMutex
	installed   core.VersionRecord
	latest      core.VersionRecord
	instruction core.Instruction
}

// Registry is safe for concurrent use. The set of keys is fixed at construction.
type Registry struct {
	entries map[core.Component]*entry
}

// Entry is a point-in-time copy of one component's records.
type Entry struct {
	Component   core.Component     `json:"component"`
	Installed   core.VersionRecord `json:"installed"`
	Latest      core.VersionRecord `json:"latest"`
	Instruction core.Instruction   `json:"instruction"`
}

func New() *Registry {
	r := &Registry{entries: make(map[core.Component]*entry)}
	for _, c := range core.ConcreteComponents() {
		r.entries[c] = &entry{}
	}
	return r
}

func (r *Registry) lookup(c core.Component) (*entry, error) {
	e, ok := r.entries[c]
	if !ok {
		return nil, fmt.Errorf("component %s has no version record", c)
	}
	return e, nil
}

// RecordInstalled stores the installed version of a concrete component.
func (r *Registry) RecordInstalled(c core.Component, v core.VersionRecord) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("installed version of %s: %w", c, err)
	}
	e, err := r.lookup(c)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.installed = v
	e.mu.Unlock()
	return nil
}

// RecordLatest stores the latest version published for a concrete component.
func (r *Registry) RecordLatest(c core.Component, v core.VersionRecord) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("latest version of %s: %w", c, err)
	}
	e, err := r.lookup(c)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.latest = v
	e.mu.Unlock()
	return nil
}

// ClearInstalled forgets the installed version, forcing the next check to
// query the component again.
func (r *Registry) ClearInstalled(c core.Component) {
	e, err := r.lookup(c)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.installed = core.UnknownVersion()
	e.mu.Unlock()
}

// Get returns the installed and latest records. Unknown components yield two
// unknown records.
func (r *Registry) Get(c core.Component) (installed, latest core.VersionRecord) {
	e, err := r.lookup(c)
	if err != nil {
		return core.UnknownVersion(), core.UnknownVersion()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.installed, e.latest
}

func (r *Registry) SetInstruction(c core.Component, i core.Instruction) {
	e, err := r.lookup(c)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.instruction = i
	e.mu.Unlock()
}

// Instruction returns the last instruction computed for c, or InstructionUnknown
// when no check has run.
func (r *Registry) Instruction(c core.Component) core.Instruction {
	e, err := r.lookup(c)
	if err != nil {
		return core.InstructionUnknown
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instruction
}

// Snapshot copies every entry in ConcreteComponents order.
func (r *Registry) Snapshot() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, c := range core.ConcreteComponents() {
		e := r.entries[c]
		e.mu.RLock()
		out = append(out, Entry{
			Component:   c,
			Installed:   e.installed,
			Latest:      e.latest,
			Instruction: e.instruction,
		})
		e.mu.RUnlock()
	}
	return out
}
