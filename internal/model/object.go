package model

import (
	"slices"
	"sync"
)

// ID is a non-owning handle into a Graph. Parent links are IDs, never
// pointers, so a dropped container is not kept alive by its children.
type ID uint64

// NoID is the zero handle.
const NoID ID = 0

// Object is one database structure. Identity (kind, name, parent) is fixed at
// construction; attributes, sub-elements and state change under the object's
// lock and only through the cache or a structural manager.
type Object struct {
	id         ID
	kind       Kind
	name       string
	parent     ID
	dataSource string

	mu       sync.RWMutex
	attrs    Attributes
	elements []Element
	state    State
}

func newObject(kind Kind, name string, parent ID, dataSource string, rec Record, state State) *Object {
	return &Object{
		kind:       kind,
		name:       name,
		parent:     parent,
		dataSource: dataSource,
		attrs:      rec.Attrs.Clone(),
		elements:   slices.Clone(rec.Elements),
		state:      state,
	}
}

func (o *Object) ID() ID             { return o.id }
func (o *Object) Kind() Kind         { return o.kind }
func (o *Object) Name() string       { return o.name }
func (o *Object) Parent() ID         { return o.parent }
func (o *Object) DataSource() string { return o.dataSource }

func (o *Object) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Persisted reports whether the object was confirmed present in the database
// by the last introspection or DDL execution.
func (o *Object) Persisted() bool { return o.State() == StatePersisted }

func (o *Object) Destroyed() bool { return o.State() == StateDestroyed }

// Attributes returns a copy of the attribute bag.
func (o *Object) Attributes() Attributes {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.attrs.Clone()
}

func (o *Object) Attribute(name string) (Value, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.attrs[name]
	return v, ok
}

// Elements returns a copy of the ordered sub-elements.
func (o *Object) Elements() []Element {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.elements)
}

// Element finds a sub-element by name, e.g. an index column.
func (o *Object) Element(name string) (Element, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, e := range o.elements {
		if e.Name == name {
			return e, true
		}
	}
	return Element{}, false
}

// Clone copies the object including its identity handle. Managers stage edits
// on a clone so that a failed statement never touches the live object.
func (o *Object) Clone() *Object {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return &Object{
		id:         o.id,
		kind:       o.kind,
		name:       o.name,
		parent:     o.parent,
		dataSource: o.dataSource,
		attrs:      o.attrs.Clone(),
		elements:   slices.Clone(o.elements),
		state:      o.state,
	}
}

// Record returns the object's current state as a detached record.
func (o *Object) Record() Record {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Record{Name: o.name, Attrs: o.attrs.Clone(), Elements: slices.Clone(o.elements)}
}

// Merge overwrites attributes and sub-elements from an introspected record,
// marks the object persisted and reports whether anything visible changed.
func (o *Object) Merge(rec Record) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	attrs := rec.Attrs
	if attrs == nil {
		attrs = Attributes{}
	}
	changed := !o.attrs.Equal(attrs) || !slices.Equal(o.elements, rec.Elements)
	if changed {
		o.attrs = attrs.Clone()
		o.elements = slices.Clone(rec.Elements)
	}
	if o.state != StateDestroyed {
		o.state = StatePersisted
	}
	return changed
}

// SetAttributes replaces the attribute bag. Used by managers after an alter
// has been confirmed by the server.
func (o *Object) SetAttributes(attrs Attributes) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attrs = attrs.Clone()
}

// UpdateAttributes overlays changes onto the current bag and reports whether
// any value differed.
func (o *Object) UpdateAttributes(changes Attributes) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := o.attrs.Merge(changes)
	if next.Equal(o.attrs) {
		return false
	}
	o.attrs = next
	return true
}

// SetElements replaces the ordered sub-elements of a transient object.
func (o *Object) SetElements(elements []Element) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.elements = slices.Clone(elements)
}

func (o *Object) MarkPersisted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateDestroyed {
		o.state = StatePersisted
	}
}

// MarkDestroyed is terminal.
func (o *Object) MarkDestroyed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateDestroyed
}

// Snapshot is a read-only copy handed to observers.
type Snapshot struct {
	ID         ID
	Kind       Kind
	Name       string
	Parent     ID
	DataSource string
	State      State
	Attrs      Attributes
	Elements   []Element
}

func (o *Object) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Snapshot{
		ID:         o.id,
		Kind:       o.kind,
		Name:       o.name,
		Parent:     o.parent,
		DataSource: o.dataSource,
		State:      o.state,
		Attrs:      o.attrs.Clone(),
		Elements:   slices.Clone(o.elements),
	}
}
