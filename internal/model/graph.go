package model

import (
	"fmt"
	"sync"
)

// Graph is the arena holding every object of one data source. The root is the
// data source itself; all other objects reach it through parent handles.
type Graph struct {
	mu      sync.RWMutex
	next    ID
	objects map[ID]*Object
	root    *Object
}

// NewGraph creates a graph whose root object represents the data source.
func NewGraph(dataSourceID, name string) *Graph {
	g := &Graph{objects: make(map[ID]*Object)}
	root := newObject(KindDataSource, name, NoID, dataSourceID, Record{}, StatePersisted)
	g.register(root)
	g.root = root
	return g
}

func (g *Graph) Root() *Object { return g.root }

func (g *Graph) register(o *Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	o.id = g.next
	g.objects[o.id] = o
}

// Lookup resolves a handle. Handles of forgotten objects no longer resolve.
func (g *Graph) Lookup(id ID) (*Object, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.objects[id]
	return o, ok
}

// Len returns the number of objects in the arena, including the root.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}

// Bind constructs a persisted object from an introspected record.
func (g *Graph) Bind(parent ID, kind Kind, rec Record) (*Object, error) {
	if _, ok := g.Lookup(parent); !ok {
		return nil, fmt.Errorf("bind %s %q: parent %d is not in the graph", kind, rec.Name, parent)
	}
	o := newObject(kind, rec.Name, parent, g.root.dataSource, rec, StatePersisted)
	g.register(o)
	return o, nil
}

// NewTransient constructs an in-memory object awaiting creation.
func (g *Graph) NewTransient(parent ID, kind Kind, rec Record) (*Object, error) {
	if _, ok := g.Lookup(parent); !ok {
		return nil, fmt.Errorf("new %s %q: parent %d is not in the graph", kind, rec.Name, parent)
	}
	o := newObject(kind, rec.Name, parent, g.root.dataSource, rec, StateTransient)
	g.register(o)
	return o, nil
}

// Forget removes a handle from the arena.
func (g *Graph) Forget(id ID) {
	if id == g.root.id {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.objects, id)
}

// Path returns the chain of objects from the first child of the root down to
// o itself. It fails when a link does not resolve or the chain does not end at
// the root.
func (g *Graph) Path(o *Object) ([]*Object, error) {
	var chain []*Object
	cur := o
	for depth := 0; cur != g.root; depth++ {
		if depth > 64 {
			return nil, fmt.Errorf("object %q: parent chain too deep", o.name)
		}
		chain = append(chain, cur)
		parent, ok := g.Lookup(cur.parent)
		if !ok {
			return nil, fmt.Errorf("object %q: parent %d does not resolve", cur.name, cur.parent)
		}
		cur = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Names returns the names along Path.
func (g *Graph) Names(o *Object) ([]string, error) {
	chain, err := g.Path(o)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(chain))
	for i, c := range chain {
		names[i] = c.name
	}
	return names, nil
}

// Ancestor walks up from o until it finds an object of the given kind.
func (g *Graph) Ancestor(o *Object, kind Kind) (*Object, bool) {
	cur := o
	for cur != nil {
		if cur.kind == kind {
			return cur, true
		}
		if cur == g.root {
			return nil, false
		}
		parent, ok := g.Lookup(cur.parent)
		if !ok {
			return nil, false
		}
		cur = parent
	}
	return nil, false
}
