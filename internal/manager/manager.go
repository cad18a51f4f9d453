// Package manager turns lifecycle requests on model objects into DDL and runs
// them. Dialects register one Manager per (kind, operation) they support; the
// Executor owns the state machine shared by all of them.
package manager

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kadirbelkuyu/metacache/internal/cache"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

// Request is one lifecycle request. For alter, Staged holds the target state
// and Changes the attributes that differ from Object.
type Request struct {
	Op      metaerr.Op
	Object  *model.Object
	Staged  *model.Object
	Changes model.Attributes
}

// Manager validates and builds the statements for one kind and operation.
// Neither method may perform I/O, and Build must be deterministic.
type Manager interface {
	Validate(env Env, req Request) error
	Build(env Env, req Request) ([]string, error)
}

// Owner is implemented by managers whose objects are not cached under their
// parent's entry of their own kind.
type Owner interface {
	OwnerKey(env Env, obj *model.Object) (cache.Key, error)
}

// Funcs adapts plain functions to Manager.
type Funcs struct {
	ValidateFunc func(env Env, req Request) error
	BuildFunc    func(env Env, req Request) ([]string, error)
	OwnerFunc    func(env Env, obj *model.Object) (cache.Key, error)
}

func (f Funcs) Validate(env Env, req Request) error {
	if f.ValidateFunc == nil {
		return nil
	}
	return f.ValidateFunc(env, req)
}

func (f Funcs) Build(env Env, req Request) ([]string, error) {
	if f.BuildFunc == nil {
		return nil, fmt.Errorf("no statement builder")
	}
	return f.BuildFunc(env, req)
}

func (f Funcs) OwnerKey(env Env, obj *model.Object) (cache.Key, error) {
	if f.OwnerFunc == nil {
		return cache.KeyOf(obj), nil
	}
	return f.OwnerFunc(env, obj)
}

type capability struct {
	kind model.Kind
	op   metaerr.Op
}

// Table is the capability table of a dialect.
type Table struct {
	mu       sync.RWMutex
	managers map[capability]Manager
}

func NewTable() *Table {
	return &Table{managers: make(map[capability]Manager)}
}

// Register installs m for kind and op, replacing any previous manager.
func (t *Table) Register(kind model.Kind, op metaerr.Op, m Manager) *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.managers[capability{kind, op}] = m
	return t
}

func (t *Table) Lookup(kind model.Kind, op metaerr.Op) (Manager, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.managers[capability{kind, op}]
	return m, ok
}

func (t *Table) Supports(kind model.Kind, op metaerr.Op) bool {
	_, ok := t.Lookup(kind, op)
	return ok
}

// Ops lists the operations registered for kind, in create, alter, drop order.
func (t *Table) Ops(kind model.Kind) []metaerr.Op {
	var out []metaerr.Op
	for _, op := range []metaerr.Op{metaerr.OpCreate, metaerr.OpAlter, metaerr.OpDrop} {
		if t.Supports(kind, op) {
			out = append(out, op)
		}
	}
	return out
}

// Env is what managers may consult while validating and building.
type Env struct {
	Graph   *model.Graph
	Dialect string
	Quote   func(string) string
	Literal func(string) string
	Schema  func(model.Kind) model.Schema
}

// Names returns the names from the root down to o.
func (e Env) Names(o *model.Object) ([]string, error) {
	return e.Graph.Names(o)
}

// Ancestor finds the nearest ancestor of o of the given kind.
func (e Env) Ancestor(o *model.Object, kind model.Kind) (*model.Object, error) {
	if parent, ok := e.Graph.Lookup(o.Parent()); ok {
		if a, ok := e.Graph.Ancestor(parent, kind); ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%s %q has no %s ancestor", o.Kind(), o.Name(), kind)
}

// Qualify quotes and dot-joins names.
func (e Env) Qualify(names ...string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = e.Quote(n)
	}
	return strings.Join(quoted, ".")
}

// QuoteList quotes element names in order.
func (e Env) QuoteList(elements []model.Element, withDirection bool) string {
	parts := make([]string, len(elements))
	for i, el := range elements {
		parts[i] = e.Quote(el.Name)
		if withDirection && el.Descending {
			parts[i] += " DESC"
		}
	}
	return strings.Join(parts, ", ")
}
