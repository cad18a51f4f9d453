package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/metacache/internal/cache"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/internal/session"
	"github.com/kadirbelkuyu/metacache/pkg/logger"
)

type ExecutorConfig struct {
	Table         *Table
	Env           Env
	Cache         *cache.Cache
	Provider      session.Provider
	Transactional bool
	Logger        *logger.Logger
}

// Executor runs create, alter and drop requests. An object only changes
// state after the server confirmed every statement; on any failure the object
// and the cache are left as they were.
type Executor struct {
	table         *Table
	env           Env
	cache         *cache.Cache
	provider      session.Provider
	transactional bool
	logger        *logger.Logger
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	table := cfg.Table
	if table == nil {
		table = NewTable()
	}
	return &Executor{
		table:         table,
		env:           cfg.Env,
		cache:         cfg.Cache,
		provider:      cfg.Provider,
		transactional: cfg.Transactional,
		logger:        logger.OrDiscard(cfg.Logger),
	}
}

func (x *Executor) Table() *Table { return x.table }

// Create persists a transient object and adds it to its owner's cache entry.
func (x *Executor) Create(ctx context.Context, obj *model.Object) error {
	req := Request{Op: metaerr.OpCreate, Object: obj, Staged: obj}
	m, stmts, err := x.prepare(req)
	if err != nil {
		return err
	}
	key, err := x.owner(m, req)
	if err != nil {
		return err
	}
	if err := x.execute(ctx, req, stmts); err != nil {
		return err
	}
	x.cache.AddChild(key, obj)
	return nil
}

// Alter applies changes to a persisted object. The changes are staged on a
// copy; obj only sees them once the server accepted the statements.
func (x *Executor) Alter(ctx context.Context, obj *model.Object, changes model.Attributes) error {
	req := x.alterRequest(obj, changes)
	if len(req.Changes) == 0 && obj.Persisted() {
		return nil
	}
	m, stmts, err := x.prepare(req)
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		return nil
	}
	key, err := x.owner(m, req)
	if err != nil {
		return err
	}
	if err := x.execute(ctx, req, stmts); err != nil {
		return err
	}
	x.cache.UpdateChild(key, obj, req.Changes)
	return nil
}

// Drop removes a persisted object from the server and the cache.
func (x *Executor) Drop(ctx context.Context, obj *model.Object) error {
	req := Request{Op: metaerr.OpDrop, Object: obj, Staged: obj}
	m, stmts, err := x.prepare(req)
	if err != nil {
		return err
	}
	key, err := x.owner(m, req)
	if err != nil {
		return err
	}
	if err := x.execute(ctx, req, stmts); err != nil {
		return err
	}
	x.cache.RemoveChild(key, obj)
	return nil
}

// Script returns the statements a request would run without running them.
func (x *Executor) Script(op metaerr.Op, obj *model.Object, changes model.Attributes) ([]string, error) {
	req := Request{Op: op, Object: obj, Staged: obj}
	if op == metaerr.OpAlter {
		req = x.alterRequest(obj, changes)
	}
	_, stmts, err := x.prepare(req)
	return stmts, err
}

func (x *Executor) alterRequest(obj *model.Object, changes model.Attributes) Request {
	current := obj.Attributes()
	effective := model.Attributes{}
	for name, v := range changes {
		if old, ok := current[name]; !ok || old != v {
			effective[name] = v
		}
	}
	staged := obj.Clone()
	staged.SetAttributes(current.Merge(effective))
	return Request{Op: metaerr.OpAlter, Object: obj, Staged: staged, Changes: effective}
}

func (x *Executor) describe(o *model.Object) string {
	names, err := x.env.Names(o)
	if err != nil || len(names) == 0 {
		return o.Name()
	}
	return strings.Join(names, ".")
}

// prepare runs every check that needs no I/O and builds the statements.
func (x *Executor) prepare(req Request) (Manager, []string, error) {
	obj := req.Object
	object := x.describe(obj)

	if obj.Destroyed() {
		return nil, nil, &metaerr.StaleObjectError{Object: object, Op: req.Op}
	}
	m, ok := x.table.Lookup(obj.Kind(), req.Op)
	if !ok {
		return nil, nil, &metaerr.UnsupportedError{Dialect: x.env.Dialect, Kind: string(obj.Kind()), Op: req.Op}
	}

	switch req.Op {
	case metaerr.OpCreate:
		if obj.State() != model.StateTransient {
			return nil, nil, &metaerr.ValidationError{Object: object, Op: req.Op, Message: "object already exists"}
		}
	default:
		if !obj.Persisted() {
			return nil, nil, &metaerr.ValidationError{Object: object, Op: req.Op, Message: "object has not been created"}
		}
	}
	if parent, ok := x.env.Graph.Lookup(obj.Parent()); !ok || parent.Destroyed() {
		return nil, nil, &metaerr.StaleObjectError{Object: object, Op: req.Op}
	}

	if req.Op == metaerr.OpAlter {
		if err := x.checkChanges(obj.Kind(), req.Changes); err != nil {
			return nil, nil, asValidation(err, object, req.Op)
		}
	}
	if err := m.Validate(x.env, req); err != nil {
		return nil, nil, asValidation(err, object, req.Op)
	}

	stmts, err := m.Build(x.env, req)
	if err != nil {
		return nil, nil, &metaerr.BuildError{Object: object, Op: req.Op, Err: err}
	}
	if len(stmts) == 0 && req.Op != metaerr.OpAlter {
		return nil, nil, &metaerr.BuildError{Object: object, Op: req.Op, Err: errors.New("no statements produced")}
	}
	return m, stmts, nil
}

func (x *Executor) checkChanges(kind model.Kind, changes model.Attributes) error {
	if x.env.Schema == nil {
		return nil
	}
	schema := x.env.Schema(kind)
	for _, name := range changes.Keys() {
		spec, ok := schema.Find(name)
		if !ok {
			return Invalid(name, "unknown attribute of %s", kind)
		}
		if !spec.Mutable {
			return Invalid(name, "attribute cannot be altered")
		}
		if v := changes[name]; v != nil && !Conforms(spec.Type, v) {
			return Invalid(name, "expected a %s value, got %T", spec.Type, v)
		}
	}
	return nil
}

func (x *Executor) owner(m Manager, req Request) (cache.Key, error) {
	o, ok := m.(Owner)
	if !ok {
		return cache.KeyOf(req.Object), nil
	}
	key, err := o.OwnerKey(x.env, req.Object)
	if err != nil {
		return cache.Key{}, &metaerr.BuildError{Object: x.describe(req.Object), Op: req.Op, Err: err}
	}
	return key, nil
}

func (x *Executor) execute(ctx context.Context, req Request, stmts []string) error {
	object := x.describe(req.Object)
	log := x.logger.WithFields(logrus.Fields{
		"object": object,
		"kind":   string(req.Object.Kind()),
		"op":     string(req.Op),
	})

	err := session.With(ctx, x.provider, func(s session.Session) error {
		_, err := s.RunBatch(ctx, stmts, x.transactional)
		return err
	})
	if err != nil {
		err = metaerr.WithObject(session.Classify(err), object, req.Op)
		log.WithError(err).Warn("statement failed")
		return err
	}

	log.WithField("statements", len(stmts)).Info("structural change applied")
	return nil
}

// Invalid builds a validation failure for one field. The executor fills in
// the object and operation.
func Invalid(field, format string, args ...any) error {
	return &metaerr.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func asValidation(err error, object string, op metaerr.Op) error {
	var v *metaerr.ValidationError
	if errors.As(err, &v) {
		c := *v
		c.Object, c.Op = object, op
		return &c
	}
	return &metaerr.ValidationError{Object: object, Op: op, Message: err.Error()}
}

// Conforms reports whether v is a valid value for an attribute of type t.
func Conforms(t model.AttrType, v model.Value) bool {
	switch v.(type) {
	case string:
		return t == model.TypeString
	case int64:
		return t == model.TypeInt
	case bool:
		return t == model.TypeBool
	case float64:
		return t == model.TypeFloat
	}
	return false
}

// Changed reports whether name is among the staged changes of req.
func (r Request) Changed(name string) bool {
	_, ok := r.Changes[name]
	return ok
}

// ChangedNames lists the staged attribute names in sorted order.
func (r Request) ChangedNames() []string {
	return r.Changes.Keys()
}
