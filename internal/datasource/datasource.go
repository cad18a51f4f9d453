// Package datasource is the root of one connected database: it owns the
// object graph and wires the cache, the change bus and the structural
// managers of its dialect together.
package datasource

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/metacache/internal/cache"
	"github.com/kadirbelkuyu/metacache/internal/dialect"
	"github.com/kadirbelkuyu/metacache/internal/events"
	"github.com/kadirbelkuyu/metacache/internal/introspect"
	"github.com/kadirbelkuyu/metacache/internal/manager"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/internal/session"
	"github.com/kadirbelkuyu/metacache/pkg/logger"
	"github.com/kadirbelkuyu/metacache/pkg/progress"
)

// Reader is the read-only view presentation layers get. It never exposes
// mutation.
type Reader interface {
	Root() *model.Object
	ChildKinds(parent *model.Object) []model.Kind
	ListChildren(ctx context.Context, parent *model.Object, kind model.Kind) ([]*model.Object, error)
	GetAttribute(o *model.Object, name string) (model.Value, bool)
	Schema(kind model.Kind) model.Schema
	QualifiedName(o *model.Object) string
	Subscribe(buffer int) *events.Subscription
	Unsubscribe(sub *events.Subscription)
}

type Options struct {
	// ID defaults to a random UUID.
	ID           string
	Name         string
	FetchTimeout time.Duration
	Workers      int
	EventBuffer  int
	Logger       *logger.Logger
}

type DataSource struct {
	id          string
	name        string
	dialect     dialect.Dialect
	graph       *model.Graph
	cache       *cache.Cache
	bus         *events.Bus
	exec        *manager.Executor
	eventBuffer int
	logger      *logger.Logger
}

var _ Reader = (*DataSource)(nil)

func New(d dialect.Dialect, provider session.Provider, opts Options) *DataSource {
	log := logger.OrDiscard(opts.Logger)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	name := opts.Name
	if name == "" {
		name = d.Name()
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}

	graph := model.NewGraph(id, name)
	bus := events.NewBus(log)
	c := cache.New(graph, introspect.NewIntrospector(provider, d, log), bus, log, cache.Options{
		FetchTimeout: opts.FetchTimeout,
		Workers:      opts.Workers,
		Normalize:    d.Normalize,
	})
	exec := manager.NewExecutor(manager.ExecutorConfig{
		Table:         d.Managers(),
		Env:           dialect.Env(d, graph),
		Cache:         c,
		Provider:      provider,
		Transactional: d.TransactionalDDL(),
		Logger:        log,
	})

	log.WithFields(logrus.Fields{
		"datasource": name,
		"id":         id,
		"dialect":    d.Name(),
	}).Debug("data source opened")

	return &DataSource{
		id:          id,
		name:        name,
		dialect:     d,
		graph:       graph,
		cache:       c,
		bus:         bus,
		exec:        exec,
		eventBuffer: buffer,
		logger:      log,
	}
}

func (ds *DataSource) ID() string                  { return ds.id }
func (ds *DataSource) Name() string                { return ds.name }
func (ds *DataSource) Dialect() dialect.Dialect    { return ds.dialect }
func (ds *DataSource) Root() *model.Object         { return ds.graph.Root() }
func (ds *DataSource) Graph() *model.Graph         { return ds.graph }
func (ds *DataSource) Cache() *cache.Cache         { return ds.cache }
func (ds *DataSource) Executor() *manager.Executor { return ds.exec }

func (ds *DataSource) ChildKinds(parent *model.Object) []model.Kind {
	return ds.dialect.ChildKinds(parent.Kind())
}

func (ds *DataSource) ListChildren(ctx context.Context, parent *model.Object, kind model.Kind) ([]*model.Object, error) {
	return ds.cache.GetChildren(ctx, parent, kind)
}

func (ds *DataSource) Refresh(ctx context.Context, parent *model.Object, kind model.Kind) ([]*model.Object, error) {
	return ds.cache.Refresh(ctx, parent, kind)
}

func (ds *DataSource) RefreshAll(ctx context.Context, parents []*model.Object, kind model.Kind, monitor progress.Monitor) error {
	return ds.cache.RefreshAll(ctx, parents, kind, monitor)
}

func (ds *DataSource) Invalidate(parent *model.Object) {
	ds.cache.Invalidate(parent)
}

func (ds *DataSource) GetAttribute(o *model.Object, name string) (model.Value, bool) {
	return o.Attribute(name)
}

func (ds *DataSource) Schema(kind model.Kind) model.Schema {
	return ds.dialect.Schema(kind)
}

// QualifiedName falls back to the bare name when the object is no longer
// attached to the graph.
func (ds *DataSource) QualifiedName(o *model.Object) string {
	name, err := ds.dialect.QualifiedName(ds.graph, o)
	if err != nil {
		return o.Name()
	}
	return name
}

// Subscribe registers an observer of this data source's changes. A
// non-positive buffer uses the configured default.
func (ds *DataSource) Subscribe(buffer int) *events.Subscription {
	if buffer <= 0 {
		buffer = ds.eventBuffer
	}
	return ds.bus.Subscribe(ds.id, buffer)
}

func (ds *DataSource) Unsubscribe(sub *events.Subscription) {
	ds.bus.Unsubscribe(sub)
}

// Supports reports whether the dialect can run op on objects of kind.
func (ds *DataSource) Supports(kind model.Kind, op metaerr.Op) bool {
	return ds.dialect.Managers().Supports(kind, op)
}

// NewObject constructs a transient object under parent, ready for Create.
func (ds *DataSource) NewObject(parent *model.Object, kind model.Kind, name string, attrs model.Attributes, elements ...model.Element) (*model.Object, error) {
	if parent.Destroyed() {
		return nil, &metaerr.StaleObjectError{Object: parent.Name(), Op: metaerr.OpCreate}
	}
	if !slices.Contains(ds.ChildKinds(parent), kind) {
		return nil, &metaerr.ValidationError{
			Object:  name,
			Op:      metaerr.OpCreate,
			Message: fmt.Sprintf("a %s cannot contain a %s", parent.Kind(), kind),
		}
	}
	for i := range elements {
		if elements[i].Position == 0 {
			elements[i].Position = i + 1
		}
	}
	return ds.graph.NewTransient(parent.ID(), kind, model.Record{Name: name, Attrs: attrs, Elements: elements})
}

// Discard releases a transient object that will not be created.
func (ds *DataSource) Discard(obj *model.Object) {
	if obj.State() == model.StateTransient {
		ds.graph.Forget(obj.ID())
	}
}

func (ds *DataSource) Create(ctx context.Context, obj *model.Object) error {
	return ds.exec.Create(ctx, obj)
}

func (ds *DataSource) Alter(ctx context.Context, obj *model.Object, changes model.Attributes) error {
	return ds.exec.Alter(ctx, obj, changes)
}

func (ds *DataSource) Drop(ctx context.Context, obj *model.Object) error {
	return ds.exec.Drop(ctx, obj)
}

// Script previews the statements of a request.
func (ds *DataSource) Script(op metaerr.Op, obj *model.Object, changes model.Attributes) ([]string, error) {
	return ds.exec.Script(op, obj, changes)
}
