// Package cache owns the lazy-load protocol for the object graph: one entry
// per (container, kind) pair, a single outstanding fetch per entry, snapshot
// diffing on refresh, and the add/remove hooks used by structural managers.
//
// Lock order: an entry lock may be held while taking Cache.mu, never the
// reverse.
package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kadirbelkuyu/metacache/internal/events"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/pkg/logger"
	"github.com/kadirbelkuyu/metacache/pkg/progress"
)

// Loader fetches the children of one kind under the container at path.
type Loader interface {
	Load(ctx context.Context, path []string, kind model.Kind) ([]model.Record, error)
}

// Key identifies a cache entry.
type Key struct {
	Container model.ID
	Kind      model.Kind
}

// KeyOf is the entry an object lives in by default: its parent's children of
// its own kind.
func KeyOf(o *model.Object) Key {
	return Key{Container: o.Parent(), Kind: o.Kind()}
}

type Options struct {
	// FetchTimeout bounds a single introspection; zero means no limit.
	FetchTimeout time.Duration
	// Workers bounds RefreshAll parallelism.
	Workers int
	// Normalize folds names into identity keys. Defaults to identity.
	Normalize func(string) string
}

type Cache struct {
	graph     *model.Graph
	loader    Loader
	bus       *events.Bus
	logger    *logger.Logger
	timeout   time.Duration
	workers   int
	normalize func(string) string

	// tokens is shared by every entry so that a token never goes backwards
	// for a key, even across Forget.
	tokens atomic.Uint64

	mu      sync.Mutex
	entries map[Key]*entry
}

func New(graph *model.Graph, loader Loader, bus *events.Bus, log *logger.Logger, opts Options) *Cache {
	normalize := opts.Normalize
	if normalize == nil {
		normalize = func(s string) string { return s }
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	if bus == nil {
		bus = events.NewBus(log)
	}
	return &Cache{
		graph:     graph,
		loader:    loader,
		bus:       bus,
		logger:    logger.OrDiscard(log),
		timeout:   opts.FetchTimeout,
		workers:   workers,
		normalize: normalize,
		entries:   make(map[Key]*entry),
	}
}

func (c *Cache) Graph() *model.Graph { return c.graph }

func (c *Cache) Bus() *events.Bus { return c.bus }

func (c *Cache) entry(key Key) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, token: c.tokens.Load()}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) nextToken() uint64 {
	return c.tokens.Add(1)
}

func (c *Cache) lookupEntry(key Key) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) describe(container *model.Object) string {
	names, err := c.graph.Names(container)
	if err != nil || len(names) == 0 {
		return container.Name()
	}
	return strings.Join(names, ".")
}

// GetChildren returns the cached children when the entry is valid. Otherwise
// it joins the outstanding fetch for the entry or starts one; concurrent
// callers never trigger more than one introspection.
func (c *Cache) GetChildren(ctx context.Context, container *model.Object, kind model.Kind) ([]*model.Object, error) {
	if container.Destroyed() {
		return nil, &metaerr.StaleObjectError{Object: container.Name(), Op: metaerr.OpFetch}
	}
	e := c.entry(Key{Container: container.ID(), Kind: kind})

	e.mu.Lock()
	if e.valid {
		items := slices.Clone(e.items)
		e.mu.Unlock()
		return items, nil
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return nil, &metaerr.CancelledError{Object: c.describe(container), Op: metaerr.OpFetch, Err: err}
	}
	f := e.flight
	if f == nil {
		f = c.startFlight(ctx, e, container, metaerr.OpFetch)
	}
	f.waiters++
	e.mu.Unlock()

	return c.await(ctx, e, f, container)
}

// Refresh forces re-introspection. A fetch that was already running when
// Refresh was called may predate a server change, so Refresh waits for it and
// then joins or starts a newer one.
func (c *Cache) Refresh(ctx context.Context, container *model.Object, kind model.Kind) ([]*model.Object, error) {
	if container.Destroyed() {
		return nil, &metaerr.StaleObjectError{Object: container.Name(), Op: metaerr.OpRefresh}
	}
	if err := ctx.Err(); err != nil {
		return nil, &metaerr.CancelledError{Object: c.describe(container), Op: metaerr.OpRefresh, Err: err}
	}
	e := c.entry(Key{Container: container.ID(), Kind: kind})

	e.mu.Lock()
	need := e.flights + 1
	for {
		f := e.flight
		if f == nil {
			f = c.startFlight(ctx, e, container, metaerr.OpRefresh)
		}
		if f.seq >= need {
			f.waiters++
			e.mu.Unlock()
			return c.await(ctx, e, f, container)
		}

		e.mu.Unlock()
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, &metaerr.CancelledError{Object: c.describe(container), Op: metaerr.OpRefresh, Err: ctx.Err()}
		}
		e.mu.Lock()
	}
}

// RefreshAll refreshes kind under every container with bounded parallelism.
// The first failure cancels the remaining refreshes.
func (c *Cache) RefreshAll(ctx context.Context, containers []*model.Object, kind model.Kind, monitor progress.Monitor) error {
	monitor = progress.OrNop(monitor)
	monitor.Begin(fmt.Sprintf("Refreshing %s", kind), len(containers))
	defer monitor.Done()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, container := range containers {
		g.Go(func() error {
			if _, err := c.Refresh(gctx, container, kind); err != nil {
				return err
			}
			monitor.Worked(1)
			return nil
		})
	}
	return g.Wait()
}

// Invalidate marks every entry of container stale. Data stays in place for
// Peek until the next GetChildren forces a fetch.
func (c *Cache) Invalidate(container *model.Object) {
	for _, e := range c.entriesOf(container.ID()) {
		c.invalidate(e, container)
	}
}

// InvalidateKind marks one entry stale.
func (c *Cache) InvalidateKind(container *model.Object, kind model.Kind) {
	if e, ok := c.lookupEntry(Key{Container: container.ID(), Kind: kind}); ok {
		c.invalidate(e, container)
	}
}

func (c *Cache) invalidate(e *entry, container *model.Object) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.valid = false
	e.staleSeq = e.flights
	c.bus.Publish(events.Event{
		Type:       events.ContainerInvalidated,
		DataSource: container.DataSource(),
		Container:  container.ID(),
		Kind:       e.key.Kind,
		Token:      e.token,
	})
}

func (c *Cache) entriesOf(container model.ID) []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*entry
	for key, e := range c.entries {
		if key.Container == container {
			out = append(out, e)
		}
	}
	return out
}

// Peek returns whatever the entry holds without fetching, and whether it is
// currently valid.
func (c *Cache) Peek(container *model.Object, kind model.Kind) ([]*model.Object, bool) {
	e, ok := c.lookupEntry(Key{Container: container.ID(), Kind: kind})
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.items), e.valid
}

// Lookup finds a cached child by name without I/O.
func (c *Cache) Lookup(container *model.Object, kind model.Kind, name string) (*model.Object, bool) {
	e, ok := c.lookupEntry(Key{Container: container.ID(), Kind: kind})
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, obj, found := e.find(c.normalize(name), c.normalize)
	return obj, found
}

// Token is the entry's validity token. It increases on every applied
// snapshot and every manager mutation and never decreases for a key.
func (c *Cache) Token(container *model.Object, kind model.Kind) uint64 {
	e, ok := c.lookupEntry(Key{Container: container.ID(), Kind: kind})
	if !ok {
		return c.tokens.Load()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

// Forget drops every entry under container and, recursively, under its
// cached descendants, destroying their objects.
func (c *Cache) Forget(container *model.Object) {
	c.forget(container.ID())
}

func (c *Cache) forget(container model.ID) {
	c.mu.Lock()
	var doomed []*entry
	for key, e := range c.entries {
		if key.Container == container {
			doomed = append(doomed, e)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for _, e := range doomed {
		e.mu.Lock()
		items := e.items
		e.items = nil
		e.valid = false
		if e.flight != nil {
			e.flight.cancel()
			e.flight = nil
		}
		e.mu.Unlock()
		for _, obj := range items {
			c.destroy(obj)
		}
	}
}

func (c *Cache) destroy(obj *model.Object) {
	obj.MarkDestroyed()
	c.forget(obj.ID())
	c.graph.Forget(obj.ID())
}

// AddChild records an object whose creation the server confirmed. If the
// entry has never been loaded the object is kept and merged with the first
// fetch, so the caller's handle stays the live one.
func (c *Cache) AddChild(key Key, obj *model.Object) {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	name := c.normalize(obj.Name())
	var replaced *model.Object
	if i, old, ok := e.find(name, c.normalize); ok {
		if old == obj {
			obj.MarkPersisted()
			return
		}
		e.items = slices.Delete(e.items, i, i+1)
		c.destroy(old)
		replaced = old
	}
	obj.MarkPersisted()
	e.items = append(e.items, obj)
	e.token = c.nextToken()
	e.journal(name, obj)

	c.logger.WithFields(logrus.Fields{
		"container": key.Container,
		"kind":      string(key.Kind),
		"object":    obj.Name(),
	}).Debug("child added")

	var evts []events.Event
	if replaced != nil {
		evts = append(evts, childEvent(events.ChildRemoved, key, replaced, e.token))
	}
	c.bus.Publish(append(evts, childEvent(events.ChildAdded, key, obj, e.token))...)
}

// RemoveChild records a drop the server confirmed. The object and everything
// cached beneath it is destroyed.
func (c *Cache) RemoveChild(key Key, obj *model.Object) {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	name := c.normalize(obj.Name())
	if i, cur, ok := e.find(name, c.normalize); ok && cur == obj {
		e.items = slices.Delete(e.items, i, i+1)
	}
	e.journal(name, nil)
	e.token = c.nextToken()
	c.destroy(obj)

	c.logger.WithFields(logrus.Fields{
		"container": key.Container,
		"kind":      string(key.Kind),
		"object":    obj.Name(),
	}).Debug("child removed")

	c.bus.Publish(childEvent(events.ChildRemoved, key, obj, e.token))
}

// UpdateChild overlays attribute changes the server accepted through an
// alter. A refresh already in flight keeps them over the rows it read.
func (c *Cache) UpdateChild(key Key, obj *model.Object, changes model.Attributes) {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	obj.UpdateAttributes(changes)
	e.journalUpdate(c.normalize(obj.Name()), changes)
	e.token = c.nextToken()
	c.bus.Publish(childEvent(events.AttributesChanged, key, obj, e.token))
}

func childEvent(t events.Type, key Key, obj *model.Object, token uint64) events.Event {
	return events.Event{
		Type:       t,
		DataSource: obj.DataSource(),
		Container:  key.Container,
		Kind:       key.Kind,
		Object:     obj.ID(),
		Name:       obj.Name(),
		Token:      token,
	}
}

// fetchError gives a loader failure the cache's identity and operation.
func fetchError(err error, object string, op metaerr.Op) error {
	switch {
	case errors.Is(err, context.Canceled):
		var cancelled *metaerr.CancelledError
		if !errors.As(err, &cancelled) {
			return &metaerr.CancelledError{Object: object, Op: op, Err: err}
		}
	case errors.Is(err, context.DeadlineExceeded):
		var conn *metaerr.ConnectivityError
		if !errors.As(err, &conn) {
			return &metaerr.ConnectivityError{Object: object, Op: op, Err: err}
		}
	}
	return metaerr.WithObject(err, object, op)
}
