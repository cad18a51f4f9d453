package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/metacache/internal/events"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

type entry struct {
	key Key

	mu      sync.Mutex
	items   []*model.Object
	valid   bool
	token   uint64
	flight  *flight
	flights uint64
	// staleSeq is the newest flight sequence that an invalidation happened
	// during or after; such a flight cannot make the entry valid.
	staleSeq uint64
}

// journal records mutations made while a flight is outstanding. The fetched
// rows may predate them.
func (e *entry) journal(name string, obj *model.Object) {
	f := e.flight
	if f == nil {
		return
	}
	if obj != nil {
		f.added[name] = obj
		delete(f.removed, name)
		delete(f.updated, name)
		return
	}
	f.removed[name] = struct{}{}
	delete(f.added, name)
	delete(f.updated, name)
}

// journalUpdate records attribute changes confirmed while a flight is
// outstanding. They win over the fetched record for the same name.
func (e *entry) journalUpdate(name string, changes model.Attributes) {
	f := e.flight
	if f == nil {
		return
	}
	f.updated[name] = f.updated[name].Merge(changes)
}

func (e *entry) find(name string, normalize func(string) string) (int, *model.Object, bool) {
	for i, obj := range e.items {
		if normalize(obj.Name()) == name {
			return i, obj, true
		}
	}
	return -1, nil, false
}

type flight struct {
	seq     uint64
	op      metaerr.Op
	done    chan struct{}
	cancel  context.CancelFunc
	waiters int

	added   map[string]*model.Object
	removed map[string]struct{}
	updated map[string]model.Attributes

	items []*model.Object
	err   error
}

// startFlight must be called with e.mu held. The fetch runs on a context
// detached from the leader so that one caller leaving does not abort the
// others; it is cancelled once no caller is waiting.
func (c *Cache) startFlight(ctx context.Context, e *entry, container *model.Object, op metaerr.Op) *flight {
	e.flights++
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if c.timeout > 0 {
		var cancelTimeout context.CancelFunc
		fctx, cancelTimeout = context.WithTimeout(fctx, c.timeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}
	f := &flight{
		seq:     e.flights,
		op:      op,
		done:    make(chan struct{}),
		cancel:  cancel,
		added:   make(map[string]*model.Object),
		removed: make(map[string]struct{}),
		updated: make(map[string]model.Attributes),
	}
	e.flight = f

	go c.run(fctx, e, f, container)
	return f
}

func (c *Cache) await(ctx context.Context, e *entry, f *flight, container *model.Object) ([]*model.Object, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return slices.Clone(f.items), nil
	case <-ctx.Done():
		e.mu.Lock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
			if e.flight == f {
				e.flight = nil
			}
		}
		e.mu.Unlock()
		return nil, &metaerr.CancelledError{Object: c.describe(container), Op: f.op, Err: ctx.Err()}
	}
}

func (c *Cache) run(ctx context.Context, e *entry, f *flight, container *model.Object) {
	defer f.cancel()

	object := c.describe(container)
	log := c.logger.WithFields(logrus.Fields{
		"object": object,
		"kind":   string(e.key.Kind),
		"op":     string(f.op),
	})
	start := time.Now()

	var (
		records []model.Record
		err     error
	)
	path, err := c.graph.Names(container)
	if err == nil {
		records, err = c.loader.Load(ctx, path, e.key.Kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer close(f.done)

	if e.flight == f {
		e.flight = nil
	}

	if err == nil && container.Destroyed() {
		err = &metaerr.StaleObjectError{Object: object, Op: f.op}
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		f.err = fetchError(err, object, f.op)
		log.WithError(f.err).Warn("fetch failed, entry unchanged")
		return
	}

	evts := c.apply(e, container, records, f)
	e.valid = f.seq > e.staleSeq
	f.items = slices.Clone(e.items)

	log.WithFields(logrus.Fields{
		"children": len(e.items),
		"changes":  len(evts) - 1,
		"elapsed":  time.Since(start).String(),
	}).Debug("entry refreshed")

	c.bus.Publish(evts...)
}

// apply diffs records against the entry and swaps in the new snapshot. Objects
// present in both keep their identity. Must be called with e.mu held.
func (c *Cache) apply(e *entry, container *model.Object, records []model.Record, f *flight) []events.Event {
	existing := make(map[string]*model.Object, len(e.items))
	for _, obj := range e.items {
		existing[c.normalize(obj.Name())] = obj
	}

	event := func(t events.Type, obj *model.Object) events.Event {
		return events.Event{
			Type:       t,
			DataSource: container.DataSource(),
			Container:  container.ID(),
			Kind:       e.key.Kind,
			Object:     obj.ID(),
			Name:       obj.Name(),
		}
	}

	var (
		evts    []events.Event
		next    = make([]*model.Object, 0, len(records))
		matched = make(map[*model.Object]bool, len(e.items))
		seen    = make(map[string]bool, len(records))
	)
	for _, rec := range records {
		name := c.normalize(rec.Name)
		if _, gone := f.removed[name]; gone || seen[name] {
			continue
		}
		seen[name] = true
		if changes, ok := f.updated[name]; ok {
			rec.Attrs = rec.Attrs.Merge(changes)
		}
		if obj, ok := existing[name]; ok {
			matched[obj] = true
			if obj.Merge(rec) {
				evts = append(evts, event(events.AttributesChanged, obj))
			}
			next = append(next, obj)
			continue
		}
		obj, err := c.graph.Bind(container.ID(), e.key.Kind, rec)
		if err != nil {
			c.logger.WithError(err).Warn("dropping fetched record")
			continue
		}
		evts = append(evts, event(events.ChildAdded, obj))
		next = append(next, obj)
	}

	for _, obj := range e.items {
		if matched[obj] {
			continue
		}
		if _, keep := f.added[c.normalize(obj.Name())]; keep {
			next = append(next, obj)
			matched[obj] = true
			continue
		}
		evts = append(evts, event(events.ChildRemoved, obj))
		c.destroy(obj)
	}

	before := make([]*model.Object, 0, len(matched))
	for _, obj := range e.items {
		if matched[obj] {
			before = append(before, obj)
		}
	}
	after := make([]*model.Object, 0, len(matched))
	for _, obj := range next {
		if matched[obj] {
			after = append(after, obj)
		}
	}
	for i := range after {
		if before[i] != after[i] {
			evts = append(evts, event(events.ChildMoved, after[i]))
		}
	}

	e.items = next
	e.token = c.nextToken()
	for i := range evts {
		evts[i].Token = e.token
	}
	return append(evts, events.Event{
		Type:       events.ContainerRefreshed,
		DataSource: container.DataSource(),
		Container:  container.ID(),
		Kind:       e.key.Kind,
		Token:      e.token,
	})
}
