package cache

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/metacache/internal/events"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/pkg/progress"
)

type fakeLoader struct {
	mu      sync.Mutex
	calls   int
	gate    chan struct{}
	records map[model.Kind][]model.Record
	err     error
	paths   [][]string
}

func (l *fakeLoader) Load(ctx context.Context, path []string, kind model.Kind) ([]model.Record, error) {
	l.mu.Lock()
	l.calls++
	l.paths = append(l.paths, slices.Clone(path))
	gate := l.gate
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return slices.Clone(l.records[kind]), nil
}

func (l *fakeLoader) set(kind model.Kind, recs ...model.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.records == nil {
		l.records = make(map[model.Kind][]model.Record)
	}
	l.records[kind] = recs
}

func (l *fakeLoader) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *fakeLoader) block() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gate = make(chan struct{})
	return l.gate
}

func (l *fakeLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func index(name string, unique bool) model.Record {
	return model.Record{
		Name:     name,
		Attrs:    model.Attributes{model.AttrUnique: unique},
		Elements: []model.Element{{Name: "id", Position: 1}},
	}
}

type fixture struct {
	cache  *Cache
	loader *fakeLoader
	schema *model.Object
	table  *model.Object
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := model.NewGraph("ds-1", "local")
	schema, err := g.Bind(g.Root().ID(), model.KindSchema, model.Record{Name: "public"})
	require.NoError(t, err)
	table, err := g.Bind(schema.ID(), model.KindTable, model.Record{Name: "users"})
	require.NoError(t, err)

	loader := &fakeLoader{}
	c := New(g, loader, nil, nil, Options{Normalize: strings.ToLower, Workers: 2})
	return &fixture{cache: c, loader: loader, schema: schema, table: table}
}

func (f *fixture) subscribe(t *testing.T) *events.Subscription {
	t.Helper()
	sub := f.cache.Bus().Subscribe("ds-1", 64)
	t.Cleanup(func() { f.cache.Bus().Unsubscribe(sub) })
	return sub
}

func drain(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case evt := <-sub.Events():
			out = append(out, evt)
		default:
			return out
		}
	}
}

func types(evts []events.Event) []events.Type {
	out := make([]events.Type, len(evts))
	for i, evt := range evts {
		out[i] = evt.Type
	}
	return out
}

func names(objs []*model.Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Name()
	}
	return out
}

func waitForWaiters(t *testing.T, c *Cache, key Key, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		e, ok := c.lookupEntry(key)
		if !ok {
			return false
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.flight != nil && e.flight.waiters == n
	}, 2*time.Second, time.Millisecond)
}

func TestGetChildrenSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.loader.set(model.KindIndex, index("idx_a", true), index("idx_b", false))
	gate := f.loader.block()

	const callers = 8
	results := make([][]*model.Object, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.cache.GetChildren(context.Background(), f.table, model.KindIndex)
		}()
	}

	waitForWaiters(t, f.cache, Key{Container: f.table.ID(), Kind: model.KindIndex}, callers)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, f.loader.callCount())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, []string{"idx_a", "idx_b"}, names(results[0]))
	assert.Equal(t, []string{"public", "users"}, f.loader.paths[0])
}

func TestGetChildrenServesValidEntry(t *testing.T) {
	f := newFixture(t)
	f.loader.set(model.KindIndex, index("idx_a", true))

	first, err := f.cache.GetChildren(context.Background(), f.table, model.KindIndex)
	require.NoError(t, err)
	second, err := f.cache.GetChildren(context.Background(), f.table, model.KindIndex)
	require.NoError(t, err)

	assert.Equal(t, 1, f.loader.callCount())
	assert.Same(t, first[0], second[0])
	assert.True(t, first[0].Persisted())
}

func TestRefreshMergesAndPreservesIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loader.set(model.KindIndex, index("idx_a", true))

	before, err := f.cache.GetChildren(ctx, f.table, model.KindIndex)
	require.NoError(t, err)
	idxA := before[0]
	token := f.cache.Token(f.table, model.KindIndex)

	sub := f.subscribe(t)
	f.loader.set(model.KindIndex, index("idx_a", true), index("idx_b", false))
	after, err := f.cache.Refresh(ctx, f.table, model.KindIndex)
	require.NoError(t, err)

	require.Len(t, after, 2)
	assert.Same(t, idxA, after[0])
	assert.Equal(t, "idx_b", after[1].Name())

	evts := drain(sub)
	assert.Equal(t, []events.Type{events.ChildAdded, events.ContainerRefreshed}, types(evts))
	assert.Equal(t, "idx_b", evts[0].Name)
	assert.Greater(t, evts[1].Token, token)

	again, err := f.cache.Refresh(ctx, f.table, model.KindIndex)
	require.NoError(t, err)
	assert.Equal(t, after, again)
	assert.Equal(t, []events.Type{events.ContainerRefreshed}, types(drain(sub)))
}

func TestRefreshReportsChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loader.set(model.KindIndex, index("a", false), index("b", false), index("c", false))
	initial, err := f.cache.GetChildren(ctx, f.table, model.KindIndex)
	require.NoError(t, err)
	b := initial[1]

	sub := f.subscribe(t)
	f.loader.set(model.KindIndex, index("C", true), index("a", false))
	got, err := f.cache.Refresh(ctx, f.table, model.KindIndex)
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a"}, names(got))
	assert.True(t, b.Destroyed())
	_, ok := f.cache.Graph().Lookup(b.ID())
	assert.False(t, ok)

	evts := drain(sub)
	assert.Equal(t, []events.Type{
		events.AttributesChanged,
		events.ChildRemoved,
		events.ChildMoved,
		events.ChildMoved,
		events.ContainerRefreshed,
	}, types(evts))
	assert.Equal(t, "c", evts[0].Name)
	assert.Equal(t, "b", evts[1].Name)

	unique, _ := got[0].Attribute(model.AttrUnique)
	assert.Equal(t, true, unique)
}

func TestFetchFailureLeavesEntryUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loader.set(model.KindIndex, index("idx_a", true))
	before, err := f.cache.GetChildren(ctx, f.table, model.KindIndex)
	require.NoError(t, err)
	token := f.cache.Token(f.table, model.KindIndex)

	f.loader.fail(&metaerr.ConnectivityError{Err: errors.New("connection reset by peer")})
	_, err = f.cache.Refresh(ctx, f.table, model.KindIndex)

	var conn *metaerr.ConnectivityError
	require.ErrorAs(t, err, &conn)
	assert.Equal(t, "public.users", conn.Object)
	assert.Equal(t, metaerr.OpRefresh, conn.Op)

	items, valid := f.cache.Peek(f.table, model.KindIndex)
	assert.True(t, valid)
	assert.Equal(t, before, items)
	assert.Equal(t, token, f.cache.Token(f.table, model.KindIndex))
	assert.False(t, before[0].Destroyed())
}

func TestCancelledWaiterAbortsFetch(t *testing.T) {
	f := newFixture(t)
	f.loader.set(model.KindIndex, index("idx_a", true))
	f.loader.block()
	key := Key{Container: f.table.ID(), Kind: model.KindIndex}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.cache.GetChildren(ctx, f.table, model.KindIndex)
		done <- err
	}()
	waitForWaiters(t, f.cache, key, 1)
	cancel()

	err := <-done
	assert.True(t, metaerr.IsCancelled(err))

	require.Eventually(t, func() bool {
		e, _ := f.cache.lookupEntry(key)
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.flight == nil
	}, 2*time.Second, time.Millisecond)

	items, valid := f.cache.Peek(f.table, model.KindIndex)
	assert.Empty(t, items)
	assert.False(t, valid)
	assert.Equal(t, uint64(0), f.cache.Token(f.table, model.KindIndex))
}

func TestCancelledWaiterDoesNotAbortOthers(t *testing.T) {
	f := newFixture(t)
	f.loader.set(model.KindIndex, index("idx_a", true))
	gate := f.loader.block()
	key := Key{Container: f.table.ID(), Kind: model.KindIndex}

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := f.cache.GetChildren(ctx, f.table, model.KindIndex)
		cancelled <- err
	}()
	type result struct {
		items []*model.Object
		err   error
	}
	patient := make(chan result, 1)
	go func() {
		items, err := f.cache.GetChildren(context.Background(), f.table, model.KindIndex)
		patient <- result{items, err}
	}()

	waitForWaiters(t, f.cache, key, 2)
	cancel()
	assert.True(t, metaerr.IsCancelled(<-cancelled))

	close(gate)
	res := <-patient
	require.NoError(t, res.err)
	assert.Equal(t, []string{"idx_a"}, names(res.items))
	assert.Equal(t, 1, f.loader.callCount())
}

func TestInvalidateKeepsDataUntilNextAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loader.set(model.KindIndex, index("idx_a", true))
	_, err := f.cache.GetChildren(ctx, f.table, model.KindIndex)
	require.NoError(t, err)

	sub := f.subscribe(t)
	f.cache.Invalidate(f.table)

	items, valid := f.cache.Peek(f.table, model.KindIndex)
	assert.False(t, valid)
	assert.Equal(t, []string{"idx_a"}, names(items))
	assert.Equal(t, []events.Type{events.ContainerInvalidated}, types(drain(sub)))

	_, err = f.cache.GetChildren(ctx, f.table, model.KindIndex)
	require.NoError(t, err)
	assert.Equal(t, 2, f.loader.callCount())
}

func TestInvalidateDuringFetchKeepsEntryStale(t *testing.T) {
	f := newFixture(t)
	f.loader.set(model.KindIndex, index("idx_a", true))
	gate := f.loader.block()
	key := Key{Container: f.table.ID(), Kind: model.KindIndex}

	done := make(chan error, 1)
	go func() {
		_, err := f.cache.GetChildren(context.Background(), f.table, model.KindIndex)
		done <- err
	}()
	waitForWaiters(t, f.cache, key, 1)
	f.cache.InvalidateKind(f.table, model.KindIndex)
	close(gate)
	require.NoError(t, <-done)

	_, valid := f.cache.Peek(f.table, model.KindIndex)
	assert.False(t, valid)
}

func TestRefreshDoesNotResurrectDroppedChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loader.set(model.KindIndex, index("idx_a", true), index("idx_b", false))
	initial, err := f.cache.GetChildren(ctx, f.table, model.KindIndex)
	require.NoError(t, err)
	idxA := initial[0]

	gate := f.loader.block()
	key := Key{Container: f.table.ID(), Kind: model.KindIndex}
	done := make(chan []*model.Object, 1)
	go func() {
		items, _ := f.cache.Refresh(ctx, f.table, model.KindIndex)
		done <- items
	}()
	waitForWaiters(t, f.cache, key, 1)

	f.cache.RemoveChild(key, idxA)
	created, err := f.cache.Graph().NewTransient(f.table.ID(), model.KindIndex, index("idx_c", false))
	require.NoError(t, err)
	f.cache.AddChild(key, created)
	close(gate)

	got := <-done
	assert.Equal(t, []string{"idx_b", "idx_c"}, names(got))
	assert.True(t, idxA.Destroyed())
	assert.True(t, created.Persisted())
}

func commented(name, comment string) model.Record {
	rec := index(name, true)
	rec.Attrs[model.AttrComment] = comment
	return rec
}

func TestRefreshKeepsAlterConfirmedDuringFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loader.set(model.KindIndex, commented("idx_a", "old"))
	initial, err := f.cache.GetChildren(ctx, f.table, model.KindIndex)
	require.NoError(t, err)
	idxA := initial[0]

	gate := f.loader.block()
	key := Key{Container: f.table.ID(), Kind: model.KindIndex}
	done := make(chan error, 1)
	go func() {
		_, err := f.cache.Refresh(ctx, f.table, model.KindIndex)
		done <- err
	}()
	waitForWaiters(t, f.cache, key, 1)

	f.cache.UpdateChild(key, idxA, model.Attributes{model.AttrComment: "new"})
	sub := f.subscribe(t)
	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, "new", idxA.Attributes().String(model.AttrComment))
	assert.True(t, idxA.Attributes().Bool(model.AttrUnique))
	assert.Equal(t, []events.Type{events.ContainerRefreshed}, types(drain(sub)))
	_, valid := f.cache.Peek(f.table, model.KindIndex)
	assert.True(t, valid)
}

func TestUpdateChildOverlaysChanges(t *testing.T) {
	f := newFixture(t)
	f.loader.set(model.KindIndex, commented("idx_a", "old"))
	items, err := f.cache.GetChildren(context.Background(), f.table, model.KindIndex)
	require.NoError(t, err)
	idxA := items[0]
	token := f.cache.Token(f.table, model.KindIndex)

	sub := f.subscribe(t)
	f.cache.UpdateChild(KeyOf(idxA), idxA, model.Attributes{model.AttrComment: "by email"})

	assert.Equal(t, model.Attributes{model.AttrUnique: true, model.AttrComment: "by email"}, idxA.Attributes())
	evts := drain(sub)
	require.Len(t, evts, 1)
	assert.Equal(t, events.AttributesChanged, evts[0].Type)
	assert.Greater(t, evts[0].Token, token)
}

func TestAddChildReplacingObjectReportsRemoval(t *testing.T) {
	f := newFixture(t)
	f.loader.set(model.KindIndex, index("idx_a", true))
	items, err := f.cache.GetChildren(context.Background(), f.table, model.KindIndex)
	require.NoError(t, err)
	old := items[0]

	created, err := f.cache.Graph().NewTransient(f.table.ID(), model.KindIndex, index("IDX_A", false))
	require.NoError(t, err)
	sub := f.subscribe(t)
	f.cache.AddChild(KeyOf(created), created)

	evts := drain(sub)
	require.Equal(t, []events.Type{events.ChildRemoved, events.ChildAdded}, types(evts))
	assert.Equal(t, old.ID(), evts[0].Object)
	assert.Equal(t, created.ID(), evts[1].Object)
	assert.True(t, old.Destroyed())

	found, ok := f.cache.Lookup(f.table, model.KindIndex, "idx_a")
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestTokenNeverGoesBackwardsAcrossForget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loader.set(model.KindIndex, index("idx_a", true))
	_, err := f.cache.GetChildren(ctx, f.table, model.KindIndex)
	require.NoError(t, err)
	_, err = f.cache.Refresh(ctx, f.table, model.KindIndex)
	require.NoError(t, err)
	before := f.cache.Token(f.table, model.KindIndex)
	require.NotZero(t, before)

	f.cache.Forget(f.table)
	assert.GreaterOrEqual(t, f.cache.Token(f.table, model.KindIndex), before)

	f.cache.InvalidateKind(f.table, model.KindIndex)
	_, valid := f.cache.Peek(f.table, model.KindIndex)
	assert.False(t, valid)

	_, err = f.cache.GetChildren(ctx, f.table, model.KindIndex)
	require.NoError(t, err)
	assert.Greater(t, f.cache.Token(f.table, model.KindIndex), before)
}

func TestAddChildBeforeFirstLoadKeepsHandle(t *testing.T) {
	f := newFixture(t)
	created, err := f.cache.Graph().NewTransient(f.table.ID(), model.KindIndex, index("idx_a", true))
	require.NoError(t, err)

	f.cache.AddChild(KeyOf(created), created)
	_, valid := f.cache.Peek(f.table, model.KindIndex)
	assert.False(t, valid)

	f.loader.set(model.KindIndex, index("IDX_A", true), index("idx_b", false))
	items, err := f.cache.GetChildren(context.Background(), f.table, model.KindIndex)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Same(t, created, items[0])
	assert.True(t, created.Persisted())
}

func TestLookupAndForget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loader.set(model.KindTable, model.Record{Name: "orders"})
	f.loader.set(model.KindIndex, index("idx_a", true))

	tables, err := f.cache.GetChildren(ctx, f.schema, model.KindTable)
	require.NoError(t, err)
	orders := tables[0]
	indexes, err := f.cache.GetChildren(ctx, orders, model.KindIndex)
	require.NoError(t, err)

	found, ok := f.cache.Lookup(f.schema, model.KindTable, "ORDERS")
	require.True(t, ok)
	assert.Same(t, orders, found)

	f.cache.Forget(f.schema)
	assert.True(t, orders.Destroyed())
	assert.True(t, indexes[0].Destroyed())
	_, ok = f.cache.Lookup(f.schema, model.KindTable, "orders")
	assert.False(t, ok)

	_, err = f.cache.GetChildren(ctx, orders, model.KindIndex)
	assert.True(t, metaerr.IsStale(err))
}

func TestRefreshAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loader.set(model.KindTable, model.Record{Name: "orders"}, model.Record{Name: "items"})
	f.loader.set(model.KindIndex, index("idx_a", true))
	tables, err := f.cache.GetChildren(ctx, f.schema, model.KindTable)
	require.NoError(t, err)

	require.NoError(t, f.cache.RefreshAll(ctx, tables, model.KindIndex, progress.Nop{}))
	assert.Equal(t, 3, f.loader.callCount())
	for _, table := range tables {
		items, valid := f.cache.Peek(table, model.KindIndex)
		assert.True(t, valid)
		assert.Equal(t, []string{"idx_a"}, names(items))
	}

	f.loader.fail(errors.New("relation does not exist"))
	assert.Error(t, f.cache.RefreshAll(ctx, tables, model.KindIndex, nil))
}

func TestCancelledCallerStartsNoFetch(t *testing.T) {
	f := newFixture(t)
	f.loader.set(model.KindIndex, index("idx_a", false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.cache.GetChildren(ctx, f.table, model.KindIndex)
	assert.True(t, metaerr.IsCancelled(err))
	_, err = f.cache.Refresh(ctx, f.table, model.KindIndex)
	assert.True(t, metaerr.IsCancelled(err))
	assert.Zero(t, f.loader.callCount())

	items, err := f.cache.GetChildren(context.Background(), f.table, model.KindIndex)
	require.NoError(t, err)
	assert.Equal(t, []string{"idx_a"}, names(items))

	items, err = f.cache.GetChildren(ctx, f.table, model.KindIndex)
	require.NoError(t, err, "a valid entry is served without suspending")
	assert.Len(t, items, 1)
}
