package datasource

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/kadirbelkuyu/metacache/internal/dialect/sqlite"
	"github.com/kadirbelkuyu/metacache/internal/events"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/internal/session"
)

func openCatalog(t *testing.T) (*DataSource, *sql.DB) {
	t.Helper()
	db, err := sql.Open(sqlite.DefaultDriver, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, name TEXT)`)
	require.NoError(t, err)

	ds := New(sqlite.New(), session.NewSQLProvider(db, nil), Options{Name: "catalog"})
	return ds, db
}

func child(t *testing.T, ds *DataSource, parent *model.Object, kind model.Kind, name string) *model.Object {
	t.Helper()
	_, err := ds.ListChildren(context.Background(), parent, kind)
	require.NoError(t, err)
	o, ok := ds.Cache().Lookup(parent, kind, name)
	require.True(t, ok, "%s %s not found", kind, name)
	return o
}

func indexExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&n))
	return n == 1
}

func TestIndexLifecycle(t *testing.T) {
	ds, db := openCatalog(t)
	ctx := context.Background()
	sub := ds.Subscribe(0)
	defer ds.Unsubscribe(sub)

	main := child(t, ds, ds.Root(), model.KindSchema, "main")
	users := child(t, ds, main, model.KindTable, "USERS")

	indexes, err := ds.ListChildren(ctx, users, model.KindIndex)
	require.NoError(t, err)
	assert.Empty(t, indexes)

	idx, err := ds.NewObject(users, model.KindIndex, "users_email",
		model.Attributes{model.AttrUnique: true},
		model.Element{Name: "email"})
	require.NoError(t, err)
	assert.Equal(t, model.StateTransient, idx.State())

	require.NoError(t, ds.Create(ctx, idx))
	assert.True(t, idx.Persisted())
	assert.True(t, indexExists(t, db, "users_email"))

	indexes, err = ds.ListChildren(ctx, users, model.KindIndex)
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Same(t, idx, indexes[0])

	indexes, err = ds.Refresh(ctx, users, model.KindIndex)
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Same(t, idx, indexes[0])
	assert.Equal(t, "c", idx.Attributes().String(model.AttrIndexType))

	ref, err := ds.Ref(idx)
	require.NoError(t, err)
	text, err := ref.MarshalText()
	require.NoError(t, err)
	var parsed model.Ref
	require.NoError(t, parsed.UnmarshalText(text))
	resolved, err := ds.Resolve(ctx, parsed)
	require.NoError(t, err)
	assert.Same(t, idx, resolved)

	require.NoError(t, ds.Drop(ctx, idx))
	assert.True(t, idx.Destroyed())
	assert.False(t, indexExists(t, db, "users_email"))

	err = ds.Drop(ctx, idx)
	assert.True(t, metaerr.IsStale(err))

	var seen []events.Type
	for len(sub.Events()) > 0 {
		seen = append(seen, (<-sub.Events()).Type)
	}
	assert.Contains(t, seen, events.ChildAdded)
	assert.Contains(t, seen, events.ChildRemoved)
	assert.Equal(t, events.ChildRemoved, seen[len(seen)-1])
}

func TestCreateRejectedByServer(t *testing.T) {
	ds, db := openCatalog(t)
	ctx := context.Background()
	_, err := db.Exec(`CREATE INDEX users_name ON users (name)`)
	require.NoError(t, err)

	main := child(t, ds, ds.Root(), model.KindSchema, "main")
	users := child(t, ds, main, model.KindTable, "users")
	existing := child(t, ds, users, model.KindIndex, "users_name")

	dup, err := ds.NewObject(users, model.KindIndex, "users_name", nil, model.Element{Name: "email"})
	require.NoError(t, err)

	err = ds.Create(ctx, dup)
	var execErr *metaerr.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.ServerMessage, "already exists")
	assert.Equal(t, model.StateTransient, dup.State())
	ds.Discard(dup)

	found, ok := ds.Cache().Lookup(users, model.KindIndex, "users_name")
	require.True(t, ok)
	assert.Same(t, existing, found)
}

func TestNewObjectChecksContainment(t *testing.T) {
	ds, _ := openCatalog(t)
	main := child(t, ds, ds.Root(), model.KindSchema, "main")

	_, err := ds.NewObject(main, model.KindIndex, "idx", nil)
	var v *metaerr.ValidationError
	require.ErrorAs(t, err, &v)

	_, err = ds.NewObject(ds.Root(), model.KindBufferpool, "BP1", nil)
	require.ErrorAs(t, err, &v)

	assert.False(t, ds.Supports(model.KindTable, metaerr.OpCreate))
	assert.True(t, ds.Supports(model.KindIndex, metaerr.OpCreate))
}

func TestResolveRejectsForeignReference(t *testing.T) {
	ds, _ := openCatalog(t)
	ctx := context.Background()

	_, err := ds.Resolve(ctx, model.Ref{Dialect: "sqlite", DataSource: "elsewhere", Kind: model.KindTable, Path: []string{"main", "users"}})
	var v *metaerr.ValidationError
	require.ErrorAs(t, err, &v)

	_, err = ds.Resolve(ctx, model.Ref{Dialect: "sqlite", DataSource: ds.ID(), Kind: model.KindTable, Path: []string{"main", "missing"}})
	var nf *metaerr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, metaerr.OpResolve, nf.Op)
	assert.Equal(t, "missing", nf.Name)
	assert.Equal(t, `"main"`, nf.Parent)
	assert.ErrorContains(t, err, `"missing" not found`)

	root, err := ds.Resolve(ctx, model.Ref{Dialect: "sqlite", DataSource: ds.ID(), Kind: model.KindDataSource})
	require.NoError(t, err)
	assert.Same(t, ds.Root(), root)
}

func TestQualifiedNameFallsBackAfterDrop(t *testing.T) {
	ds, _ := openCatalog(t)
	main := child(t, ds, ds.Root(), model.KindSchema, "main")
	users := child(t, ds, main, model.KindTable, "users")

	assert.Equal(t, `"main"."users"`, ds.QualifiedName(users))
	ds.Cache().Forget(ds.Root())
	assert.True(t, users.Destroyed())
	assert.Equal(t, "users", ds.QualifiedName(users))
}

func TestLocateAndContainer(t *testing.T) {
	ds, _ := openCatalog(t)
	ctx := context.Background()

	email, err := ds.Locate(ctx, model.KindColumn, "main", "users", "email")
	require.NoError(t, err)
	assert.Equal(t, model.KindColumn, email.Kind())

	users, err := ds.Container(ctx, model.KindIndex, "main", "users")
	require.NoError(t, err)
	assert.Equal(t, model.KindTable, users.Kind())

	root, err := ds.Container(ctx, model.KindSchema)
	require.NoError(t, err)
	assert.Same(t, ds.Root(), root)

	_, err = ds.Container(ctx, model.KindIndex)
	var verr *metaerr.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = ds.Container(ctx, model.KindIndex, "main")
	assert.ErrorContains(t, err, `"main" not found`, "a schema holds tables, not indexes")

	_, err = ds.Locate(ctx, model.KindTable, "main", "orders")
	assert.True(t, metaerr.IsNotFound(err))
	assert.ErrorContains(t, err, `"orders" not found`)
}
