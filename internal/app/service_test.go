package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/kadirbelkuyu/metacache/internal/datasource"
	"github.com/kadirbelkuyu/metacache/internal/dialect/sqlite"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/internal/session"
	"github.com/kadirbelkuyu/metacache/pkg/progress"
)

type fixture struct {
	ds  *datasource.DataSource
	db  *sql.DB
	out *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open(sqlite.DefaultDriver, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, created_at TEXT)`)
	require.NoError(t, err)

	ds := datasource.New(sqlite.New(), session.NewSQLProvider(db, nil), datasource.Options{ID: "catalog", Name: "catalog"})
	return &fixture{ds: ds, db: db, out: &bytes.Buffer{}}
}

func (f *fixture) service(input string) *Service {
	f.out.Reset()
	return NewService(f.ds, strings.NewReader(input), f.out, nil)
}

func (f *fixture) indexExists(t *testing.T, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&n))
	return n == 1
}

func TestListTables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service("").List(ctx, model.KindTable, []string{"main"}))
	assert.Contains(t, f.out.String(), "users")

	require.NoError(t, f.service("").List(ctx, model.KindIndex, []string{"main", "users"}))
	assert.Contains(t, f.out.String(), "No index found")
}

func TestCreateShowDropIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := IndexSpec{
		Path:    []string{"main", "users"},
		Name:    "users_email",
		Columns: []string{"email", "created_at:desc"},
		Unique:  true,
	}

	mustLocate(t, f.ds, model.KindTable, "main", "users")
	before := f.ds.Graph().Len()
	require.NoError(t, f.service("").CreateIndex(ctx, spec, true))
	assert.Contains(t, f.out.String(), `CREATE UNIQUE INDEX "main"."users_email" ON "users" ("email", "created_at" DESC);`)
	assert.False(t, f.indexExists(t, "users_email"), "a dry run never reaches the server")
	assert.Equal(t, before, f.ds.Graph().Len(), "a dry run leaves no transient object behind")

	require.NoError(t, f.service("").CreateIndex(ctx, spec, false))
	assert.True(t, f.indexExists(t, "users_email"))

	target := Target{Kind: model.KindIndex, Path: []string{"main", "users", "users_email"}}
	require.NoError(t, f.service("").Show(ctx, target))
	shown := f.out.String()
	assert.Contains(t, shown, `"main"."users_email"`)
	assert.Contains(t, shown, "Unique:")
	assert.Contains(t, shown, "email, created_at DESC")
	assert.Contains(t, shown, "Ref:")

	idx, err := f.ds.Locate(ctx, model.KindIndex, "main", "users", "users_email")
	require.NoError(t, err)
	ref, err := f.ds.Ref(idx)
	require.NoError(t, err)
	byRef, err := ParseTarget([]string{ref.String()})
	require.NoError(t, err)
	require.NoError(t, f.service("").Show(ctx, byRef))
	assert.Contains(t, f.out.String(), `"main"."users_email"`)

	require.NoError(t, f.service("n\n").Drop(ctx, target, false, false))
	assert.True(t, f.indexExists(t, "users_email"), "declined confirmation keeps the index")

	require.NoError(t, f.service("").Drop(ctx, target, false, true))
	assert.Contains(t, f.out.String(), `DROP INDEX "main"."users_email";`)

	require.NoError(t, f.service("y\n").Drop(ctx, target, false, false))
	assert.False(t, f.indexExists(t, "users_email"))
	assert.True(t, idx.Destroyed())
}

func TestCreateIndexRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := IndexSpec{Path: []string{"main", "users"}, Name: "users_missing", Columns: []string{"nope"}}

	err := f.service("").CreateIndex(ctx, spec, false)
	var exec *metaerr.ExecutionError
	require.ErrorAs(t, err, &exec)
	assert.Contains(t, Describe(err), "statement: CREATE INDEX")

	indexes, err := f.ds.ListChildren(ctx, mustLocate(t, f.ds, model.KindTable, "main", "users"), model.KindIndex)
	require.NoError(t, err)
	assert.Empty(t, indexes)
}

func TestCommentUnsupportedOnSQLite(t *testing.T) {
	f := newFixture(t)
	err := f.service("").Comment(context.Background(), Target{Kind: model.KindTable, Path: []string{"main", "users"}}, "people", false)

	var unsupported *metaerr.UnsupportedError
	assert.ErrorAs(t, err, &unsupported)
}

func TestRefreshAll(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER)`)
	require.NoError(t, err)

	require.NoError(t, f.service("").Refresh(context.Background(), model.KindColumn, []string{"main"}, true, progress.Nop{}))
	assert.Contains(t, f.out.String(), "Refreshed column under 2 container(s)")

	require.NoError(t, f.service("").Refresh(context.Background(), model.KindColumn, []string{"main", "orders"}, false, nil))
	assert.Contains(t, f.out.String(), "user_id")
}

func TestWalk(t *testing.T) {
	f := newFixture(t)

	// schema main, table users, kind column, column email.
	require.NoError(t, f.service("1\n1\n1\n2\n").Walk(context.Background()))
	out := f.out.String()
	assert.Contains(t, out, "Object kinds under")
	assert.Contains(t, out, `"email"`)
	assert.Contains(t, out, "column")
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget([]string{"index", "main/users/ idx /"})
	require.NoError(t, err)
	assert.Equal(t, Target{Kind: model.KindIndex, Path: []string{"main", "users", "idx"}}, got)

	got, err = ParseTarget([]string{"sqlite:catalog/table/main/users"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite:catalog/table/main/users", got.Ref)

	_, err = ParseTarget([]string{"widget", "a"})
	assert.Error(t, err)
	_, err = ParseTarget([]string{"users"})
	assert.Error(t, err)
}

func TestParseColumn(t *testing.T) {
	assert.Equal(t, model.Element{Name: "a"}, parseColumn("a"))
	assert.Equal(t, model.Element{Name: "a", Descending: true}, parseColumn("a DESC"))
	assert.Equal(t, model.Element{Name: "a", Descending: true}, parseColumn("a:desc"))
	assert.Equal(t, model.Element{Name: "a"}, parseColumn("a:asc"))
}

func TestDescribe(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, "boom", Describe(plain))
}

func mustLocate(t *testing.T, ds *datasource.DataSource, kind model.Kind, path ...string) *model.Object {
	t.Helper()
	o, err := ds.Locate(context.Background(), kind, path...)
	require.NoError(t, err)
	return o
}
