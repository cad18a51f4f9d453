package navigator

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/kadirbelkuyu/metacache/internal/datasource"
	"github.com/kadirbelkuyu/metacache/internal/dialect/sqlite"
	"github.com/kadirbelkuyu/metacache/internal/events"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/internal/session"
)

func openCatalog(t *testing.T) *datasource.DataSource {
	t.Helper()
	db, err := sql.Open(sqlite.DefaultDriver, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL)`)
	require.NoError(t, err)

	return datasource.New(sqlite.New(), session.NewSQLProvider(db, nil), datasource.Options{Name: "catalog"})
}

func inline(n *Navigator) *Navigator {
	n.spawn = func(fn func()) { fn() }
	return n
}

func childByText(t *testing.T, node *tview.TreeNode, prefix string) *tview.TreeNode {
	t.Helper()
	for _, child := range node.GetChildren() {
		if len(child.GetText()) >= len(prefix) && child.GetText()[:len(prefix)] == prefix {
			return child
		}
	}
	t.Fatalf("no child starting with %q under %q", prefix, node.GetText())
	return nil
}

func texts(node *tview.TreeNode) []string {
	var out []string
	for _, child := range node.GetChildren() {
		out = append(out, child.GetText())
	}
	return out
}

func drain(n *Navigator, sub *events.Subscription) {
	for {
		select {
		case evt := <-sub.Events():
			n.handle(evt)
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

// open walks root > schemas > main > tables > users > indexes.
func open(t *testing.T, n *Navigator) (users, indexes *tview.TreeNode) {
	t.Helper()
	root := n.tree.GetRoot()
	assert.Equal(t, "catalog", root.GetText())

	schemas := childByText(t, root, "schemas")
	n.onSelected(schemas)
	assert.Equal(t, "schemas (1)", schemas.GetText())

	main := childByText(t, schemas, "main")
	n.onSelected(main)
	tables := childByText(t, main, "tables")
	n.onSelected(tables)
	assert.Equal(t, []string{"users"}, texts(tables))

	users = childByText(t, tables, "users")
	n.onSelected(users)
	assert.Equal(t, []string{"columns", "indexes"}, texts(users))

	indexes = childByText(t, users, "indexes")
	n.onSelected(indexes)
	assert.Equal(t, "indexes (0)", indexes.GetText())
	return users, indexes
}

func TestNavigatorLoadsLazily(t *testing.T) {
	ds := openCatalog(t)
	n := inline(New(ds, Options{}))

	users, _ := open(t, n)

	columns := childByText(t, users, "columns")
	assert.Empty(t, columns.GetChildren(), "groups load only when opened")
	n.onSelected(columns)
	assert.Equal(t, []string{"id", "email"}, texts(columns))

	email := childByText(t, columns, "email")
	n.onChanged(email)
	details := n.details.GetText(true)
	assert.Contains(t, details, `"email"`)
	assert.Contains(t, details, "Kind: column")
	assert.Contains(t, details, "Nullable: no")
}

func TestNavigatorFollowsChanges(t *testing.T) {
	ds := openCatalog(t)
	n := inline(New(ds, Options{}))
	sub := ds.Subscribe(0)
	defer ds.Unsubscribe(sub)

	users, indexes := open(t, n)
	drain(n, sub)
	table := users.GetReference().(*model.Object)

	idx, err := ds.NewObject(table, model.KindIndex, "users_email", nil, model.Element{Name: "email"})
	require.NoError(t, err)
	require.NoError(t, ds.Create(context.Background(), idx))
	drain(n, sub)

	assert.Equal(t, "indexes (1)", indexes.GetText())
	assert.Equal(t, []string{"users_email"}, texts(indexes))

	ds.Invalidate(table)
	drain(n, sub)
	assert.Equal(t, "indexes (1) [stale]", indexes.GetText())

	n.onSelected(indexes)
	n.onSelected(indexes)
	assert.Equal(t, "indexes (1)", indexes.GetText(), "reopening a stale group reloads it")

	require.NoError(t, ds.Drop(context.Background(), idx))
	drain(n, sub)
	assert.Equal(t, "indexes (0)", indexes.GetText())
	assert.Empty(t, indexes.GetChildren())
}

func TestNavigatorShowsLoadErrors(t *testing.T) {
	ds := openCatalog(t)
	n := inline(New(ds, Options{LoadTimeout: time.Second}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g, ok := n.lookup(ds.Root().ID(), model.KindSchema)
	require.True(t, ok)
	n.load(ctx, g, ds.ListChildren)

	assert.False(t, g.loaded)
	assert.Contains(t, n.status.GetText(true), "cancelled")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "-", formatValue(nil))
	assert.Equal(t, "yes", formatValue(true))
	assert.Equal(t, "42", formatValue(int64(42)))
	assert.Equal(t, "a, b DESC", formatElements([]model.Element{{Name: "a"}, {Name: "b", Descending: true}}))

	assert.Equal(t, "indexes (2)", groupLabel(model.KindIndex, 2, false))
	assert.Equal(t, "bufferpools (0) [stale]", groupLabel(model.KindBufferpool, 0, true))
}
