// Package sqlite is the SQLite dialect, backed by the pure-Go
// modernc.org/sqlite driver. Attached databases play the role of schemas.
package sqlite

import (
	"fmt"

	"github.com/kadirbelkuyu/metacache/internal/dialect"
	"github.com/kadirbelkuyu/metacache/internal/introspect"
	"github.com/kadirbelkuyu/metacache/internal/manager"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

const (
	Name          = "sqlite"
	DefaultDriver = "sqlite"
)

func New() *dialect.Base {
	return dialect.New(dialect.Config{
		Name:             Name,
		Driver:           DefaultDriver,
		Normalization:    dialect.NormLowercase,
		TransactionalDDL: true,
		Children: map[model.Kind][]model.Kind{
			model.KindDataSource: {model.KindSchema},
			model.KindSchema:     {model.KindTable},
			model.KindTable:      {model.KindColumn, model.KindIndex},
		},
		Queries: queries,
		Schemas: map[model.Kind]model.Schema{
			model.KindSchema: {
				{Name: model.AttrAdditional, Label: "File", Type: model.TypeString, Viewable: true},
			},
			model.KindTable: {
				{Name: model.AttrAdditional, Label: "Definition", Type: model.TypeString, Viewable: true},
			},
			model.KindColumn: {
				{Name: model.AttrPosition, Label: "Position", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrDataType, Label: "Type", Type: model.TypeString, Viewable: true},
				{Name: model.AttrNullable, Label: "Nullable", Type: model.TypeBool, Viewable: true},
				{Name: model.AttrDefault, Label: "Default", Type: model.TypeString, Viewable: true},
				{Name: model.AttrPrimary, Label: "Primary Key", Type: model.TypeBool, Viewable: true},
			},
			model.KindIndex: {
				{Name: model.AttrUnique, Label: "Unique", Type: model.TypeBool, Viewable: true},
				{Name: model.AttrPrimary, Label: "Primary", Type: model.TypeBool, Viewable: true},
				{Name: model.AttrIndexType, Label: "Origin", Type: model.TypeString, Viewable: true},
				{Name: model.AttrAdditional, Label: "Partial", Type: model.TypeBool, Viewable: true},
			},
		},
		Qualifiers: map[model.Kind][]model.Kind{
			model.KindTable: {model.KindSchema},
			model.KindIndex: {model.KindSchema},
		},
		Managers: managers(),
	})
}

var queries = []introspect.Query{
	{
		Kind: model.KindSchema,
		Build: func([]string) (string, []any) {
			return `SELECT name AS schema_name, file FROM pragma_database_list ORDER BY seq`, nil
		},
		Columns: []introspect.Column{
			introspect.Name("schema_name"),
			introspect.Attr("file", model.AttrAdditional, model.TypeString),
		},
	},
	{
		Kind: model.KindTable,
		Build: func(path []string) (string, []any) {
			return fmt.Sprintf(`SELECT name AS table_name, sql FROM %s.sqlite_master
				WHERE type = 'table' AND name NOT LIKE 'sqlite_%%'
				ORDER BY name`, dialect.QuoteIdentifier(path[0])), nil
		},
		Columns: []introspect.Column{
			introspect.Name("table_name"),
			introspect.Attr("sql", model.AttrAdditional, model.TypeString),
		},
	},
	{
		Kind: model.KindColumn,
		Build: func(path []string) (string, []any) {
			return `SELECT name, type, "notnull" = 0 AS nullable, dflt_value, cid + 1 AS position, pk > 0 AS is_primary
				FROM pragma_table_info(?1, ?2)
				ORDER BY cid`, []any{path[1], path[0]}
		},
		Columns: []introspect.Column{
			introspect.Name("name"),
			introspect.Attr("type", model.AttrDataType, model.TypeString),
			introspect.Attr("nullable", model.AttrNullable, model.TypeBool),
			introspect.Attr("dflt_value", model.AttrDefault, model.TypeString),
			introspect.Attr("position", model.AttrPosition, model.TypeInt),
			introspect.Attr("is_primary", model.AttrPrimary, model.TypeBool),
		},
	},
	{
		Kind: model.KindIndex,
		Build: func(path []string) (string, []any) {
			return `SELECT
					il.name AS index_name,
					il."unique" AS is_unique,
					il.origin = 'pk' AS is_primary,
					il.origin AS origin,
					il.partial AS partial,
					(SELECT group_concat(col, ',') FROM (
						SELECT ii.name || CASE WHEN ii."desc" = 1 THEN ' DESC' ELSE '' END AS col
						FROM pragma_index_xinfo(il.name, ?2) ii
						WHERE ii.key = 1 AND ii.name IS NOT NULL
						ORDER BY ii.seqno
					)) AS column_names
				FROM pragma_index_list(?1, ?2) il
				ORDER BY il.name`, []any{path[1], path[0]}
		},
		Columns: []introspect.Column{
			introspect.Name("index_name"),
			introspect.Attr("is_unique", model.AttrUnique, model.TypeBool),
			introspect.Attr("is_primary", model.AttrPrimary, model.TypeBool),
			introspect.Attr("origin", model.AttrIndexType, model.TypeString),
			introspect.Attr("partial", model.AttrAdditional, model.TypeBool),
			introspect.Elements("column_names", introspect.ElementsCSV),
		},
	},
}

func managers() *manager.Table {
	t := manager.NewTable()
	t.Register(model.KindIndex, metaerr.OpCreate, manager.Funcs{ValidateFunc: validateIndex, BuildFunc: createIndex})
	t.Register(model.KindIndex, metaerr.OpDrop, manager.Funcs{BuildFunc: drop("INDEX")})
	t.Register(model.KindTable, metaerr.OpDrop, manager.Funcs{BuildFunc: drop("TABLE")})
	return t
}

func schemaOf(env manager.Env, o *model.Object) (string, error) {
	schema, err := env.Ancestor(o, model.KindSchema)
	if err != nil {
		return "", err
	}
	return schema.Name(), nil
}

func drop(what string) func(manager.Env, manager.Request) ([]string, error) {
	return func(env manager.Env, req manager.Request) ([]string, error) {
		schema, err := schemaOf(env, req.Object)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("DROP %s %s", what, env.Qualify(schema, req.Object.Name()))}, nil
	}
}

func validateIndex(_ manager.Env, req manager.Request) error {
	if err := dialect.ValidateIdentifier(req.Object.Name(), 0); err != nil {
		return manager.Invalid("name", "%v", err)
	}
	if len(req.Object.Elements()) == 0 {
		return manager.Invalid("columns", "an index needs at least one column")
	}
	return nil
}

// createIndex qualifies the index, not the table: SQLite always creates an
// index in its table's database.
func createIndex(env manager.Env, req manager.Request) ([]string, error) {
	table, err := env.Ancestor(req.Object, model.KindTable)
	if err != nil {
		return nil, err
	}
	schema, err := schemaOf(env, table)
	if err != nil {
		return nil, err
	}
	unique := ""
	if req.Object.Attributes().Bool(model.AttrUnique) {
		unique = "UNIQUE "
	}
	return []string{fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique,
		env.Qualify(schema, req.Object.Name()),
		env.Quote(table.Name()),
		env.QuoteList(req.Object.Elements(), true),
	)}, nil
}
