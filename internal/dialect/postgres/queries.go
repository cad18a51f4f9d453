package postgres

import (
	"github.com/kadirbelkuyu/metacache/internal/introspect"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

const schemasQuery = `
	SELECT
		n.nspname AS schema_name,
		pg_catalog.pg_get_userbyid(n.nspowner) AS owner,
		pg_catalog.obj_description(n.oid, 'pg_namespace') AS comment
	FROM pg_catalog.pg_namespace n
	WHERE n.nspname NOT IN ('information_schema', 'pg_catalog', 'pg_toast')
	AND n.nspname NOT LIKE 'pg_temp_%'
	AND n.nspname NOT LIKE 'pg_toast_temp_%'
	ORDER BY n.nspname
`

const tablesQuery = `
	SELECT
		c.relname AS table_name,
		pg_catalog.pg_get_userbyid(c.relowner) AS owner,
		c.reltuples::bigint AS row_estimate,
		pg_catalog.obj_description(c.oid, 'pg_class') AS comment
	FROM pg_catalog.pg_class c
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')
	ORDER BY c.relname
`

const columnsQuery = `
	SELECT
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES' AS nullable,
		c.column_default,
		c.character_maximum_length,
		c.ordinal_position,
		pg_catalog.col_description(a.attrelid, a.attnum) AS comment
	FROM information_schema.columns c
	JOIN pg_catalog.pg_namespace n ON n.nspname = c.table_schema
	JOIN pg_catalog.pg_class t ON t.relnamespace = n.oid AND t.relname = c.table_name
	JOIN pg_catalog.pg_attribute a ON a.attrelid = t.oid AND a.attname = c.column_name
	WHERE c.table_schema = $1 AND c.table_name = $2
	ORDER BY c.ordinal_position
`

// Index columns come back as "a,b DESC". indkey and indoption are
// zero-based int2vectors; pg_get_indexdef counts key columns from one.
const indexesQuery = `
	SELECT
		ic.relname AS index_name,
		ix.indisunique AS is_unique,
		ix.indisprimary AS is_primary,
		am.amname AS index_type,
		ic.reltuples::bigint AS cardinality,
		pg_catalog.obj_description(ic.oid, 'pg_class') AS comment,
		pg_catalog.pg_get_indexdef(ix.indexrelid) AS indexdef,
		(
			SELECT string_agg(
				pg_catalog.pg_get_indexdef(ix.indexrelid, k.ord + 1, true) ||
				CASE WHEN ix.indoption[k.ord] & 1 = 1 THEN ' DESC' ELSE '' END,
				',' ORDER BY k.ord)
			FROM generate_subscripts(ix.indkey, 1) AS k(ord)
			WHERE k.ord < ix.indnkeyatts
		) AS column_names
	FROM pg_catalog.pg_index ix
	JOIN pg_catalog.pg_class ic ON ic.oid = ix.indexrelid
	JOIN pg_catalog.pg_class t ON t.oid = ix.indrelid
	JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
	JOIN pg_catalog.pg_am am ON am.oid = ic.relam
	WHERE n.nspname = $1 AND t.relname = $2
	ORDER BY ic.relname
`

var queries = []introspect.Query{
	{
		Kind:  model.KindSchema,
		Build: func([]string) (string, []any) { return schemasQuery, nil },
		Columns: []introspect.Column{
			introspect.Name("schema_name"),
			introspect.Attr("owner", model.AttrOwner, model.TypeString),
			introspect.Attr("comment", model.AttrComment, model.TypeString),
		},
	},
	{
		Kind:  model.KindTable,
		Build: func(path []string) (string, []any) { return tablesQuery, []any{path[0]} },
		Columns: []introspect.Column{
			introspect.Name("table_name"),
			introspect.Attr("owner", model.AttrOwner, model.TypeString),
			introspect.Attr("row_estimate", model.AttrRowEstimate, model.TypeInt),
			introspect.Attr("comment", model.AttrComment, model.TypeString),
		},
	},
	{
		Kind:  model.KindColumn,
		Build: func(path []string) (string, []any) { return columnsQuery, []any{path[0], path[1]} },
		Columns: []introspect.Column{
			introspect.Name("column_name"),
			introspect.Attr("data_type", model.AttrDataType, model.TypeString),
			introspect.Attr("nullable", model.AttrNullable, model.TypeBool),
			introspect.Attr("column_default", model.AttrDefault, model.TypeString),
			introspect.Attr("character_maximum_length", model.AttrMaxLength, model.TypeInt),
			introspect.Attr("ordinal_position", model.AttrPosition, model.TypeInt),
			introspect.Attr("comment", model.AttrComment, model.TypeString),
		},
	},
	{
		Kind:  model.KindIndex,
		Build: func(path []string) (string, []any) { return indexesQuery, []any{path[0], path[1]} },
		Columns: []introspect.Column{
			introspect.Name("index_name"),
			introspect.Attr("is_unique", model.AttrUnique, model.TypeBool),
			introspect.Attr("is_primary", model.AttrPrimary, model.TypeBool),
			introspect.Attr("index_type", model.AttrIndexType, model.TypeString),
			introspect.Attr("cardinality", model.AttrCardinality, model.TypeInt),
			introspect.Attr("comment", model.AttrComment, model.TypeString),
			introspect.Attr("indexdef", model.AttrAdditional, model.TypeString),
			introspect.Elements("column_names", introspect.ElementsCSV),
		},
	},
}
