package db2

import (
	"github.com/kadirbelkuyu/metacache/internal/introspect"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

const schemasQuery = `
	SELECT SCHEMANAME, OWNER, REMARKS
	FROM SYSCAT.SCHEMATA
	WHERE SCHEMANAME NOT LIKE 'SYS%'
	AND SCHEMANAME NOT LIKE 'IBMDB%'
	ORDER BY SCHEMANAME
`

const bufferpoolsQuery = `
	SELECT BPNAME, BUFFERPOOLID, PAGESIZE, NPAGES
	FROM SYSCAT.BUFFERPOOLS
	ORDER BY BPNAME
`

const tablesQuery = `
	SELECT TABNAME, OWNER, CARD, REMARKS
	FROM SYSCAT.TABLES
	WHERE TABSCHEMA = ? AND TYPE = 'T'
	ORDER BY TABNAME
`

const columnsQuery = `
	SELECT
		COLNAME,
		TYPENAME,
		LENGTH,
		CASE WHEN NULLS = 'Y' THEN 1 ELSE 0 END AS NULLABLE,
		DEFAULT,
		COLNO,
		REMARKS
	FROM SYSCAT.COLUMNS
	WHERE TABSCHEMA = ? AND TABNAME = ?
	ORDER BY COLNO
`

// COLNAMES lists key columns as "+COL1-COL2".
const indexesQuery = `
	SELECT
		INDNAME,
		INDSCHEMA,
		CASE WHEN UNIQUERULE IN ('U', 'P') THEN 1 ELSE 0 END AS IS_UNIQUE,
		CASE WHEN UNIQUERULE = 'P' THEN 1 ELSE 0 END AS IS_PRIMARY,
		INDEXTYPE,
		FULLKEYCARD,
		REMARKS,
		COLNAMES
	FROM SYSCAT.INDEXES
	WHERE TABSCHEMA = ? AND TABNAME = ?
	ORDER BY INDNAME
`

var queries = []introspect.Query{
	{
		Kind:  model.KindSchema,
		Build: func([]string) (string, []any) { return schemasQuery, nil },
		Columns: []introspect.Column{
			introspect.Name("SCHEMANAME"),
			introspect.Attr("OWNER", model.AttrOwner, model.TypeString),
			introspect.Attr("REMARKS", model.AttrComment, model.TypeString),
		},
	},
	{
		Kind:  model.KindBufferpool,
		Build: func([]string) (string, []any) { return bufferpoolsQuery, nil },
		Columns: []introspect.Column{
			introspect.Name("BPNAME"),
			introspect.Attr("BUFFERPOOLID", model.AttrBufferID, model.TypeInt),
			introspect.Attr("PAGESIZE", model.AttrPageSize, model.TypeInt),
			introspect.Attr("NPAGES", model.AttrPages, model.TypeInt),
		},
	},
	{
		Kind:  model.KindTable,
		Build: func(path []string) (string, []any) { return tablesQuery, []any{path[0]} },
		Columns: []introspect.Column{
			introspect.Name("TABNAME"),
			introspect.Attr("OWNER", model.AttrOwner, model.TypeString),
			introspect.Attr("CARD", model.AttrRowEstimate, model.TypeInt),
			introspect.Attr("REMARKS", model.AttrComment, model.TypeString),
		},
	},
	{
		Kind:  model.KindColumn,
		Build: func(path []string) (string, []any) { return columnsQuery, []any{path[0], path[1]} },
		Columns: []introspect.Column{
			introspect.Name("COLNAME"),
			introspect.Attr("TYPENAME", model.AttrDataType, model.TypeString),
			introspect.Attr("LENGTH", model.AttrMaxLength, model.TypeInt),
			introspect.Attr("NULLABLE", model.AttrNullable, model.TypeBool),
			introspect.Attr("DEFAULT", model.AttrDefault, model.TypeString),
			introspect.Attr("COLNO", model.AttrPosition, model.TypeInt),
			introspect.Attr("REMARKS", model.AttrComment, model.TypeString),
		},
	},
	{
		Kind:  model.KindIndex,
		Build: func(path []string) (string, []any) { return indexesQuery, []any{path[0], path[1]} },
		Columns: []introspect.Column{
			introspect.Name("INDNAME"),
			introspect.Attr("INDSCHEMA", model.AttrSchema, model.TypeString),
			introspect.Attr("IS_UNIQUE", model.AttrUnique, model.TypeBool),
			introspect.Attr("IS_PRIMARY", model.AttrPrimary, model.TypeBool),
			introspect.Attr("INDEXTYPE", model.AttrIndexType, model.TypeString),
			introspect.Attr("FULLKEYCARD", model.AttrCardinality, model.TypeInt),
			introspect.Attr("REMARKS", model.AttrComment, model.TypeString),
			introspect.Elements("COLNAMES", introspect.ElementsSigned),
		},
	},
}
