// Package db2 is the IBM Db2 for LUW dialect. The dialect only describes the
// catalog and DDL; connecting needs a Db2 database/sql driver registered
// under Driver by the embedding program.
package db2

import (
	"regexp"

	"github.com/kadirbelkuyu/metacache/internal/dialect"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

const (
	Name          = "db2"
	DefaultDriver = "go_ibm_db"
)

// Ordinary identifiers are stored upper-case and need no delimiters.
var ordinaryIdentifier = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

const maxIdentifierLength = 128

func New() *dialect.Base {
	return dialect.New(dialect.Config{
		Name:                Name,
		Driver:              DefaultDriver,
		Normalization:       dialect.NormExact,
		TransactionalDDL:    true,
		MaxIdentifierLength: maxIdentifierLength,
		PlainIdentifier:     ordinaryIdentifier,
		Children: map[model.Kind][]model.Kind{
			model.KindDataSource: {model.KindSchema, model.KindBufferpool},
			model.KindSchema:     {model.KindTable},
			model.KindTable:      {model.KindColumn, model.KindIndex},
		},
		Queries: queries,
		Schemas: map[model.Kind]model.Schema{
			model.KindSchema: {
				{Name: model.AttrOwner, Label: "Owner", Type: model.TypeString, Viewable: true},
				{Name: model.AttrComment, Label: "Remarks", Type: model.TypeString, Mutable: true, Viewable: true},
			},
			model.KindBufferpool: {
				{Name: model.AttrBufferID, Label: "Id", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrPageSize, Label: "Page Size", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrPages, Label: "Pages", Type: model.TypeInt, Viewable: true},
			},
			model.KindTable: {
				{Name: model.AttrOwner, Label: "Owner", Type: model.TypeString, Viewable: true},
				{Name: model.AttrRowEstimate, Label: "Cardinality", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrComment, Label: "Remarks", Type: model.TypeString, Mutable: true, Viewable: true},
			},
			model.KindColumn: {
				{Name: model.AttrPosition, Label: "Position", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrDataType, Label: "Type", Type: model.TypeString, Viewable: true},
				{Name: model.AttrMaxLength, Label: "Length", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrNullable, Label: "Nullable", Type: model.TypeBool, Viewable: true},
				{Name: model.AttrDefault, Label: "Default", Type: model.TypeString, Viewable: true},
				{Name: model.AttrComment, Label: "Remarks", Type: model.TypeString, Viewable: true},
			},
			model.KindIndex: {
				{Name: model.AttrSchema, Label: "Schema", Type: model.TypeString, Viewable: true},
				{Name: model.AttrUnique, Label: "Unique", Type: model.TypeBool, Viewable: true},
				{Name: model.AttrPrimary, Label: "Primary", Type: model.TypeBool, Viewable: true},
				{Name: model.AttrIndexType, Label: "Index Type", Type: model.TypeString, Viewable: true},
				{Name: model.AttrCardinality, Label: "Full Key Cardinality", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrComment, Label: "Remarks", Type: model.TypeString, Mutable: true, Viewable: true},
			},
		},
		Qualifiers: map[model.Kind][]model.Kind{
			model.KindTable: {model.KindSchema},
			model.KindIndex: {model.KindSchema},
		},
		Managers: managers(),
	})
}
