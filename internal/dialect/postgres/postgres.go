// Package postgres is the PostgreSQL dialect.
package postgres

import (
	"github.com/kadirbelkuyu/metacache/internal/dialect"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

const Name = "postgres"

// DefaultDriver is lib/pq; "pgx" selects the pgx stdlib driver.
const DefaultDriver = "postgres"

// PostgreSQL truncates identifiers to NAMEDATALEN-1 bytes.
const maxIdentifierLength = 63

func New() *dialect.Base {
	return NewWithDriver(DefaultDriver)
}

func NewWithDriver(driver string) *dialect.Base {
	return dialect.New(dialect.Config{
		Name:                Name,
		Driver:              driver,
		Normalization:       dialect.NormExact,
		TransactionalDDL:    true,
		MaxIdentifierLength: maxIdentifierLength,
		Children: map[model.Kind][]model.Kind{
			model.KindDataSource: {model.KindSchema},
			model.KindSchema:     {model.KindTable},
			model.KindTable:      {model.KindColumn, model.KindIndex},
		},
		Queries: queries,
		Schemas: map[model.Kind]model.Schema{
			model.KindSchema: {
				{Name: model.AttrOwner, Label: "Owner", Type: model.TypeString, Mutable: true, Viewable: true},
				{Name: model.AttrComment, Label: "Comment", Type: model.TypeString, Mutable: true, Viewable: true},
			},
			model.KindTable: {
				{Name: model.AttrOwner, Label: "Owner", Type: model.TypeString, Mutable: true, Viewable: true},
				{Name: model.AttrRowEstimate, Label: "Row Estimate", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrComment, Label: "Comment", Type: model.TypeString, Mutable: true, Viewable: true},
			},
			model.KindColumn: {
				{Name: model.AttrPosition, Label: "Position", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrDataType, Label: "Data Type", Type: model.TypeString, Mutable: true, Viewable: true},
				{Name: model.AttrMaxLength, Label: "Max Length", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrNullable, Label: "Nullable", Type: model.TypeBool, Mutable: true, Viewable: true},
				{Name: model.AttrDefault, Label: "Default", Type: model.TypeString, Mutable: true, Viewable: true},
				{Name: model.AttrComment, Label: "Comment", Type: model.TypeString, Mutable: true, Viewable: true},
			},
			model.KindIndex: {
				{Name: model.AttrUnique, Label: "Unique", Type: model.TypeBool, Viewable: true},
				{Name: model.AttrPrimary, Label: "Primary", Type: model.TypeBool, Viewable: true},
				{Name: model.AttrIndexType, Label: "Method", Type: model.TypeString, Viewable: true},
				{Name: model.AttrCardinality, Label: "Cardinality", Type: model.TypeInt, Viewable: true},
				{Name: model.AttrComment, Label: "Comment", Type: model.TypeString, Mutable: true, Viewable: true},
				{Name: model.AttrAdditional, Label: "Definition", Type: model.TypeString, Viewable: true},
			},
		},
		Qualifiers: map[model.Kind][]model.Kind{
			model.KindTable:  {model.KindSchema},
			model.KindColumn: {model.KindSchema, model.KindTable},
			model.KindIndex:  {model.KindSchema},
		},
		Managers: managers(),
	})
}
