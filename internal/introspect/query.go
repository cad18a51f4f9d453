// Package introspect runs dialect metadata queries and maps result rows into
// attribute bags. It tolerates dialect variance: optional columns missing from
// a result set become unknown attributes, and a malformed row is skipped with
// a warning instead of failing the whole fetch.
package introspect

import (
	"strings"

	"github.com/kadirbelkuyu/metacache/internal/model"
)

// Role says what a result column contributes to a record.
type Role int

const (
	RoleAttr Role = iota
	RoleName
	RoleElements
)

// ElementFormat is the encoding of an ordered sub-element list in one column.
type ElementFormat int

const (
	// ElementsCSV is "a,b DESC,c".
	ElementsCSV ElementFormat = iota
	// ElementsSigned is DB2's "+A-B+C": each name prefixed by its direction.
	ElementsSigned
)

// Column maps one result column.
type Column struct {
	Name     string
	Role     Role
	Attr     string
	Type     model.AttrType
	Format   ElementFormat
	Required bool
}

// Name is the identity column of a query.
func Name(col string) Column {
	return Column{Name: col, Role: RoleName, Required: true}
}

// Attr maps a column onto an optional attribute.
func Attr(col, attr string, typ model.AttrType) Column {
	return Column{Name: col, Role: RoleAttr, Attr: attr, Type: typ}
}

// Elements maps a column onto the ordered sub-element list.
func Elements(col string, format ElementFormat) Column {
	return Column{Name: col, Role: RoleElements, Format: format}
}

// Query lists the children of one kind under a container. Build receives the
// names from the root down to the container.
type Query struct {
	Kind    model.Kind
	Build   func(path []string) (string, []any)
	Columns []Column
}

// Catalog is what a dialect offers to the introspection layer.
type Catalog interface {
	Name() string
	Query(kind model.Kind) (Query, bool)
	Normalize(name string) string
}

// index returns the position of each mapped column in the result set,
// matched case-insensitively; -1 means the server did not return it.
func (q Query) index(resultCols []string) []int {
	pos := make(map[string]int, len(resultCols))
	for i, c := range resultCols {
		pos[strings.ToLower(c)] = i
	}
	out := make([]int, len(q.Columns))
	for i, c := range q.Columns {
		if p, ok := pos[strings.ToLower(c.Name)]; ok {
			out[i] = p
		} else {
			out[i] = -1
		}
	}
	return out
}
