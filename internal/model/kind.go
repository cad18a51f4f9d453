// Package model is the in-memory object graph for remote database
// structures. Objects are a tagged variant: every object carries a Kind and an
// attribute bag instead of a per-kind Go type, and dialects describe the
// attributes each kind exposes through an explicit Schema.
package model

// Kind tags an object with its structural role.
type Kind string

const (
	KindDataSource Kind = "datasource"
	KindSchema     Kind = "schema"
	KindTable      Kind = "table"
	KindColumn     Kind = "column"
	KindIndex      Kind = "index"
	KindBufferpool Kind = "bufferpool"
)

func (k Kind) String() string { return string(k) }

// ParseKind accepts the lower-case kind names used on the command line.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindDataSource, KindSchema, KindTable, KindColumn, KindIndex, KindBufferpool:
		return Kind(s), true
	}
	return "", false
}

// State is the lifecycle position of an object.
type State int

const (
	StateTransient State = iota
	StatePersisted
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateTransient:
		return "transient"
	case StatePersisted:
		return "persisted"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
