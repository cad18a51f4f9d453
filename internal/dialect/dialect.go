// Package dialect describes a database flavour to the rest of the module:
// how it names and quotes identifiers, which catalog queries list each kind
// of object, which attributes each kind carries, and which structural
// changes it supports.
package dialect

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/kadirbelkuyu/metacache/internal/introspect"
	"github.com/kadirbelkuyu/metacache/internal/manager"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

type Dialect interface {
	Name() string
	// Driver is the database/sql driver the dialect connects through.
	Driver() string
	Normalize(name string) string
	QuoteIdent(name string) string
	QuoteLiteral(value string) string
	ValidateIdentifier(name string) error
	TransactionalDDL() bool
	Query(kind model.Kind) (introspect.Query, bool)
	ChildKinds(parent model.Kind) []model.Kind
	Schema(kind model.Kind) model.Schema
	Managers() *manager.Table
	QualifiedName(g *model.Graph, o *model.Object) (string, error)
}

// Config is the data a dialect is made of.
type Config struct {
	Name             string
	Driver           string
	Normalization    Normalization
	TransactionalDDL bool
	// MaxIdentifierLength is in bytes; zero means unbounded.
	MaxIdentifierLength int
	// PlainIdentifier matches names that need no quoting. Nil quotes
	// everything.
	PlainIdentifier *regexp.Regexp

	Children map[model.Kind][]model.Kind
	Queries  []introspect.Query
	Schemas  map[model.Kind]model.Schema
	// Qualifiers lists, per kind, the ancestor kinds that prefix its
	// qualified name, outermost first.
	Qualifiers map[model.Kind][]model.Kind
	Managers   *manager.Table
}

// Base implements Dialect from a Config.
type Base struct {
	cfg     Config
	queries map[model.Kind]introspect.Query
}

func New(cfg Config) *Base {
	queries := make(map[model.Kind]introspect.Query, len(cfg.Queries))
	for _, q := range cfg.Queries {
		queries[q.Kind] = q
	}
	if cfg.Managers == nil {
		cfg.Managers = manager.NewTable()
	}
	return &Base{cfg: cfg, queries: queries}
}

func (b *Base) Name() string { return b.cfg.Name }

func (b *Base) Driver() string { return b.cfg.Driver }

func (b *Base) Normalize(name string) string { return b.cfg.Normalization.Apply(name) }

func (b *Base) QuoteIdent(name string) string {
	if b.cfg.PlainIdentifier != nil && b.cfg.PlainIdentifier.MatchString(name) {
		return name
	}
	return QuoteIdentifier(name)
}

func (b *Base) QuoteLiteral(value string) string { return QuoteLiteral(value) }

func (b *Base) ValidateIdentifier(name string) error {
	return ValidateIdentifier(name, b.cfg.MaxIdentifierLength)
}

func (b *Base) TransactionalDDL() bool { return b.cfg.TransactionalDDL }

func (b *Base) Query(kind model.Kind) (introspect.Query, bool) {
	q, ok := b.queries[kind]
	return q, ok
}

func (b *Base) ChildKinds(parent model.Kind) []model.Kind {
	return slices.Clone(b.cfg.Children[parent])
}

func (b *Base) Schema(kind model.Kind) model.Schema {
	return b.cfg.Schemas[kind]
}

func (b *Base) Managers() *manager.Table { return b.cfg.Managers }

// QualifiedName renders the name a statement uses to address o. Only the
// ancestor kinds configured for o's kind take part, so an index can be named
// by schema alone.
func (b *Base) QualifiedName(g *model.Graph, o *model.Object) (string, error) {
	var parts []string
	for _, kind := range b.cfg.Qualifiers[o.Kind()] {
		parent, ok := g.Lookup(o.Parent())
		if !ok {
			return "", fmt.Errorf("%s %q: parent does not resolve", o.Kind(), o.Name())
		}
		a, ok := g.Ancestor(parent, kind)
		if !ok {
			return "", fmt.Errorf("%s %q has no %s ancestor", o.Kind(), o.Name(), kind)
		}
		parts = append(parts, b.QuoteIdent(a.Name()))
	}
	parts = append(parts, b.QuoteIdent(o.Name()))
	return strings.Join(parts, "."), nil
}

// Env is the manager environment for graph g under dialect d.
func Env(d Dialect, g *model.Graph) manager.Env {
	return manager.Env{
		Graph:   g,
		Dialect: d.Name(),
		Quote:   d.QuoteIdent,
		Literal: d.QuoteLiteral,
		Schema:  d.Schema,
	}
}
