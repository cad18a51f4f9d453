package model

import (
	"fmt"
	"net/url"
	"strings"
)

// Ref is a detached identity reference to an object: dialect, data source and
// the navigation path from the root. It survives beyond the lifetime of the
// cache and can cross process boundaries, unlike an *Object.
type Ref struct {
	Dialect    string
	DataSource string
	Kind       Kind
	Path       []string
}

// RefOf builds a reference for an object in g.
func RefOf(g *Graph, dialect string, o *Object) (Ref, error) {
	names, err := g.Names(o)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Dialect: dialect, DataSource: o.dataSource, Kind: o.kind, Path: names}, nil
}

// String renders dialect:datasource/kind/elem/elem with each path element
// escaped.
func (r Ref) String() string {
	var b strings.Builder
	b.WriteString(r.Dialect)
	b.WriteByte(':')
	b.WriteString(url.PathEscape(r.DataSource))
	b.WriteByte('/')
	b.WriteString(string(r.Kind))
	for _, p := range r.Path {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Ref) UnmarshalText(text []byte) error {
	parsed, err := ParseRef(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRef is the inverse of Ref.String.
func ParseRef(s string) (Ref, error) {
	dialect, rest, ok := strings.Cut(s, ":")
	if !ok || dialect == "" {
		return Ref{}, fmt.Errorf("invalid reference %q: missing dialect", s)
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return Ref{}, fmt.Errorf("invalid reference %q: missing kind", s)
	}
	ds, err := url.PathUnescape(parts[0])
	if err != nil {
		return Ref{}, fmt.Errorf("invalid reference %q: %w", s, err)
	}
	kind, ok := ParseKind(parts[1])
	if !ok {
		return Ref{}, fmt.Errorf("invalid reference %q: unknown kind %q", s, parts[1])
	}
	path := make([]string, 0, len(parts)-2)
	for _, p := range parts[2:] {
		name, err := url.PathUnescape(p)
		if err != nil {
			return Ref{}, fmt.Errorf("invalid reference %q: %w", s, err)
		}
		path = append(path, name)
	}
	return Ref{Dialect: dialect, DataSource: ds, Kind: kind, Path: path}, nil
}
