package introspect

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/internal/session"
	"github.com/kadirbelkuyu/metacache/pkg/logger"
)

// Introspector fetches child records for the cache.
type Introspector struct {
	provider session.Provider
	catalog  Catalog
	logger   *logger.Logger
}

func NewIntrospector(provider session.Provider, catalog Catalog, log *logger.Logger) *Introspector {
	return &Introspector{
		provider: provider,
		catalog:  catalog,
		logger:   logger.OrDiscard(log),
	}
}

// Load runs the dialect query for kind under the container at path.
func (in *Introspector) Load(ctx context.Context, path []string, kind model.Kind) ([]model.Record, error) {
	object := DisplayPath(path)
	q, ok := in.catalog.Query(kind)
	if !ok {
		return nil, &metaerr.UnsupportedError{Dialect: in.catalog.Name(), Kind: string(kind), Op: metaerr.OpFetch}
	}

	var records []model.Record
	err := session.With(ctx, in.provider, func(sess session.Session) error {
		var warning *metaerr.PartialFetchWarning
		var err error
		records, warning, err = Run(ctx, sess, q, path, in.catalog.Normalize)
		if warning != nil {
			warning.Object = object
			in.logger.WithFields(logrus.Fields{
				"container": object,
				"kind":      string(kind),
				"skipped":   warning.Skipped,
			}).Warn(warning.Error())
		}
		return err
	})
	if err != nil {
		return nil, metaerr.WithObject(err, object, metaerr.OpFetch)
	}

	in.logger.WithFields(logrus.Fields{
		"container": object,
		"kind":      string(kind),
		"count":     len(records),
	}).Debug("introspection completed")
	return records, nil
}

// Run executes q on sess and maps the rows. The warning is non-nil when rows
// were skipped.
func Run(ctx context.Context, sess session.Session, q Query, path []string, normalize func(string) string) ([]model.Record, *metaerr.PartialFetchWarning, error) {
	stmt, args := q.Build(path)
	rows, err := sess.RunQuery(ctx, stmt, args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	positions := q.index(rows.Columns())
	for i, c := range q.Columns {
		if c.Required && positions[i] < 0 {
			return nil, nil, fmt.Errorf("introspection of %s: result has no %s column", q.Kind, c.Name)
		}
	}

	warning := &metaerr.PartialFetchWarning{Kind: string(q.Kind)}
	seen := make(map[string]struct{})
	var records []model.Record
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, nil, session.Classify(err)
		}
		values, err := rows.Values()
		if err != nil {
			warning.Add(fmt.Sprintf("row %d: %v", len(records)+warning.Skipped+1, err))
			continue
		}
		rec, err := mapRow(q, positions, values)
		if err != nil {
			warning.Add(fmt.Sprintf("row %d: %v", len(records)+warning.Skipped+1, err))
			continue
		}
		key := normalize(rec.Name)
		if _, dup := seen[key]; dup {
			warning.Add(fmt.Sprintf("duplicate name %q", rec.Name))
			continue
		}
		seen[key] = struct{}{}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if warning.Skipped == 0 {
		warning = nil
	}
	return records, warning, nil
}

func mapRow(q Query, positions []int, values []any) (model.Record, error) {
	rec := model.Record{Attrs: model.Attributes{}}
	for i, c := range q.Columns {
		p := positions[i]
		if p < 0 {
			continue
		}
		v := values[p]
		switch c.Role {
		case RoleName:
			name, err := asString(v)
			if v == nil || err != nil || strings.TrimSpace(name) == "" {
				return model.Record{}, fmt.Errorf("missing name in column %s", c.Name)
			}
			rec.Name = strings.TrimRight(name, " ")
		case RoleElements:
			elems, err := parseElements(v, c.Format)
			if err != nil {
				return model.Record{}, fmt.Errorf("column %s: %w", c.Name, err)
			}
			rec.Elements = elems
		default:
			val, ok, err := decode(v, c.Type)
			if err != nil {
				return model.Record{}, fmt.Errorf("column %s: %w", c.Name, err)
			}
			if ok {
				rec.Attrs[c.Attr] = val
			}
		}
	}
	return rec, nil
}

// DisplayPath renders a container path for messages.
func DisplayPath(path []string) string {
	if len(path) == 0 {
		return "<datasource>"
	}
	return strings.Join(path, ".")
}
