package datasource

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

// Ref builds a detached reference to o.
func (ds *DataSource) Ref(o *model.Object) (model.Ref, error) {
	return model.RefOf(ds.graph, ds.dialect.Name(), o)
}

// Resolve walks ref's path from the root through the cache, loading entries
// as needed.
func (ds *DataSource) Resolve(ctx context.Context, ref model.Ref) (*model.Object, error) {
	object := ref.String()
	if !strings.EqualFold(ref.Dialect, ds.dialect.Name()) || ref.DataSource != ds.id {
		return nil, &metaerr.ValidationError{Object: object, Op: metaerr.OpResolve, Message: "reference belongs to another data source"}
	}
	if len(ref.Path) == 0 {
		if ref.Kind != model.KindDataSource {
			return nil, &metaerr.ValidationError{Object: object, Op: metaerr.OpResolve, Message: "empty path"}
		}
		return ds.Root(), nil
	}

	return ds.walk(ctx, object, ref.Path, func(*model.Object) []model.Kind {
		return []model.Kind{ref.Kind}
	})
}

// Locate resolves a path of names from the root to an object of kind.
func (ds *DataSource) Locate(ctx context.Context, kind model.Kind, path ...string) (*model.Object, error) {
	return ds.Resolve(ctx, model.Ref{Dialect: ds.dialect.Name(), DataSource: ds.id, Kind: kind, Path: path})
}

// Container resolves path to an object that holds children of kind. The
// empty path is the root.
func (ds *DataSource) Container(ctx context.Context, kind model.Kind, path ...string) (*model.Object, error) {
	object := strings.Join(path, ".")
	if len(path) == 0 {
		if !slices.Contains(ds.ChildKinds(ds.Root()), kind) {
			return nil, &metaerr.ValidationError{Object: ds.name, Op: metaerr.OpResolve, Message: fmt.Sprintf("a %s does not contain a %s", model.KindDataSource, kind)}
		}
		return ds.Root(), nil
	}
	return ds.walk(ctx, object, path, func(cur *model.Object) []model.Kind {
		var candidates []model.Kind
		for _, k := range ds.ChildKinds(cur) {
			if slices.Contains(ds.dialect.ChildKinds(k), kind) {
				candidates = append(candidates, k)
			}
		}
		return candidates
	})
}

// walk follows path from the root. Intermediate elements are looked up among
// the child kinds that can themselves hold children, the last one among
// last(parent).
func (ds *DataSource) walk(ctx context.Context, object string, path []string, last func(*model.Object) []model.Kind) (*model.Object, error) {
	cur := ds.Root()
	for i, name := range path {
		var candidates []model.Kind
		if i == len(path)-1 {
			candidates = last(cur)
		} else {
			for _, k := range ds.ChildKinds(cur) {
				if len(ds.dialect.ChildKinds(k)) > 0 {
					candidates = append(candidates, k)
				}
			}
		}

		next, err := ds.findChild(ctx, cur, candidates, name)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, &metaerr.NotFoundError{Object: object, Op: metaerr.OpResolve, Name: name, Parent: ds.QualifiedName(cur)}
		}
		cur = next
	}
	return cur, nil
}

func (ds *DataSource) findChild(ctx context.Context, parent *model.Object, kinds []model.Kind, name string) (*model.Object, error) {
	for _, kind := range kinds {
		if _, err := ds.cache.GetChildren(ctx, parent, kind); err != nil {
			return nil, metaerr.WithObject(err, ds.QualifiedName(parent), metaerr.OpResolve)
		}
		if o, ok := ds.cache.Lookup(parent, kind, name); ok {
			return o, nil
		}
	}
	return nil, nil
}
