package db2

import (
	"fmt"
	"strings"

	"github.com/kadirbelkuyu/metacache/internal/cache"
	"github.com/kadirbelkuyu/metacache/internal/dialect"
	"github.com/kadirbelkuyu/metacache/internal/manager"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

func managers() *manager.Table {
	t := manager.NewTable()

	t.Register(model.KindSchema, metaerr.OpCreate, manager.Funcs{ValidateFunc: validateName, BuildFunc: createSchema})
	t.Register(model.KindSchema, metaerr.OpAlter, manager.Funcs{BuildFunc: commentOnly("SCHEMA")})
	t.Register(model.KindSchema, metaerr.OpDrop, manager.Funcs{BuildFunc: dropSchema})

	t.Register(model.KindTable, metaerr.OpAlter, manager.Funcs{BuildFunc: commentOnly("TABLE")})
	t.Register(model.KindTable, metaerr.OpDrop, manager.Funcs{BuildFunc: drop("TABLE")})

	t.Register(model.KindIndex, metaerr.OpCreate, manager.Funcs{ValidateFunc: validateIndex, BuildFunc: createIndex})
	t.Register(model.KindIndex, metaerr.OpAlter, manager.Funcs{BuildFunc: commentOnly("INDEX")})
	t.Register(model.KindIndex, metaerr.OpDrop, manager.Funcs{BuildFunc: drop("INDEX")})

	// Buffer pools can only be dropped; they live in the data source's own
	// cache entry rather than under a schema.
	t.Register(model.KindBufferpool, metaerr.OpDrop, manager.Funcs{
		BuildFunc: func(env manager.Env, req manager.Request) ([]string, error) {
			return []string{"DROP BUFFERPOOL " + env.Quote(req.Object.Name())}, nil
		},
		OwnerFunc: func(env manager.Env, obj *model.Object) (cache.Key, error) {
			return cache.Key{Container: env.Graph.Root().ID(), Kind: model.KindBufferpool}, nil
		},
	})

	return t
}

func validateName(_ manager.Env, req manager.Request) error {
	if err := dialect.ValidateIdentifier(req.Object.Name(), maxIdentifierLength); err != nil {
		return manager.Invalid("name", "%v", err)
	}
	return nil
}

// qualified prefixes tables and indexes with their schema. An index may live
// in a schema other than its table's; the catalog reports it as INDSCHEMA.
func qualified(env manager.Env, o *model.Object) (string, error) {
	if o.Kind() == model.KindSchema {
		return env.Quote(o.Name()), nil
	}
	if o.Kind() == model.KindIndex {
		if s := strings.TrimSpace(o.Attributes().String(model.AttrSchema)); s != "" {
			return env.Qualify(s, o.Name()), nil
		}
	}
	schema, err := env.Ancestor(o, model.KindSchema)
	if err != nil {
		return "", err
	}
	return env.Qualify(schema.Name(), o.Name()), nil
}

func drop(what string) func(manager.Env, manager.Request) ([]string, error) {
	return func(env manager.Env, req manager.Request) ([]string, error) {
		name, err := qualified(env, req.Object)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("DROP %s %s", what, name)}, nil
	}
}

func commentOnly(what string) func(manager.Env, manager.Request) ([]string, error) {
	return func(env manager.Env, req manager.Request) ([]string, error) {
		if !req.Changed(model.AttrComment) {
			return nil, nil
		}
		name, err := qualified(env, req.Object)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("COMMENT ON %s %s IS %s", what, name,
			env.Literal(req.Staged.Attributes().String(model.AttrComment)))}, nil
	}
}

func createSchema(env manager.Env, req manager.Request) ([]string, error) {
	stmt := "CREATE SCHEMA " + env.Quote(req.Object.Name())
	if owner := req.Object.Attributes().String(model.AttrOwner); owner != "" {
		stmt += " AUTHORIZATION " + env.Quote(owner)
	}
	return []string{stmt}, nil
}

func dropSchema(env manager.Env, req manager.Request) ([]string, error) {
	return []string{fmt.Sprintf("DROP SCHEMA %s RESTRICT", env.Quote(req.Object.Name()))}, nil
}

func validateIndex(env manager.Env, req manager.Request) error {
	if err := validateName(env, req); err != nil {
		return err
	}
	if len(req.Object.Elements()) == 0 {
		return manager.Invalid("columns", "an index needs at least one column")
	}
	return nil
}

func createIndex(env manager.Env, req manager.Request) ([]string, error) {
	table, err := env.Ancestor(req.Object, model.KindTable)
	if err != nil {
		return nil, err
	}
	tableName, err := qualified(env, table)
	if err != nil {
		return nil, err
	}
	name, err := qualified(env, req.Object)
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(req.Object.Elements()))
	for _, el := range req.Object.Elements() {
		dir := "ASC"
		if el.Descending {
			dir = "DESC"
		}
		cols = append(cols, env.Quote(el.Name)+" "+dir)
	}

	unique := ""
	if req.Object.Attributes().Bool(model.AttrUnique) {
		unique = "UNIQUE "
	}
	return []string{fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, name, tableName, strings.Join(cols, ", "))}, nil
}
