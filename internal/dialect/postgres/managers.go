package postgres

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kadirbelkuyu/metacache/internal/dialect"
	"github.com/kadirbelkuyu/metacache/internal/manager"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

var accessMethodRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func managers() *manager.Table {
	t := manager.NewTable()

	t.Register(model.KindSchema, metaerr.OpCreate, manager.Funcs{ValidateFunc: validateName, BuildFunc: createSchema})
	t.Register(model.KindSchema, metaerr.OpAlter, manager.Funcs{BuildFunc: alterOwned("SCHEMA")})
	t.Register(model.KindSchema, metaerr.OpDrop, manager.Funcs{BuildFunc: drop("DROP SCHEMA")})

	t.Register(model.KindTable, metaerr.OpCreate, manager.Funcs{ValidateFunc: validateName, BuildFunc: createTable})
	t.Register(model.KindTable, metaerr.OpAlter, manager.Funcs{BuildFunc: alterOwned("TABLE")})
	t.Register(model.KindTable, metaerr.OpDrop, manager.Funcs{BuildFunc: drop("DROP TABLE")})

	t.Register(model.KindColumn, metaerr.OpCreate, manager.Funcs{ValidateFunc: validateColumn, BuildFunc: createColumn})
	t.Register(model.KindColumn, metaerr.OpAlter, manager.Funcs{ValidateFunc: validateColumnChanges, BuildFunc: alterColumn})
	t.Register(model.KindColumn, metaerr.OpDrop, manager.Funcs{BuildFunc: dropColumn})

	t.Register(model.KindIndex, metaerr.OpCreate, manager.Funcs{ValidateFunc: validateIndex, BuildFunc: createIndex})
	t.Register(model.KindIndex, metaerr.OpAlter, manager.Funcs{BuildFunc: alterIndex})
	t.Register(model.KindIndex, metaerr.OpDrop, manager.Funcs{BuildFunc: drop("DROP INDEX")})

	return t
}

func validateName(_ manager.Env, req manager.Request) error {
	if err := dialect.ValidateIdentifier(req.Object.Name(), maxIdentifierLength); err != nil {
		return manager.Invalid("name", "%v", err)
	}
	return nil
}

// qualified names o by the ancestors PostgreSQL needs to address it.
func qualified(env manager.Env, o *model.Object) (string, error) {
	switch o.Kind() {
	case model.KindSchema:
		return env.Quote(o.Name()), nil
	case model.KindColumn:
		table, err := env.Ancestor(o, model.KindTable)
		if err != nil {
			return "", err
		}
		schema, err := env.Ancestor(table, model.KindSchema)
		if err != nil {
			return "", err
		}
		return env.Qualify(schema.Name(), table.Name(), o.Name()), nil
	default:
		schema, err := env.Ancestor(o, model.KindSchema)
		if err != nil {
			return "", err
		}
		return env.Qualify(schema.Name(), o.Name()), nil
	}
}

func commentOn(env manager.Env, what string, o *model.Object, attrs model.Attributes) (string, error) {
	name, err := qualified(env, o)
	if err != nil {
		return "", err
	}
	value := "NULL"
	if c := attrs.String(model.AttrComment); c != "" {
		value = env.Literal(c)
	}
	return fmt.Sprintf("COMMENT ON %s %s IS %s", what, name, value), nil
}

func drop(verb string) func(manager.Env, manager.Request) ([]string, error) {
	return func(env manager.Env, req manager.Request) ([]string, error) {
		name, err := qualified(env, req.Object)
		if err != nil {
			return nil, err
		}
		return []string{verb + " " + name}, nil
	}
}

func createSchema(env manager.Env, req manager.Request) ([]string, error) {
	attrs := req.Object.Attributes()
	stmt := "CREATE SCHEMA " + env.Quote(req.Object.Name())
	if owner := attrs.String(model.AttrOwner); owner != "" {
		stmt += " AUTHORIZATION " + env.Quote(owner)
	}
	stmts := []string{stmt}
	if attrs.String(model.AttrComment) != "" {
		c, err := commentOn(env, "SCHEMA", req.Object, attrs)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, c)
	}
	return stmts, nil
}

// createTable creates an empty table; columns are added through the column
// manager.
func createTable(env manager.Env, req manager.Request) ([]string, error) {
	name, err := qualified(env, req.Object)
	if err != nil {
		return nil, err
	}
	attrs := req.Object.Attributes()
	stmts := []string{fmt.Sprintf("CREATE TABLE %s ()", name)}
	if owner := attrs.String(model.AttrOwner); owner != "" {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s OWNER TO %s", name, env.Quote(owner)))
	}
	if attrs.String(model.AttrComment) != "" {
		c, err := commentOn(env, "TABLE", req.Object, attrs)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, c)
	}
	return stmts, nil
}

// alterOwned handles the owner and comment attributes shared by schemas and
// tables.
func alterOwned(what string) func(manager.Env, manager.Request) ([]string, error) {
	return func(env manager.Env, req manager.Request) ([]string, error) {
		name, err := qualified(env, req.Object)
		if err != nil {
			return nil, err
		}
		staged := req.Staged.Attributes()
		var stmts []string
		if req.Changed(model.AttrOwner) {
			owner := staged.String(model.AttrOwner)
			if owner == "" {
				return nil, fmt.Errorf("owner cannot be cleared")
			}
			stmts = append(stmts, fmt.Sprintf("ALTER %s %s OWNER TO %s", what, name, env.Quote(owner)))
		}
		if req.Changed(model.AttrComment) {
			c, err := commentOn(env, what, req.Object, staged)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, c)
		}
		return stmts, nil
	}
}

func validateColumn(env manager.Env, req manager.Request) error {
	if err := validateName(env, req); err != nil {
		return err
	}
	return validateColumnAttrs(req.Object.Attributes(), true)
}

func validateColumnChanges(_ manager.Env, req manager.Request) error {
	return validateColumnAttrs(req.Changes, false)
}

func validateColumnAttrs(attrs model.Attributes, requireType bool) error {
	if typ, ok := attrs[model.AttrDataType]; ok || requireType {
		s, _ := typ.(string)
		if err := dialect.ValidateDataType(s); err != nil {
			return manager.Invalid(model.AttrDataType, "%v", err)
		}
	}
	if def := attrs.String(model.AttrDefault); strings.Contains(def, ";") {
		return manager.Invalid(model.AttrDefault, "default expression must be a single expression")
	}
	return nil
}

// columnType appends the length for character types the way information_schema
// reports them separately.
func columnType(attrs model.Attributes) string {
	typ := attrs.String(model.AttrDataType)
	if n := attrs.Int(model.AttrMaxLength); n > 0 && (typ == "character varying" || typ == "varchar" || typ == "character" || typ == "char") {
		typ = fmt.Sprintf("%s(%d)", typ, n)
	}
	return typ
}

func tableOf(env manager.Env, col *model.Object) (string, error) {
	table, err := env.Ancestor(col, model.KindTable)
	if err != nil {
		return "", err
	}
	return qualified(env, table)
}

func createColumn(env manager.Env, req manager.Request) ([]string, error) {
	table, err := tableOf(env, req.Object)
	if err != nil {
		return nil, err
	}
	attrs := req.Object.Attributes()
	def := fmt.Sprintf("%s %s", env.Quote(req.Object.Name()), columnType(attrs))
	if _, known := attrs.Get(model.AttrNullable); known && !attrs.Bool(model.AttrNullable) {
		def += " NOT NULL"
	}
	if d := attrs.String(model.AttrDefault); d != "" {
		def += " DEFAULT " + d
	}
	stmts := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, def)}
	if attrs.String(model.AttrComment) != "" {
		c, err := commentOn(env, "COLUMN", req.Object, attrs)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, c)
	}
	return stmts, nil
}

func alterColumn(env manager.Env, req manager.Request) ([]string, error) {
	table, err := tableOf(env, req.Object)
	if err != nil {
		return nil, err
	}
	staged := req.Staged.Attributes()
	column := env.Quote(req.Object.Name())
	prefix := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s", table, column)

	var stmts []string
	if req.Changed(model.AttrDataType) {
		stmts = append(stmts, fmt.Sprintf("%s TYPE %s", prefix, columnType(staged)))
	}
	if req.Changed(model.AttrNullable) {
		if staged.Bool(model.AttrNullable) {
			stmts = append(stmts, prefix+" DROP NOT NULL")
		} else {
			stmts = append(stmts, prefix+" SET NOT NULL")
		}
	}
	if req.Changed(model.AttrDefault) {
		if d := staged.String(model.AttrDefault); d != "" {
			stmts = append(stmts, fmt.Sprintf("%s SET DEFAULT %s", prefix, d))
		} else {
			stmts = append(stmts, prefix+" DROP DEFAULT")
		}
	}
	if req.Changed(model.AttrComment) {
		c, err := commentOn(env, "COLUMN", req.Object, staged)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, c)
	}
	return stmts, nil
}

func dropColumn(env manager.Env, req manager.Request) ([]string, error) {
	table, err := tableOf(env, req.Object)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, env.Quote(req.Object.Name()))}, nil
}

func validateIndex(env manager.Env, req manager.Request) error {
	if err := validateName(env, req); err != nil {
		return err
	}
	if len(req.Object.Elements()) == 0 {
		return manager.Invalid("columns", "an index needs at least one column")
	}
	if method := req.Object.Attributes().String(model.AttrIndexType); method != "" && !accessMethodRe.MatchString(method) {
		return manager.Invalid(model.AttrIndexType, "%q is not an access method name", method)
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
	attrs := req.Object.Attributes()

	var b strings.Builder
	b.WriteString("CREATE ")
	if attrs.Bool(model.AttrUnique) {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "INDEX %s ON %s", env.Quote(req.Object.Name()), tableName)
	if method := attrs.String(model.AttrIndexType); method != "" {
		fmt.Fprintf(&b, " USING %s", method)
	}
	fmt.Fprintf(&b, " (%s)", env.QuoteList(req.Object.Elements(), true))

	stmts := []string{b.String()}
	if attrs.String(model.AttrComment) != "" {
		c, err := commentOn(env, "INDEX", req.Object, attrs)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, c)
	}
	return stmts, nil
}

func alterIndex(env manager.Env, req manager.Request) ([]string, error) {
	if !req.Changed(model.AttrComment) {
		return nil, nil
	}
	c, err := commentOn(env, "INDEX", req.Object, req.Staged.Attributes())
	if err != nil {
		return nil, err
	}
	return []string{c}, nil
}
