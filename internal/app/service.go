package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/metacache/internal/config"
	"github.com/kadirbelkuyu/metacache/internal/database"
	"github.com/kadirbelkuyu/metacache/internal/datasource"
	"github.com/kadirbelkuyu/metacache/internal/dialect"
	"github.com/kadirbelkuyu/metacache/internal/dialect/db2"
	"github.com/kadirbelkuyu/metacache/internal/dialect/postgres"
	"github.com/kadirbelkuyu/metacache/internal/dialect/sqlite"
	"github.com/kadirbelkuyu/metacache/internal/metaerr"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/internal/session"
	"github.com/kadirbelkuyu/metacache/internal/ui/navigator"
	"github.com/kadirbelkuyu/metacache/pkg/interactive"
	"github.com/kadirbelkuyu/metacache/pkg/logger"
	"github.com/kadirbelkuyu/metacache/pkg/progress"
)

// NewRegistry returns the dialects this binary ships.
func NewRegistry(driver string) *dialect.Registry {
	pg := postgres.New()
	if driver == "pgx" {
		pg = postgres.NewWithDriver(driver)
	}
	return dialect.NewRegistry(pg, db2.New(), sqlite.New())
}

// Service runs the command-line workflows against one data source.
type Service struct {
	ds       *datasource.DataSource
	conn     *database.Connection
	out      io.Writer
	prompter *interactive.Prompter
	logger   *logger.Logger
}

// Open connects to the configured database and wraps it in a data source.
func Open(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, log *logger.Logger) (*Service, error) {
	log = logger.OrDiscard(log)
	d, err := NewRegistry(cfg.Database.Driver).Lookup(cfg.Database.Type)
	if err != nil {
		return nil, err
	}

	conn, err := database.NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ds := datasource.New(d, session.NewSQLProvider(conn.DB, log), datasource.Options{
		ID:           cfg.Database.Name,
		Name:         cfg.Database.Name,
		FetchTimeout: cfg.Cache.FetchTimeout,
		Workers:      cfg.Cache.RefreshWorkers,
		EventBuffer:  cfg.Cache.EventBuffer,
		Logger:       log,
	})

	svc := NewService(ds, in, out, log)
	svc.conn = conn
	log.WithFields(logrus.Fields{
		"dialect":    d.Name(),
		"driver":     cfg.Database.Driver,
		"datasource": ds.Name(),
	}).Debug("connected")
	return svc, nil
}

func NewService(ds *datasource.DataSource, in io.Reader, out io.Writer, log *logger.Logger) *Service {
	return &Service{
		ds:       ds,
		out:      out,
		prompter: interactive.NewPrompter(in, out),
		logger:   logger.OrDiscard(log),
	}
}

func (s *Service) DataSource() *datasource.DataSource { return s.ds }

func (s *Service) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Target names an object on the command line either by kind and path or by
// a serialized reference.
type Target struct {
	Kind model.Kind
	Path []string
	Ref  string
}

// ParseTarget accepts "kind a/b/c" or a single reference string.
func ParseTarget(args []string) (Target, error) {
	switch {
	case len(args) == 1 && strings.Contains(args[0], ":"):
		return Target{Ref: args[0]}, nil
	case len(args) == 2:
		kind, ok := model.ParseKind(args[0])
		if !ok {
			return Target{}, fmt.Errorf("unknown object kind %q", args[0])
		}
		return Target{Kind: kind, Path: SplitPath(args[1])}, nil
	}
	return Target{}, fmt.Errorf("expected <kind> <path> or a reference")
}

// SplitPath splits a slash separated object path.
func SplitPath(path string) []string {
	var out []string
	for _, p := range strings.Split(path, "/") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) resolve(ctx context.Context, t Target) (*model.Object, error) {
	if t.Ref != "" {
		ref, err := model.ParseRef(t.Ref)
		if err != nil {
			return nil, err
		}
		return s.ds.Resolve(ctx, ref)
	}
	return s.ds.Locate(ctx, t.Kind, t.Path...)
}

// List prints the children of kind under the container at path.
func (s *Service) List(ctx context.Context, kind model.Kind, path []string) error {
	container, err := s.ds.Container(ctx, kind, path...)
	if err != nil {
		return err
	}
	children, err := s.ds.ListChildren(ctx, container, kind)
	if err != nil {
		return err
	}
	s.printObjects(kind, children)
	return nil
}

// Refresh re-reads children of kind under the container at path. With all
// set, path addresses a grandparent and every container below it is
// refreshed concurrently.
func (s *Service) Refresh(ctx context.Context, kind model.Kind, path []string, all bool, monitor progress.Monitor) error {
	if !all {
		container, err := s.ds.Container(ctx, kind, path...)
		if err != nil {
			return err
		}
		children, err := s.ds.Refresh(ctx, container, kind)
		if err != nil {
			return err
		}
		s.printObjects(kind, children)
		return nil
	}

	parents, err := s.containersBelow(ctx, kind, path)
	if err != nil {
		return err
	}
	if err := s.ds.RefreshAll(ctx, parents, kind, monitor); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Refreshed %s under %d container(s)\n", kind, len(parents))
	return nil
}

func (s *Service) containersBelow(ctx context.Context, kind model.Kind, path []string) ([]*model.Object, error) {
	var grand *model.Object
	var err error
	if len(path) == 0 {
		grand = s.ds.Root()
	} else {
		grand, err = s.locateAny(ctx, path)
		if err != nil {
			return nil, err
		}
	}

	var parents []*model.Object
	for _, k := range s.ds.ChildKinds(grand) {
		if !slices.Contains(s.ds.Dialect().ChildKinds(k), kind) {
			continue
		}
		children, err := s.ds.ListChildren(ctx, grand, k)
		if err != nil {
			return nil, err
		}
		parents = append(parents, children...)
	}
	if len(parents) == 0 {
		return nil, fmt.Errorf("nothing below %s holds a %s", s.ds.QualifiedName(grand), kind)
	}
	return parents, nil
}

// locateAny resolves path to whichever container kind matches the last
// element.
func (s *Service) locateAny(ctx context.Context, path []string) (*model.Object, error) {
	var lastErr error
	parent := s.ds.Root()
	if len(path) > 1 {
		p, err := s.locateAny(ctx, path[:len(path)-1])
		if err != nil {
			return nil, err
		}
		parent = p
	}
	for _, k := range s.ds.ChildKinds(parent) {
		if _, err := s.ds.ListChildren(ctx, parent, k); err != nil {
			lastErr = err
			continue
		}
		if o, ok := s.ds.Cache().Lookup(parent, k, path[len(path)-1]); ok {
			return o, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &metaerr.NotFoundError{
		Object: strings.Join(path, "."),
		Op:     metaerr.OpResolve,
		Name:   path[len(path)-1],
		Parent: s.ds.QualifiedName(parent),
	}
}

// Show prints the attributes of one object and its reference.
func (s *Service) Show(ctx context.Context, t Target) error {
	o, err := s.resolve(ctx, t)
	if err != nil {
		return err
	}
	s.printObject(o)
	return nil
}

// IndexSpec describes an index for CreateIndex. Columns may carry a " DESC"
// or ":desc" suffix.
type IndexSpec struct {
	Path    []string
	Name    string
	Columns []string
	Unique  bool
	Comment string
}

func (s *Service) CreateIndex(ctx context.Context, spec IndexSpec, dryRun bool) error {
	table, err := s.ds.Container(ctx, model.KindIndex, spec.Path...)
	if err != nil {
		return err
	}

	attrs := model.Attributes{model.AttrUnique: spec.Unique}
	if spec.Comment != "" {
		attrs[model.AttrComment] = spec.Comment
	}
	elements := make([]model.Element, 0, len(spec.Columns))
	for _, col := range spec.Columns {
		elements = append(elements, parseColumn(col))
	}

	idx, err := s.ds.NewObject(table, model.KindIndex, spec.Name, attrs, elements...)
	if err != nil {
		return err
	}
	if dryRun {
		defer s.ds.Discard(idx)
		return s.printScript(metaerr.OpCreate, idx, nil)
	}
	if err := s.ds.Create(ctx, idx); err != nil {
		s.ds.Discard(idx)
		return err
	}
	fmt.Fprintf(s.out, "Created index %s\n", s.ds.QualifiedName(idx))
	return nil
}

func parseColumn(col string) model.Element {
	col = strings.TrimSpace(col)
	lower := strings.ToLower(col)
	for _, suffix := range []string{" desc", ":desc"} {
		if strings.HasSuffix(lower, suffix) {
			return model.Element{Name: strings.TrimSpace(col[:len(col)-len(suffix)]), Descending: true}
		}
	}
	for _, suffix := range []string{" asc", ":asc"} {
		if strings.HasSuffix(lower, suffix) {
			return model.Element{Name: strings.TrimSpace(col[:len(col)-len(suffix)])}
		}
	}
	return model.Element{Name: col}
}

// Comment sets or clears the comment of an object.
func (s *Service) Comment(ctx context.Context, t Target, text string, dryRun bool) error {
	o, err := s.resolve(ctx, t)
	if err != nil {
		return err
	}
	changes := model.Attributes{model.AttrComment: text}
	if dryRun {
		return s.printScript(metaerr.OpAlter, o, changes)
	}
	if err := s.ds.Alter(ctx, o, changes); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Updated comment on %s\n", s.ds.QualifiedName(o))
	return nil
}

// Drop removes an object after confirmation unless yes is set.
func (s *Service) Drop(ctx context.Context, t Target, yes, dryRun bool) error {
	o, err := s.resolve(ctx, t)
	if err != nil {
		return err
	}
	name := s.ds.QualifiedName(o)
	if dryRun {
		return s.printScript(metaerr.OpDrop, o, nil)
	}
	if !yes && !s.prompter.ConfirmAction("DROP "+strings.ToUpper(string(o.Kind())), name) {
		s.logger.Info("Operation cancelled by user.")
		return nil
	}
	if err := s.ds.Drop(ctx, o); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Dropped %s %s\n", o.Kind(), name)
	return nil
}

// Browse starts the terminal navigator.
func (s *Service) Browse(ctx context.Context) error {
	return navigator.New(s.ds, navigator.Options{Logger: s.logger}).Run(ctx)
}

// Walk is a line-oriented navigator: pick a child kind, then an object, and
// descend until an object without children is shown.
func (s *Service) Walk(ctx context.Context) error {
	cur := s.ds.Root()
	for {
		kinds := s.ds.ChildKinds(cur)
		if len(kinds) == 0 {
			s.printObject(cur)
			return nil
		}

		kind := kinds[0]
		if len(kinds) > 1 {
			labels := make([]string, len(kinds))
			for i, k := range kinds {
				labels[i] = string(k)
			}
			i, err := s.prompter.Select("Object kinds under "+s.ds.QualifiedName(cur), labels)
			if err != nil {
				return err
			}
			kind = kinds[i]
		}

		children, err := s.ds.ListChildren(ctx, cur, kind)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			fmt.Fprintf(s.out, "No %s found under %s\n", kind, s.ds.QualifiedName(cur))
			return nil
		}
		names := make([]string, len(children))
		for i, c := range children {
			names[i] = c.Name()
		}
		i, err := s.prompter.Select(fmt.Sprintf("%s under %s", kind, s.ds.QualifiedName(cur)), names)
		if err != nil {
			return err
		}
		cur = children[i]
	}
}

func (s *Service) printScript(op metaerr.Op, o *model.Object, changes model.Attributes) error {
	stmts, err := s.ds.Script(op, o, changes)
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		fmt.Fprintln(s.out, "-- nothing to do")
		return nil
	}
	for _, stmt := range stmts {
		fmt.Fprintf(s.out, "%s;\n", stmt)
	}
	return nil
}

func (s *Service) printObjects(kind model.Kind, objects []*model.Object) {
	if len(objects) == 0 {
		fmt.Fprintf(s.out, "No %s found\n", kind)
		return
	}

	var viewable []model.AttributeSpec
	for _, spec := range s.ds.Schema(kind) {
		if spec.Viewable {
			viewable = append(viewable, spec)
		}
	}

	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	header := []string{"NAME"}
	for _, spec := range viewable {
		header = append(header, strings.ToUpper(label(spec)))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, o := range objects {
		row := []string{o.Name()}
		for _, spec := range viewable {
			v, _ := s.ds.GetAttribute(o, spec.Name)
			row = append(row, formatValue(v))
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func (s *Service) printObject(o *model.Object) {
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", s.ds.QualifiedName(o))
	fmt.Fprintf(w, "Kind:\t%s\n", o.Kind())
	fmt.Fprintf(w, "State:\t%s\n", o.State())
	for _, spec := range s.ds.Schema(o.Kind()) {
		if !spec.Viewable {
			continue
		}
		v, _ := s.ds.GetAttribute(o, spec.Name)
		fmt.Fprintf(w, "%s:\t%s\n", label(spec), formatValue(v))
	}
	if elements := o.Elements(); len(elements) > 0 {
		cols := make([]string, len(elements))
		for i, el := range elements {
			cols[i] = el.Name
			if el.Descending {
				cols[i] += " DESC"
			}
		}
		fmt.Fprintf(w, "Columns:\t%s\n", strings.Join(cols, ", "))
	}
	if ref, err := s.ds.Ref(o); err == nil {
		fmt.Fprintf(w, "Ref:\t%s\n", ref)
	}
	_ = w.Flush()
}

func label(spec model.AttributeSpec) string {
	if spec.Label != "" {
		return spec.Label
	}
	return spec.Name
}

func formatValue(v model.Value) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case string:
		if v == "" {
			return "-"
		}
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Describe renders err for the terminal. Server diagnostics are printed
// verbatim with the failing statement.
func Describe(err error) string {
	var exec *metaerr.ExecutionError
	if errors.As(err, &exec) && exec.Statement != "" {
		return fmt.Sprintf("%v\nstatement: %s", err, exec.Statement)
	}
	return err.Error()
}
