// Package navigator is a terminal tree over a data source. It only reads
// through datasource.Reader and follows the change bus, so it never holds
// a reference the cache does not know about.
package navigator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/metacache/internal/datasource"
	"github.com/kadirbelkuyu/metacache/internal/events"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/pkg/logger"
)

const helpText = `[::b]Keys[-:-:-]
Enter   expand or collapse
r       re-read the selected group from the server
q       quit
?       this help`

// Refresher is implemented by readers that can force a re-read. The
// navigator binds 'r' to it when available.
type Refresher interface {
	Refresh(ctx context.Context, parent *model.Object, kind model.Kind) ([]*model.Object, error)
}

type Options struct {
	// LoadTimeout bounds one children fetch started from the UI.
	LoadTimeout time.Duration
	Logger      *logger.Logger
}

type groupKey struct {
	container model.ID
	kind      model.Kind
}

// group is a tree node listing the children of one kind under a container.
type group struct {
	parent *model.Object
	kind   model.Kind
	node   *tview.TreeNode
	loaded bool
	stale  bool
	count  int
}

type Navigator struct {
	reader  datasource.Reader
	timeout time.Duration
	logger  *logger.Logger

	app     *tview.Application
	pages   *tview.Pages
	tree    *tview.TreeView
	details *tview.TextView
	status  *tview.TextView

	// spawn runs background loads. Tests replace it to run inline.
	spawn func(func())

	mu       sync.Mutex
	groups   map[groupKey]*group
	selected *model.Object
}

func New(reader datasource.Reader, opts Options) *Navigator {
	timeout := opts.LoadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	n := &Navigator{
		reader:  reader,
		timeout: timeout,
		logger:  logger.OrDiscard(opts.Logger),
		groups:  make(map[groupKey]*group),
		spawn:   func(fn func()) { go fn() },
		details: tview.NewTextView().SetDynamicColors(true),
		status:  tview.NewTextView().SetDynamicColors(true),
	}

	root := n.objectNode(reader.Root())
	n.tree = tview.NewTreeView().SetRoot(root).SetCurrentNode(root)
	n.tree.SetSelectedFunc(n.onSelected)
	n.tree.SetChangedFunc(n.onChanged)
	n.expandObject(root, reader.Root())
	n.show(reader.Root())
	return n
}

// Run blocks until the user quits or ctx is done.
func (n *Navigator) Run(ctx context.Context) error {
	sub := n.reader.Subscribe(0)
	defer n.reader.Unsubscribe(sub)

	n.app = tview.NewApplication()
	n.pages = tview.NewPages()

	n.tree.SetBorder(true).SetTitle("Objects")
	n.details.SetBorder(true).SetTitle("Details")
	n.status.SetBorder(true).SetTitle("Status")

	layout := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(n.tree, 0, 2, true).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(n.details, 0, 3, false).
			AddItem(n.status, 3, 1, false),
			0, 3, false)
	n.pages.AddPage("main", layout, true, true)
	n.setStatus("Enter expands a node. Press '?' for keys.")

	n.app.SetRoot(n.pages, true).
		SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			if event.Key() != tcell.KeyRune {
				return event
			}
			switch event.Rune() {
			case 'q', 'Q':
				n.app.Stop()
				return nil
			case 'r', 'R':
				n.refreshCurrent(ctx)
				return nil
			case '?':
				n.showHelp()
				return nil
			}
			return event
		})

	go n.watch(sub)
	go func() {
		<-ctx.Done()
		n.app.Stop()
	}()

	if err := n.app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func (n *Navigator) watch(sub *events.Subscription) {
	for evt := range sub.Events() {
		n.update(func() { n.handle(evt) })
	}
}

func (n *Navigator) update(fn func()) {
	queueUpdate(n.app, fn)
}

func (n *Navigator) objectNode(o *model.Object) *tview.TreeNode {
	return tview.NewTreeNode(o.Name()).
		SetReference(o).
		SetSelectable(true).
		SetColor(tcell.ColorWhite)
}

// expandObject adds one group node per child kind. Groups load lazily.
func (n *Navigator) expandObject(node *tview.TreeNode, o *model.Object) {
	if len(node.GetChildren()) > 0 {
		return
	}
	for _, kind := range n.reader.ChildKinds(o) {
		g := &group{parent: o, kind: kind}
		g.node = tview.NewTreeNode(plural(kind)).
			SetReference(g).
			SetColor(tcell.ColorGreen).
			SetExpanded(false)
		node.AddChild(g.node)

		n.mu.Lock()
		n.groups[groupKey{o.ID(), kind}] = g
		n.mu.Unlock()
	}
}

func (n *Navigator) onSelected(node *tview.TreeNode) {
	switch ref := node.GetReference().(type) {
	case *model.Object:
		n.expandObject(node, ref)
		node.SetExpanded(!node.IsExpanded())
	case *group:
		if !node.IsExpanded() && (!ref.loaded || ref.stale) {
			n.setStatus(fmt.Sprintf("Loading %s of %s…", plural(ref.kind), tview.Escape(n.reader.QualifiedName(ref.parent))))
			n.spawn(func() { n.load(context.Background(), ref, n.reader.ListChildren) })
		}
		node.SetExpanded(!node.IsExpanded())
	}
}

func (n *Navigator) onChanged(node *tview.TreeNode) {
	if o, ok := node.GetReference().(*model.Object); ok {
		n.show(o)
	}
}

type fetchFunc func(ctx context.Context, parent *model.Object, kind model.Kind) ([]*model.Object, error)

// load fetches a group's children and rebuilds its nodes on the UI
// goroutine.
func (n *Navigator) load(ctx context.Context, g *group, fetch fetchFunc) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	children, err := fetch(ctx, g.parent, g.kind)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"container": n.reader.QualifiedName(g.parent),
			"kind":      g.kind,
			"error":     err,
		}).Debug("navigator load failed")
		n.update(func() { n.setStatus(fmt.Sprintf("[red]%s", tview.Escape(err.Error()))) })
		return
	}
	n.update(func() {
		n.fill(g, children)
		n.setStatus(fmt.Sprintf("%d %s under %s", len(children), plural(g.kind), tview.Escape(n.reader.QualifiedName(g.parent))))
	})
}

// fill replaces the group's nodes with children, keeping the nodes (and
// their expansion) of objects that are still present.
func (n *Navigator) fill(g *group, children []*model.Object) {
	existing := make(map[*model.Object]*tview.TreeNode)
	for _, child := range g.node.GetChildren() {
		if o, ok := child.GetReference().(*model.Object); ok {
			existing[o] = child
		}
	}

	g.node.ClearChildren()
	for _, o := range children {
		node, ok := existing[o]
		if !ok {
			node = n.objectNode(o)
		}
		node.SetText(o.Name())
		g.node.AddChild(node)
	}
	for o := range existing {
		if o.Destroyed() {
			n.forget(o)
		}
	}

	g.loaded, g.stale, g.count = true, false, len(children)
	g.node.SetText(groupLabel(g.kind, g.count, false))
}

// forget drops group bookkeeping below a removed object.
func (n *Navigator) forget(o *model.Object) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.forgetLocked(o)
}

func (n *Navigator) forgetLocked(o *model.Object) {
	for key, g := range n.groups {
		if key.container != o.ID() {
			continue
		}
		delete(n.groups, key)
		for _, child := range g.node.GetChildren() {
			if c, ok := child.GetReference().(*model.Object); ok {
				n.forgetLocked(c)
			}
		}
	}
}

func (n *Navigator) lookup(container model.ID, kind model.Kind) (*group, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	g, ok := n.groups[groupKey{container, kind}]
	return g, ok
}

// handle applies one bus event. Groups that were never opened ignore it.
func (n *Navigator) handle(evt events.Event) {
	g, ok := n.lookup(evt.Container, evt.Kind)
	if !ok || !g.loaded {
		return
	}

	switch evt.Type {
	case events.ContainerInvalidated:
		g.stale = true
		g.node.SetText(groupLabel(g.kind, g.count, true))
	case events.AttributesChanged:
		n.mu.Lock()
		selected := n.selected
		n.mu.Unlock()
		if selected != nil && selected.ID() == evt.Object {
			n.show(selected)
		}
	case events.ChildAdded, events.ChildRemoved, events.ChildMoved, events.ContainerRefreshed:
		// The entry is valid again, so this read is served from memory.
		n.spawn(func() { n.load(context.Background(), g, n.reader.ListChildren) })
	}
}

func (n *Navigator) refreshCurrent(ctx context.Context) {
	refresher, ok := n.reader.(Refresher)
	if !ok {
		n.setStatus("[yellow]This data source is read-only.")
		return
	}
	node := n.tree.GetCurrentNode()
	if node == nil {
		return
	}
	g, ok := node.GetReference().(*group)
	if !ok {
		n.setStatus("Select a group node to refresh.")
		return
	}
	n.setStatus(fmt.Sprintf("Refreshing %s of %s…", plural(g.kind), tview.Escape(n.reader.QualifiedName(g.parent))))
	n.spawn(func() { n.load(ctx, g, refresher.Refresh) })
}

func (n *Navigator) show(o *model.Object) {
	n.mu.Lock()
	n.selected = o
	n.mu.Unlock()
	n.details.SetText(describe(n.reader, o))
}

func (n *Navigator) setStatus(text string) {
	n.status.SetText(text)
}

func (n *Navigator) showHelp() {
	const pageName = "help"
	view := tview.NewTextView().SetDynamicColors(true).SetText(helpText)
	view.SetBorder(true).SetTitle("Help")
	view.SetDoneFunc(func(tcell.Key) {
		n.pages.RemovePage(pageName)
		n.app.SetFocus(n.tree)
	})
	n.pages.AddPage(pageName, newModal(view, 50, 8), true, true)
	n.app.SetFocus(view)
}
