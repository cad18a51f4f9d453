package navigator

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/kadirbelkuyu/metacache/internal/datasource"
	"github.com/kadirbelkuyu/metacache/internal/model"
)

func formatValue(value model.Value) string {
	switch v := value.(type) {
	case nil:
		return "-"
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatElements(elements []model.Element) string {
	names := make([]string, 0, len(elements))
	for _, el := range elements {
		name := el.Name
		if el.Descending {
			name += " DESC"
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func plural(kind model.Kind) string {
	name := string(kind)
	if strings.HasSuffix(name, "x") || strings.HasSuffix(name, "s") {
		return name + "es"
	}
	return name + "s"
}

func groupLabel(kind model.Kind, count int, stale bool) string {
	label := fmt.Sprintf("%s (%d)", plural(kind), count)
	if stale {
		label += " [stale]"
	}
	return label
}

// describe renders the details pane for one object. Only attributes the
// dialect marks viewable are shown, in schema order.
func describe(r datasource.Reader, o *model.Object) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[::b]%s[-:-:-]\n", tview.Escape(r.QualifiedName(o)))
	fmt.Fprintf(&b, "Kind: %s\n", o.Kind())
	fmt.Fprintf(&b, "State: %s\n", o.State())

	for _, spec := range r.Schema(o.Kind()) {
		if !spec.Viewable {
			continue
		}
		v, _ := r.GetAttribute(o, spec.Name)
		label := spec.Label
		if label == "" {
			label = spec.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", label, tview.Escape(formatValue(v)))
	}

	if elements := o.Elements(); len(elements) > 0 {
		fmt.Fprintf(&b, "Columns: %s\n", tview.Escape(formatElements(elements)))
	}
	return b.String()
}
