package introspect

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kadirbelkuyu/metacache/internal/model"
)

// decode converts a driver value to the declared attribute type. A nil value
// returns ok=false (unknown), a value that cannot be converted returns an
// error.
func decode(v any, typ model.AttrType) (model.Value, bool, error) {
	if v == nil {
		return nil, false, nil
	}
	switch typ {
	case model.TypeString:
		s, err := asString(v)
		return s, err == nil, err
	case model.TypeInt:
		n, err := asInt(v)
		return n, err == nil, err
	case model.TypeBool:
		b, err := asBool(v)
		return b, err == nil, err
	case model.TypeFloat:
		f, err := asFloat(v)
		return f, err == nil, err
	default:
		return nil, false, fmt.Errorf("unknown attribute type %d", typ)
	}
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.Format(time.RFC3339), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return fmt.Sprintf("%v", x), nil
	}
}

func asInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	default:
		return 0, fmt.Errorf("cannot read %T as integer", v)
	}
}

func asFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("cannot read %T as number", v)
	}
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case []byte:
		return parseBool(string(x))
	case string:
		return parseBool(x)
	default:
		return false, fmt.Errorf("cannot read %T as boolean", v)
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "y", "yes", "1":
		return true, nil
	case "f", "false", "n", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", s)
}

const descSuffix = " desc"

func parseElements(v any, format ElementFormat) ([]model.Element, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := asString(v)
	if err != nil {
		return nil, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	switch format {
	case ElementsSigned:
		return parseSigned(raw)
	default:
		parts := strings.Split(raw, ",")
		out := make([]model.Element, 0, len(parts))
		for i, p := range parts {
			name := strings.TrimSpace(p)
			desc := false
			if len(name) > len(descSuffix) && strings.EqualFold(name[len(name)-len(descSuffix):], descSuffix) {
				name, desc = strings.TrimSpace(name[:len(name)-len(descSuffix)]), true
			}
			if name == "" {
				return nil, fmt.Errorf("empty element at position %d in %q", i+1, raw)
			}
			out = append(out, model.Element{Name: name, Position: i + 1, Descending: desc})
		}
		return out, nil
	}
}

// parseSigned reads "+A-B+C": each element starts at a sign character.
func parseSigned(raw string) ([]model.Element, error) {
	if raw[0] != '+' && raw[0] != '-' {
		return nil, fmt.Errorf("%q does not start with a direction sign", raw)
	}
	var out []model.Element
	start := 0
	for i := 1; i <= len(raw); i++ {
		if i < len(raw) && raw[i] != '+' && raw[i] != '-' {
			continue
		}
		name := strings.TrimSpace(raw[start+1 : i])
		if name == "" {
			return nil, fmt.Errorf("empty element in %q", raw)
		}
		out = append(out, model.Element{
			Name:       name,
			Position:   len(out) + 1,
			Descending: raw[start] == '-',
		})
		start = i
	}
	return out, nil
}
