package model

// AttrType is the declared type of an attribute.
type AttrType int

const (
	TypeString AttrType = iota
	TypeInt
	TypeBool
	TypeFloat
)

func (t AttrType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeFloat:
		return "float"
	default:
		return "string"
	}
}

// AttributeSpec describes one attribute of a kind for display and editing.
type AttributeSpec struct {
	Name     string
	Label    string
	Type     AttrType
	Mutable  bool
	Viewable bool
}

// Schema is the ordered attribute list of a kind.
type Schema []AttributeSpec

// Find returns the attribute with the given name.
func (s Schema) Find(name string) (AttributeSpec, bool) {
	for _, spec := range s {
		if spec.Name == name {
			return spec, true
		}
	}
	return AttributeSpec{}, false
}

// Common attribute names shared across dialects.
const (
	AttrComment     = "comment"
	AttrOwner       = "owner"
	AttrUnique      = "unique"
	AttrPrimary     = "primary"
	AttrCardinality = "cardinality"
	AttrIndexType   = "index_type"
	AttrAdditional  = "additional_info"
	AttrDataType    = "data_type"
	AttrNullable    = "nullable"
	AttrDefault     = "default"
	AttrMaxLength   = "max_length"
	AttrPosition    = "position"
	AttrRowEstimate = "row_estimate"
	AttrPageSize    = "page_size"
	AttrPages       = "pages"
	AttrBufferID    = "buffer_id"
	AttrSchema      = "schema"
)
