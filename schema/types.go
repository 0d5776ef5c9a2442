package schema

import "fmt"

// FieldType defines the expected type of a data field.
type FieldType uint8

const (
	FieldTypeAny FieldType = iota
	FieldTypeInt
	FieldTypeFloat
	FieldTypeString
	FieldTypeBool
	FieldTypeArray
	FieldTypeObject
)

// String returns the string representation of the FieldType.
func (t FieldType) String() string {
	switch t {
	case FieldTypeAny:
		return "Any"
	case FieldTypeInt:
		return "Int"
	case FieldTypeFloat:
		return "Float"
	case FieldTypeString:
		return "String"
	case FieldTypeBool:
		return "Bool"
	case FieldTypeArray:
		return "Array"
	case FieldTypeObject:
		return "Object"
	default:
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
}

// Check reports whether v conforms to t. Nil is accepted by every type;
// presence is enforced through Descriptor.Required.
func (t FieldType) Check(v any) bool {
	if v == nil {
		return true
	}
	switch t {
	case FieldTypeAny:
		return true
	case FieldTypeInt:
		switch val := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			// JSON decodes numbers as float64.
			return val == float64(int64(val))
		case float32:
			return val == float32(int64(val))
		}
	case FieldTypeFloat:
		switch v.(type) {
		case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
	case FieldTypeString:
		_, ok := v.(string)
		return ok
	case FieldTypeBool:
		_, ok := v.(bool)
		return ok
	case FieldTypeArray:
		switch v.(type) {
		case []any, []string, []int, []float64, []bool:
			return true
		}
	case FieldTypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}
