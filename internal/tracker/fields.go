package tracker

import (
	"encoding/json"
	"strings"
)

// CustomField is one structured field on an item. Value is left raw
// because its shape depends on the field type.
type CustomField struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Value      json.RawMessage `json:"value"`
	TypeConfig *TypeConfig     `json:"type_config,omitempty"`
}

type TypeConfig struct {
	Options []FieldOption `json:"options"`
}

type FieldOption struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"orderindex"`
}

// Field finds a custom field by name, case-insensitively, and decodes
// its value. Returns nil when absent or empty.
func (it Item) Field(name string) any {
	for _, f := range it.CustomFields {
		if strings.EqualFold(f.Name, name) {
			return f.Decode()
		}
	}
	return nil
}

// FieldString is Field narrowed to string values.
func (it Item) FieldString(name string) string {
	if s, ok := it.Field(name).(string); ok {
		return s
	}
	return ""
}

// FieldBool is Field narrowed to bool values.
func (it Item) FieldBool(name string) bool {
	if b, ok := it.Field(name).(bool); ok {
		return b
	}
	return false
}

// Decode resolves the field value type-aware: dropdown indexes and
// multi-select id lists resolve to option names, nested objects unwrap
// their inner value, anything else passes through.
func (f CustomField) Decode() any {
	if len(f.Value) == 0 || string(f.Value) == "null" {
		return nil
	}
	var v any
	if err := json.Unmarshal(f.Value, &v); err != nil {
		return nil
	}
	if f.TypeConfig != nil && len(f.TypeConfig.Options) > 0 {
		switch val := v.(type) {
		case float64:
			idx := int(val)
			for _, o := range f.TypeConfig.Options {
				if o.OrderIndex == idx {
					return o.Name
				}
			}
			return nil
		case []any:
			var names []string
			for _, raw := range val {
				id := stringify(raw)
				for _, o := range f.TypeConfig.Options {
					if o.ID == id {
						names = append(names, o.Name)
						break
					}
				}
			}
			switch len(names) {
			case 0:
				return nil
			case 1:
				return names[0]
			default:
				return names
			}
		}
	}
	if obj, ok := v.(map[string]any); ok {
		if inner, ok := obj["value"]; ok {
			return inner
		}
	}
	return v
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		b, _ := json.Marshal(val)
		return string(b)
	default:
		return ""
	}
}
