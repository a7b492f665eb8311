package capability

import (
	"encoding/json"
	"strconv"

	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
)

// ParamType enumerates the value shapes a capability can declare.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamBool   ParamType = "bool"
	ParamJSON   ParamType = "json"
)

// ParamSpec declares one named parameter of a capability.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Default  any
}

// ResolveParams joins stored parameter values against a capability's declared
// schema into a single typed map. Structured values win over text when both
// columns are present; unknown names are rejected rather than passed through;
// missing required parameters fail resolution.
func ResolveParams(specs []ParamSpec, values []models.ParamValue) (map[string]any, error) {
	byName := make(map[string]models.ParamValue, len(values))
	known := make(map[string]bool, len(specs))
	for _, s := range specs {
		known[s.Name] = true
	}
	for _, v := range values {
		if !known[v.Name] {
			return nil, engine.Ef(engine.KindValidation, "unknown parameter %q", v.Name)
		}
		byName[v.Name] = v
	}

	resolved := make(map[string]any, len(specs))
	for _, spec := range specs {
		value, ok := byName[spec.Name]
		if !ok {
			if spec.Required && spec.Default == nil {
				return nil, engine.Ef(engine.KindValidation, "missing required parameter %q", spec.Name)
			}
			if spec.Default != nil {
				resolved[spec.Name] = spec.Default
			}
			continue
		}

		out, err := coerce(spec, value)
		if err != nil {
			return nil, err
		}
		resolved[spec.Name] = out
	}
	return resolved, nil
}

func coerce(spec ParamSpec, value models.ParamValue) (any, error) {
	// value_json wins when both columns are populated.
	if len(value.ValueJSON) > 0 {
		return coerceJSON(spec, value.ValueJSON)
	}
	if value.ValueText == nil {
		return nil, engine.Ef(engine.KindValidation, "parameter %q has no value", spec.Name)
	}
	return coerceText(spec, *value.ValueText)
}

func coerceJSON(spec ParamSpec, raw json.RawMessage) (any, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, engine.Wrapf(engine.KindValidation, err, "parameter %q is not valid JSON", spec.Name)
	}
	switch spec.Type {
	case ParamString:
		s, ok := decoded.(string)
		if !ok {
			return nil, engine.Ef(engine.KindValidation, "parameter %q must be a string", spec.Name)
		}
		return s, nil
	case ParamInt:
		f, ok := decoded.(float64)
		if !ok || f != float64(int64(f)) {
			return nil, engine.Ef(engine.KindValidation, "parameter %q must be an integer", spec.Name)
		}
		return int(f), nil
	case ParamBool:
		b, ok := decoded.(bool)
		if !ok {
			return nil, engine.Ef(engine.KindValidation, "parameter %q must be a boolean", spec.Name)
		}
		return b, nil
	case ParamJSON:
		return decoded, nil
	}
	return nil, engine.Ef(engine.KindValidation, "parameter %q has unsupported type %q", spec.Name, spec.Type)
}

func coerceText(spec ParamSpec, text string) (any, error) {
	switch spec.Type {
	case ParamString:
		return text, nil
	case ParamInt:
		n, err := strconv.Atoi(text)
		if err != nil {
			return nil, engine.Wrapf(engine.KindValidation, err, "parameter %q must be an integer", spec.Name)
		}
		return n, nil
	case ParamBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, engine.Wrapf(engine.KindValidation, err, "parameter %q must be a boolean", spec.Name)
		}
		return b, nil
	case ParamJSON:
		return nil, engine.Ef(engine.KindValidation, "parameter %q requires a structured value", spec.Name)
	}
	return nil, engine.Ef(engine.KindValidation, "parameter %q has unsupported type %q", spec.Name, spec.Type)
}

// StringParam reads a required string out of a resolved parameter map.
func StringParam(params map[string]any, name string) (string, error) {
	v, ok := params[name]
	if !ok {
		return "", engine.Ef(engine.KindValidation, "%s parameter is required", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", engine.Ef(engine.KindValidation, "%s parameter must be a non-empty string", name)
	}
	return s, nil
}

// OptionalStringParam reads an optional string, returning "" when absent.
func OptionalStringParam(params map[string]any, name string) string {
	if v, ok := params[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
