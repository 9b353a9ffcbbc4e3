// Package params implements the Param Resolver & Coercer: type-checking
// and coercing user-submitted parameter values against a workflow
// definition's declared parameters, applying defaults for anything absent.
package params

import (
	"fmt"
	"strconv"
	"strings"

	"graphqueue/internal/graphqueue/errs"
	"graphqueue/internal/workflows"
)

// ValidationError is a submit-time parameter failure, an alias of
// errs.ValidationError so jobsvc and the HTTP adapter classify it through
// the one shared taxonomy.
type ValidationError = errs.ValidationError

// Resolve coerces userParams against def.Parameters, closing the result
// over exactly the parameter names the definition declares. Unknown names
// in userParams are a ValidationError; names absent from userParams fall
// back to their declared default.
func Resolve(def *workflows.Definition, userParams map[string]interface{}) (map[string]interface{}, error) {
	for name := range userParams {
		if _, ok := def.Parameters[name]; !ok {
			return nil, &ValidationError{Param: name, Message: "unknown parameter"}
		}
	}

	resolved := make(map[string]interface{}, len(def.Parameters))
	for name, decl := range def.Parameters {
		raw, present := userParams[name]
		if !present {
			raw = decl.Default
		}
		value, err := coerce(decl, raw)
		if err != nil {
			return nil, &ValidationError{Param: name, Message: err.Error()}
		}
		resolved[name] = value
	}
	return resolved, nil
}

func coerce(decl workflows.ParameterDef, raw interface{}) (interface{}, error) {
	switch decl.Type {
	case workflows.ParamText:
		return coerceText(raw), nil
	case workflows.ParamBool:
		return coerceBool(raw)
	case workflows.ParamInt:
		return coerceInt(raw, decl.Min, decl.Max)
	case workflows.ParamFloat:
		return coerceFloat(raw, decl.Min, decl.Max)
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", decl.Type)
	}
}

func coerceText(raw interface{}) string {
	if raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", raw)
}

func coerceBool(raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		default:
			return false, fmt.Errorf("cannot coerce %q to bool", v)
		}
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot coerce %v (%T) to bool", raw, raw)
	}
}

func coerceInt(raw interface{}, min, max *float64) (int64, error) {
	if _, isBool := raw.(bool); isBool {
		return 0, fmt.Errorf("boolean value not valid for int parameter")
	}
	var n int64
	switch v := raw.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case float64:
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as int", v)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("cannot coerce %v (%T) to int", raw, raw)
	}
	if min != nil && float64(n) < *min {
		return 0, fmt.Errorf("%d is below minimum %v", n, *min)
	}
	if max != nil && float64(n) > *max {
		return 0, fmt.Errorf("%d is above maximum %v", n, *max)
	}
	return n, nil
}

func coerceFloat(raw interface{}, min, max *float64) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as float", v)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("cannot coerce %v (%T) to float", raw, raw)
	}
	if min != nil && f < *min {
		return 0, fmt.Errorf("%v is below minimum %v", f, *min)
	}
	if max != nil && f > *max {
		return 0, fmt.Errorf("%v is above maximum %v", f, *max)
	}
	return f, nil
}
