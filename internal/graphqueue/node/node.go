// Package node implements the tagged-variant representation of a template
// graph used by the materializer: a string-keyed tree of heterogeneous
// leaves (scalars, upstream references, nested objects) that supports
// typed, in-place mutation across the apply-phases.
package node

import (
	"encoding/json"
	"fmt"
)

// Node is one of Object, Array or Scalar.
type Node interface {
	node()
}

// Object is a JSON object: the node graph itself, and every node's "inputs".
type Object map[string]Node

// Array is a JSON array, including upstream-style [node_id, output_index]
// references.
type Array []Node

// Scalar is a string/number/bool/null leaf, held as raw JSON so its exact
// representation (int vs float, for instance) survives round-tripping.
type Scalar struct {
	Raw json.RawMessage
}

func (Object) node() {}
func (Array) node()  {}
func (Scalar) node() {}

// Parse decodes raw JSON into a Node tree.
func Parse(raw json.RawMessage) (Node, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return fromInterface(v), nil
}

func fromInterface(v interface{}) Node {
	switch t := v.(type) {
	case map[string]interface{}:
		obj := make(Object, len(t))
		for k, val := range t {
			obj[k] = fromInterface(val)
		}
		return obj
	case []interface{}:
		arr := make(Array, len(t))
		for i, val := range t {
			arr[i] = fromInterface(val)
		}
		return arr
	default:
		raw, _ := json.Marshal(t)
		return Scalar{Raw: raw}
	}
}

// Marshal re-serializes a Node tree back to JSON.
func Marshal(n Node) (json.RawMessage, error) {
	v := toInterface(n)
	return json.Marshal(v)
}

func toInterface(n Node) interface{} {
	switch t := n.(type) {
	case Object:
		m := make(map[string]interface{}, len(t))
		for k, v := range t {
			m[k] = toInterface(v)
		}
		return m
	case Array:
		a := make([]interface{}, len(t))
		for i, v := range t {
			a[i] = toInterface(v)
		}
		return a
	case Scalar:
		var v interface{}
		_ = json.Unmarshal(t.Raw, &v)
		return v
	default:
		return nil
	}
}

// Clone deep-copies a Node tree; the materializer clones the template once
// per iteration so mutations never leak across prompts.
func Clone(n Node) Node {
	switch t := n.(type) {
	case Object:
		out := make(Object, len(t))
		for k, v := range t {
			out[k] = Clone(v)
		}
		return out
	case Array:
		out := make(Array, len(t))
		for i, v := range t {
			out[i] = Clone(v)
		}
		return out
	case Scalar:
		raw := make(json.RawMessage, len(t.Raw))
		copy(raw, t.Raw)
		return Scalar{Raw: raw}
	default:
		return nil
	}
}

// StringScalar builds a Scalar wrapping a Go string.
func StringScalar(s string) Scalar {
	raw, _ := json.Marshal(s)
	return Scalar{Raw: raw}
}

// Int64Scalar builds a Scalar wrapping a Go int64.
func Int64Scalar(i int64) Scalar {
	raw, _ := json.Marshal(i)
	return Scalar{Raw: raw}
}

// Float64Scalar builds a Scalar wrapping a Go float64.
func Float64Scalar(f float64) Scalar {
	raw, _ := json.Marshal(f)
	return Scalar{Raw: raw}
}

// AsString returns the scalar's string value, if it is a JSON string.
func AsString(n Node) (string, bool) {
	s, ok := n.(Scalar)
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(s.Raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// AsNumber returns the scalar's numeric value. JSON booleans, strings and
// null are rejected because they fail to decode into a float64.
func AsNumber(n Node) (float64, bool) {
	s, ok := n.(Scalar)
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(s.Raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// IsBool reports whether the scalar is a JSON boolean literal.
func IsBool(n Node) bool {
	s, ok := n.(Scalar)
	if !ok {
		return false
	}
	var b bool
	return json.Unmarshal(s.Raw, &b) == nil
}

// NodeObjectAt fetches the template's node object for a node id, erroring
// if it is missing or not an object.
func NodeObjectAt(template Object, nodeID string) (Object, error) {
	v, ok := template[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %q not found in template", nodeID)
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("node %q is not an object", nodeID)
	}
	return obj, nil
}

// Inputs fetches (creating if absent) the "inputs" object of a node.
func Inputs(nodeObj Object) Object {
	v, ok := nodeObj["inputs"]
	if !ok {
		inputs := Object{}
		nodeObj["inputs"] = inputs
		return inputs
	}
	obj, ok := v.(Object)
	if !ok {
		inputs := Object{}
		nodeObj["inputs"] = inputs
		return inputs
	}
	return obj
}

// SetField writes value into inputs[preferred] if preferred is non-empty,
// else into inputs[candidates[0]] when candidates is non-empty, reporting
// whether anything was written. This factors the "preferred field, else
// first candidate" write rule shared by every apply-phase.
func SetField(inputs Object, preferred string, candidates []string, value Node) bool {
	if preferred != "" {
		inputs[preferred] = value
		return true
	}
	if len(candidates) > 0 {
		inputs[candidates[0]] = value
		return true
	}
	return false
}

// SetFields writes value into every field named by preferred (if set) and
// all of candidates (if preferred is unset), used by bindings whose
// "fields" list means "write to all of these", not "pick one".
func SetFields(inputs Object, preferred string, candidates []string, value Node) bool {
	if preferred != "" {
		inputs[preferred] = value
		return true
	}
	if len(candidates) == 0 {
		return false
	}
	for _, f := range candidates {
		inputs[f] = value
	}
	return true
}
