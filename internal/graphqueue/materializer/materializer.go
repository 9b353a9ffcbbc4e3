// Package materializer implements the Prompt Materializer: deep-copying a
// workflow's template graph per input (and per retry), then applying file
// bindings, parameter overrides, switch states, resolution, orientation
// flip, the extra-LoRA slot policy, output-prefix binding, and seed
// binding, in the order fixed by the design.
package materializer

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"graphqueue/internal/graphqueue/node"
	"graphqueue/internal/graphqueue/params"
	"graphqueue/internal/workflows"
)

// Spec is one materialized submission unit, ready to persist as a Prompt.
type Spec struct {
	InputFile    string // original path, "" for no-input
	PromptJSON   json.RawMessage
	SeedUsed     *int64
	OutputPrefix string
}

// Options controls cross-cutting behavior not owned by the definition or
// the resolved parameters.
type Options struct {
	PerFileOverrides  map[string]map[string]interface{} // keyed by absolute path or basename
	UpstreamInputRoot string
	Resolution        *Resolution
	FlipOrientation   bool
}

type Resolution struct {
	Width  int
	Height int
}

// contextScheduleAliases maps non-canonical context_schedule values to
// their canonical form for the well-known windowed-context node class.
var contextScheduleAliases = map[string]string{
	"uniform_standard": "standard_uniform",
}

const windowedContextClassType = "WindowedContextSchedule"

var extraLoraSlotPattern = regexp.MustCompile(`^extra_lora(\d*)$`)

// Build expands one definition + resolved parameters + input selection
// into N prompt specs, one per input path (or one synthetic no-input
// iteration) times `tries`.
func Build(def *workflows.Definition, inputs []string, resolved map[string]interface{}, opts Options) ([]Spec, error) {
	if len(inputs) == 0 && def.InputType == workflows.InputNone {
		inputs = []string{""}
	}

	tries := 1
	if v, ok := resolved["tries"]; ok {
		if n, ok := toInt(v); ok && n > 0 {
			tries = n
		}
	}
	randomizeSeed := tries > 1
	if v, ok := resolved["randomize_seed"]; ok {
		if b, ok := v.(bool); ok {
			randomizeSeed = randomizeSeed || b
		}
	}

	var specs []Spec
	for _, inputPath := range inputs {
		perInputResolved := resolved
		if override, ok := lookupOverride(opts.PerFileOverrides, inputPath); ok {
			merged := mergeOverrides(resolved, override)
			reResolved, err := params.Resolve(def, merged)
			if err != nil {
				return nil, fmt.Errorf("resolving per-file overrides for %s: %w", inputPath, err)
			}
			perInputResolved = reResolved
		}

		for try := 1; try <= tries; try++ {
			spec, err := buildOne(def, inputPath, perInputResolved, opts, try, tries, randomizeSeed)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
	}

	return specs, nil
}

func lookupOverride(overrides map[string]map[string]interface{}, inputPath string) (map[string]interface{}, bool) {
	if overrides == nil || inputPath == "" {
		return nil, false
	}
	if v, ok := overrides[inputPath]; ok {
		return v, true
	}
	if v, ok := overrides[filepath.Base(inputPath)]; ok {
		return v, true
	}
	return nil, false
}

func mergeOverrides(base map[string]interface{}, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func buildOne(def *workflows.Definition, inputPath string, resolved map[string]interface{}, opts Options, try, tries int, randomizeSeed bool) (Spec, error) {
	root, err := node.Parse(def.Template)
	if err != nil {
		return Spec{}, fmt.Errorf("parsing template: %w", err)
	}
	template, ok := root.(node.Object)
	if !ok {
		return Spec{}, fmt.Errorf("template_prompt is not an object")
	}
	template = node.Clone(template).(node.Object)

	upstreamPath := rewriteUpstreamPath(inputPath, opts.UpstreamInputRoot)

	if err := applyInputBindings(def, template, upstreamPath); err != nil {
		return Spec{}, err
	}
	if err := applyParamOverrides(def, template, resolved); err != nil {
		return Spec{}, err
	}
	if err := applySwitchStates(def, template); err != nil {
		return Spec{}, err
	}
	normalizeContextSchedule(template)
	if opts.Resolution != nil {
		applyResolution(template, opts.Resolution.Width, opts.Resolution.Height)
	}
	if opts.FlipOrientation {
		applyOrientationFlip(template)
	}
	applyExtraLoraSlotPolicy(def, template, resolved)

	outputPrefix, err := applyOutputPrefix(def, template, inputPath, resolved, try, tries)
	if err != nil {
		return Spec{}, err
	}

	var seedUsed *int64
	if randomizeSeed {
		if binding, ok := def.FileBindings["seed"]; ok {
			seed := generateSeed()
			if err := writeSeedBinding(template, binding, seed); err != nil {
				return Spec{}, err
			}
			seedUsed = &seed
		}
	}

	graph, err := node.Marshal(template)
	if err != nil {
		return Spec{}, fmt.Errorf("serializing materialized graph: %w", err)
	}

	return Spec{
		InputFile:    inputPath,
		PromptJSON:   graph,
		SeedUsed:     seedUsed,
		OutputPrefix: outputPrefix,
	}, nil
}

// rewriteUpstreamPath rewrites inputPath for the upstream graph runner: a
// path underneath upstreamInputRoot is written relative to that root with
// forward slashes; otherwise the absolute path is written verbatim.
func rewriteUpstreamPath(inputPath, upstreamInputRoot string) string {
	if inputPath == "" {
		return ""
	}
	if upstreamInputRoot == "" {
		return inputPath
	}

	absInput, err1 := filepath.Abs(inputPath)
	absRoot, err2 := filepath.Abs(upstreamInputRoot)
	if err1 != nil || err2 != nil {
		return inputPath
	}

	rel, err := filepath.Rel(absRoot, absInput)
	if err != nil || strings.HasPrefix(rel, "..") {
		return inputPath
	}
	return filepath.ToSlash(rel)
}

func applyInputBindings(def *workflows.Definition, template node.Object, upstreamPath string) error {
	value := node.StringScalar(upstreamPath)
	for _, name := range []string{"load_image", "load_video", "input_file"} {
		binding, ok := def.FileBindings[name]
		if !ok {
			continue
		}
		for _, nodeID := range binding.Nodes {
			nodeObj, err := node.NodeObjectAt(template, nodeID)
			if err != nil {
				return err
			}
			inputs := node.Inputs(nodeObj)
			node.SetField(inputs, binding.Field, binding.Fields, value)
		}
	}
	return nil
}

var extraLoraNameField = regexp.MustCompile(`(?i)^extra_lora\d*_name$`)

func applyParamOverrides(def *workflows.Definition, template node.Object, resolved map[string]interface{}) error {
	for name, decl := range def.Parameters {
		if len(decl.Nodes) == 0 {
			continue
		}
		value, ok := resolved[name]
		if !ok {
			continue
		}
		if s, isStr := value.(string); isStr && s == "" && extraLoraNameField.MatchString(name) {
			continue
		}
		n, err := toNode(value)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
		for _, nodeID := range decl.Nodes {
			nodeObj, err := node.NodeObjectAt(template, nodeID)
			if err != nil {
				return err
			}
			inputs := node.Inputs(nodeObj)
			node.SetField(inputs, decl.Field, decl.Fields, n)
		}
	}
	return nil
}

func applySwitchStates(def *workflows.Definition, template node.Object) error {
	for _, sw := range def.SwitchStates {
		nodeObj, err := node.NodeObjectAt(template, sw.NodeID)
		if err != nil {
			return err
		}
		inputs := node.Inputs(nodeObj)
		n, err := toNode(sw.Value)
		if err != nil {
			return fmt.Errorf("switch_states[%s]: %w", sw.NodeID, err)
		}
		inputs[sw.Field] = n
	}
	return nil
}

func normalizeContextSchedule(template node.Object) {
	for _, n := range template {
		obj, ok := n.(node.Object)
		if !ok {
			continue
		}
		classType, _ := node.AsString(obj["class_type"])
		if classType != windowedContextClassType {
			continue
		}
		inputs, ok := obj["inputs"].(node.Object)
		if !ok {
			continue
		}
		current, ok := node.AsString(inputs["context_schedule"])
		if !ok {
			continue
		}
		if canonical, ok := contextScheduleAliases[current]; ok {
			inputs["context_schedule"] = node.StringScalar(canonical)
		}
	}
}

func applyResolution(template node.Object, width, height int) {
	for _, n := range template {
		obj, ok := n.(node.Object)
		if !ok {
			continue
		}
		inputs, ok := obj["inputs"].(node.Object)
		if !ok {
			continue
		}
		if hasNumericDims(inputs) {
			inputs["width"] = node.Int64Scalar(int64(width))
			inputs["height"] = node.Int64Scalar(int64(height))
		}
	}
}

func applyOrientationFlip(template node.Object) {
	for _, n := range template {
		obj, ok := n.(node.Object)
		if !ok {
			continue
		}
		inputs, ok := obj["inputs"].(node.Object)
		if !ok {
			continue
		}
		if hasNumericDims(inputs) {
			inputs["width"], inputs["height"] = inputs["height"], inputs["width"]
		}
	}
}

func hasNumericDims(inputs node.Object) bool {
	w, hasW := inputs["width"]
	h, hasH := inputs["height"]
	if !hasW || !hasH {
		return false
	}
	if node.IsBool(w) || node.IsBool(h) {
		return false
	}
	_, wOK := node.AsNumber(w)
	_, hOK := node.AsNumber(h)
	return wOK && hOK
}

// applyExtraLoraSlotPolicy forces strength fields to 0.0 on every inactive
// extra-LoRA slot, both in resolved and in the graph nodes those parameters
// are bound to, and (for the single-pass workflow, identified by a node of
// class_type "KSamplerSinglePass") rewires the sampler's model source to
// the highest active slot, falling back to the base loaders when every
// extra is inactive.
func applyExtraLoraSlotPolicy(def *workflows.Definition, template node.Object, resolved map[string]interface{}) {
	slots := discoverExtraLoraSlots(resolved)
	var activeSlots []string

	for _, slot := range slots {
		active := isSlotActive(resolved, slot)
		if active {
			activeSlots = append(activeSlots, slot)
			continue
		}
		for _, field := range []string{slot + "_strength_high", slot + "_strength_low", slot + "_strength"} {
			if _, declared := resolved[field]; declared {
				resolved[field] = 0.0
				decl := def.Parameters[field]
				for _, nodeID := range decl.Nodes {
					if nodeObj, err := node.NodeObjectAt(template, nodeID); err == nil {
						node.SetField(node.Inputs(nodeObj), decl.Field, decl.Fields, node.Float64Scalar(0))
					}
				}
			}
		}
	}

	rewireSinglePassModelSource(template, activeSlots)
}

func discoverExtraLoraSlots(resolved map[string]interface{}) []string {
	seen := make(map[string]bool)
	for key := range resolved {
		m := extraLoraSlotPattern.FindStringSubmatch(strings.TrimSuffix(key, "_enabled"))
		if m == nil {
			continue
		}
		if !strings.HasSuffix(key, "_enabled") {
			continue
		}
		slot := strings.TrimSuffix(key, "_enabled")
		seen[slot] = true
	}
	slots := make([]string, 0, len(seen))
	for s := range seen {
		slots = append(slots, s)
	}
	sort.Strings(slots)
	return slots
}

func isSlotActive(resolved map[string]interface{}, slot string) bool {
	enabled, _ := resolved[slot+"_enabled"].(bool)
	if !enabled {
		return false
	}
	high, _ := resolved[slot+"_name_high"].(string)
	low, _ := resolved[slot+"_name_low"].(string)
	if strings.TrimSpace(high) == "" || strings.TrimSpace(low) == "" {
		// fall back to a single name field if the slot isn't a high/low pair
		name, _ := resolved[slot+"_name"].(string)
		return strings.TrimSpace(name) != ""
	}
	return true
}

// rewireSinglePassModelSource re-points the sampler's "model" input at the
// highest active extra-LoRA slot's loader node, or back to the base 4-step
// loader nodes when no extra slot is active. Loader nodes are found by their
// _meta.title ("<slot>_loader" or "base_loader_4step"). Only applies when
// the template has a node of class_type "KSamplerSinglePass", which marks
// this as the single-pass workflow variant.
func rewireSinglePassModelSource(template node.Object, activeSlots []string) {
	samplerNodeID, ok := singlePassSamplerNode(template)
	if !ok {
		return
	}

	target := "base_loader_4step"
	if len(activeSlots) > 0 {
		target = activeSlots[len(activeSlots)-1] + "_loader"
	}

	sourceNodeID, ok := loaderNodeIDFor(template, target)
	if !ok {
		return
	}

	nodeObj, err := node.NodeObjectAt(template, samplerNodeID)
	if err != nil {
		return
	}
	inputs := node.Inputs(nodeObj)
	inputs["model"] = node.Array{node.StringScalar(sourceNodeID), node.Int64Scalar(0)}
}

// singlePassSamplerNode finds the first node whose class_type is
// "KSamplerSinglePass", used as the rewire target for the single-pass
// extra-LoRA policy. Its inputs are not inspected.
func singlePassSamplerNode(template node.Object) (string, bool) {
	for id, n := range template {
		obj, ok := n.(node.Object)
		if !ok {
			continue
		}
		classType, _ := node.AsString(obj["class_type"])
		if classType != "KSamplerSinglePass" {
			continue
		}
		return id, true
	}
	return "", false
}

func loaderNodeIDFor(template node.Object, loaderKey string) (string, bool) {
	for id, n := range template {
		obj, ok := n.(node.Object)
		if !ok {
			continue
		}
		meta, ok := obj["_meta"].(node.Object)
		if !ok {
			continue
		}
		title, _ := node.AsString(meta["title"])
		if title == loaderKey {
			return id, true
		}
	}
	return "", false
}

func applyOutputPrefix(def *workflows.Definition, template node.Object, inputPath string, resolved map[string]interface{}, try, tries int) (string, error) {
	binding, ok := def.FileBindings["output_prefix"]
	if !ok {
		return "", nil
	}

	stem := "prompt"
	if inputPath != "" {
		fileBase := filepath.Base(inputPath)
		stem = strings.TrimSuffix(fileBase, filepath.Ext(fileBase))
	}
	if tries > 1 {
		stem = fmt.Sprintf("%s_try%02d", stem, try)
	}

	outputPrefixBase, _ := resolved["output_prefix"].(string)
	base := strings.TrimRight(outputPrefixBase, "/")

	final := stem
	if base != "" {
		final = base + "/" + stem
	}

	value := node.StringScalar(final)
	for _, nodeID := range binding.Nodes {
		nodeObj, err := node.NodeObjectAt(template, nodeID)
		if err != nil {
			return "", err
		}
		inputs := node.Inputs(nodeObj)
		node.SetField(inputs, binding.Field, binding.Fields, value)
	}
	return final, nil
}

func writeSeedBinding(template node.Object, binding workflows.FileBinding, seed int64) error {
	value := node.Int64Scalar(seed)
	for _, nodeID := range binding.Nodes {
		nodeObj, err := node.NodeObjectAt(template, nodeID)
		if err != nil {
			return err
		}
		inputs := node.Inputs(nodeObj)
		// Seed binding prefers the fields list (writing to every named
		// field) over the single field name.
		node.SetFields(inputs, "", binding.Fields, value)
		if len(binding.Fields) == 0 && binding.Field != "" {
			inputs[binding.Field] = value
		}
	}
	return nil
}

// generateSeed mixes wall-clock nanoseconds with a 31-bit random value into
// a non-negative 63-bit integer.
func generateSeed() int64 {
	nanos := time.Now().UnixNano()
	randBits, err := rand.Int(rand.Reader, big.NewInt(1<<31))
	var r int64
	if err == nil {
		r = randBits.Int64()
	} else {
		// Extremely unlikely fallback: derive 31 bits from the low bytes
		// of the nanosecond clock instead of failing the build.
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(nanos))
		r = int64(binary.LittleEndian.Uint32(buf[:]) & 0x7fffffff)
	}
	seed := (nanos ^ (r << 17)) & 0x7fffffffffffffff
	return seed
}

func toNode(v interface{}) (node.Node, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return node.Parse(raw)
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
