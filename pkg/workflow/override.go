package workflow

import (
	"fmt"
	"maps"
	"slices"
)

const DefaultImageInput = "image"

// Targets names where per-request overrides are written.
type Targets struct {
	ImageNode        string `json:"image_node" toml:"image"`
	ImageInput       string `json:"image_input" toml:"image_input"`
	InstructionNode  string `json:"instruction_node" toml:"instruction"`
	InstructionInput string `json:"instruction_input" toml:"instruction_input"`
}

// Overrides are the per-request values written into a template.
type Overrides struct {
	// Image is the filename of an image already uploaded to the engine.
	Image       string
	Instruction string
}

func (t Targets) imageInput() string {
	if t.ImageInput == "" {
		return DefaultImageInput
	}
	return t.ImageInput
}

// Check validates that both target nodes exist in the document. It returns
// a *ConfigurationError listing every problem found.
func (t Targets) Check(f Flat) error {
	var reasons []string

	if t.ImageNode == "" {
		reasons = append(reasons, "image node not configured")
	} else if _, ok := f[t.ImageNode]; !ok {
		reasons = append(reasons, fmt.Sprintf("image node %q not in workflow", t.ImageNode))
	}

	if t.InstructionNode == "" {
		reasons = append(reasons, "instruction node not configured")
	} else if _, ok := f[t.InstructionNode]; !ok {
		reasons = append(reasons, fmt.Sprintf("instruction node %q not in workflow", t.InstructionNode))
	}

	if t.InstructionInput == "" {
		reasons = append(reasons, "instruction input not configured")
	}

	if len(reasons) > 0 {
		return &ConfigurationError{Reasons: reasons}
	}
	return nil
}

// Apply returns a copy of f with the image and instruction inputs replaced.
// Every other input, including sibling inputs of the target nodes, is left
// as it was. f itself is never modified.
func (t Targets) Apply(f Flat, o Overrides) (Flat, error) {
	if err := t.Check(f); err != nil {
		return nil, err
	}

	out := f.Clone()
	if err := out.SetInput(t.ImageNode, t.imageInput(), Text(o.Image)); err != nil {
		return nil, &ConfigurationError{Reasons: []string{err.Error()}}
	}
	if err := out.SetInput(t.InstructionNode, t.InstructionInput, Text(o.Instruction)); err != nil {
		return nil, &ConfigurationError{Reasons: []string{err.Error()}}
	}
	return out, nil
}

// Change is one input that differs between two flat documents.
type Change struct {
	NodeID string
	Input  string
	Before Value
	After  Value
}

func (c Change) String() string {
	return fmt.Sprintf("%s.%s: %s -> %s", c.NodeID, c.Input, displayOrNone(c.Before), displayOrNone(c.After))
}

// Diff lists the inputs that differ between a and b, ordered by node id and
// input name. Nodes present in only one document report each of their inputs.
func Diff(a, b Flat) []Change {
	ids := make(map[string]struct{})
	for id := range a {
		ids[id] = struct{}{}
	}
	for id := range b {
		ids[id] = struct{}{}
	}

	var changes []Change
	for _, id := range slices.Sorted(maps.Keys(ids)) {
		na, nb := a[id], b[id]

		names := make(map[string]struct{})
		for name := range na.Inputs {
			names[name] = struct{}{}
		}
		for name := range nb.Inputs {
			names[name] = struct{}{}
		}

		for _, name := range slices.Sorted(maps.Keys(names)) {
			va, okA := na.Inputs[name]
			vb, okB := nb.Inputs[name]
			if okA && okB && va.Equal(vb) {
				continue
			}
			changes = append(changes, Change{NodeID: id, Input: name, Before: va, After: vb})
		}
	}
	return changes
}

func displayOrNone(v Value) string {
	if v == nil {
		return "<none>"
	}
	return v.Display()
}
