// Package workflow models the declarative node-graph workflows submitted to
// the image-processing engine. It reads both export shapes, normalizes the
// graph shape into the flat shape the engine executes, applies per-request
// overrides and selects the output artifact of a finished run.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Shape identifies which of the two export layouts a Document holds.
type Shape int

const (
	ShapeFlat Shape = iota + 1
	ShapeGraph
)

func (s Shape) String() string {
	switch s {
	case ShapeFlat:
		return "flat"
	case ShapeGraph:
		return "graph"
	default:
		return "unknown"
	}
}

// Meta is the optional node annotation block of the flat shape.
type Meta struct {
	Title string `json:"title,omitempty"`
}

// Node is one executable node of the flat shape.
type Node struct {
	ClassType string           `json:"class_type"`
	Inputs    map[string]Value `json:"inputs"`
	Meta      *Meta            `json:"_meta,omitempty"`
}

// Title returns the node's display title, falling back to its type.
func (n Node) Title() string {
	if n.Meta != nil && n.Meta.Title != "" {
		return n.Meta.Title
	}
	return n.ClassType
}

func (n Node) clone() Node {
	out := Node{
		ClassType: n.ClassType,
		Inputs:    make(map[string]Value, len(n.Inputs)),
	}
	for name, v := range n.Inputs {
		out.Inputs[name] = v.clone()
	}
	if n.Meta != nil {
		meta := *n.Meta
		out.Meta = &meta
	}
	return out
}

// Flat is the executable shape: node id to node, inputs keyed by name.
type Flat map[string]Node

// Clone returns a deep copy.
func (f Flat) Clone() Flat {
	out := make(Flat, len(f))
	for id, n := range f {
		out[id] = n.clone()
	}
	return out
}

// IDs returns the node ids in sorted order.
func (f Flat) IDs() []string {
	return slices.Sorted(maps.Keys(f))
}

// Input reads a named input of a node.
func (f Flat) Input(nodeID, name string) (Value, bool) {
	n, ok := f[nodeID]
	if !ok {
		return nil, false
	}
	v, ok := n.Inputs[name]
	return v, ok
}

// SetInput writes a named input of a node in place. It fails with
// ErrNodeNotFound when the node does not exist.
func (f Flat) SetInput(nodeID, name string, v Value) error {
	n, ok := f[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if n.Inputs == nil {
		n.Inputs = make(map[string]Value)
	}
	n.Inputs[name] = v
	f[nodeID] = n
	return nil
}

// Refs returns every reference held by the document's inputs.
func (f Flat) Refs() []Ref {
	var refs []Ref
	for _, id := range f.IDs() {
		n := f[id]
		for _, name := range slices.Sorted(maps.Keys(n.Inputs)) {
			if r, ok := n.Inputs[name].Ref(); ok {
				refs = append(refs, r)
			}
		}
	}
	return refs
}

// GraphInput is a declared input slot of a graph node.
type GraphInput struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Link *int64 `json:"link"`
}

// GraphNode is a node of the graph shape. Literal parameters live in
// WidgetsValues in the type's declared order.
type GraphNode struct {
	ID            NodeID       `json:"id"`
	Type          string       `json:"type"`
	Title         string       `json:"title,omitempty"`
	Inputs        []GraphInput `json:"inputs,omitempty"`
	WidgetsValues Widgets      `json:"widgets_values,omitempty"`
}

// Widgets holds positional widget values. Some custom nodes export an
// object instead of an array; those carry no positional values.
type Widgets []json.RawMessage

func (w *Widgets) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		*w = nil
		return nil
	}
	var values []json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*w = values
	return nil
}

// Link is one edge of the graph shape, exported as
// [link id, source id, source slot, target id, target slot, kind].
type Link struct {
	ID         int64
	Source     NodeID
	SourceSlot int
	Target     NodeID
	TargetSlot int
	Kind       string

	malformed bool
}

// Malformed reports whether the exported edge had fewer than six elements
// or unreadable members.
func (l Link) Malformed() bool {
	return l.malformed
}

func (l *Link) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) < 6 {
		*l = Link{malformed: true}
		return nil
	}

	var out Link
	errs := []error{
		json.Unmarshal(parts[0], &out.ID),
		json.Unmarshal(parts[1], &out.Source),
		json.Unmarshal(parts[2], &out.SourceSlot),
		json.Unmarshal(parts[3], &out.Target),
		json.Unmarshal(parts[4], &out.TargetSlot),
	}
	for _, err := range errs {
		if err != nil {
			*l = Link{malformed: true}
			return nil
		}
	}
	_ = json.Unmarshal(parts[5], &out.Kind)

	*l = out
	return nil
}

func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.ID, l.Source, l.SourceSlot, l.Target, l.TargetSlot, l.Kind})
}

// Graph is the editor export shape.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Links []Link      `json:"links"`
}

// Node finds a graph node by id.
func (g *Graph) Node(id NodeID) (*GraphNode, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Document holds a workflow in exactly one of the two shapes. The shape is
// decided once, when the document is parsed or constructed.
type Document struct {
	shape Shape
	flat  Flat
	graph *Graph
}

// FromFlat wraps a flat workflow.
func FromFlat(f Flat) *Document {
	return &Document{shape: ShapeFlat, flat: f}
}

// FromGraph wraps a graph workflow.
func FromGraph(g *Graph) *Document {
	return &Document{shape: ShapeGraph, graph: g}
}

// Parse detects the shape of data and decodes it. A top-level object with a
// "nodes" array is the graph shape; an object whose members are all nodes
// carrying a class_type is the flat shape.
func Parse(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if raw, ok := top["nodes"]; ok && isArray(raw) {
		var g Graph
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("%w: graph: %w", ErrInvalidDocument, err)
		}
		return FromGraph(&g), nil
	}

	flat := make(Flat, len(top))
	for id, raw := range top {
		var n Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: node %s: %w", ErrInvalidDocument, id, err)
		}
		if n.ClassType == "" {
			return nil, fmt.Errorf("%w: node %s has no class_type", ErrInvalidDocument, id)
		}
		if n.Inputs == nil {
			n.Inputs = make(map[string]Value)
		}
		flat[id] = n
	}

	return FromFlat(flat), nil
}

// Shape reports which layout the document holds.
func (d *Document) Shape() Shape {
	return d.shape
}

// Flat returns the flat workflow when the document holds that shape.
func (d *Document) Flat() (Flat, bool) {
	return d.flat, d.shape == ShapeFlat
}

// Graph returns the graph workflow when the document holds that shape.
func (d *Document) Graph() (*Graph, bool) {
	return d.graph, d.shape == ShapeGraph
}

func (d *Document) MarshalJSON() ([]byte, error) {
	switch d.shape {
	case ShapeFlat:
		return json.Marshal(d.flat)
	case ShapeGraph:
		return json.Marshal(d.graph)
	default:
		return nil, ErrInvalidDocument
	}
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
