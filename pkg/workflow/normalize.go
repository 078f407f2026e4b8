package workflow

import (
	"fmt"
	"strconv"
)

// SkippedLink records a graph link the normalizer could not resolve.
type SkippedLink struct {
	Link   Link   `json:"link"`
	Reason string `json:"reason"`
}

// Report describes what normalization did beyond the plain conversion.
type Report struct {
	Skipped      []SkippedLink `json:"skipped,omitempty"`
	UnknownTypes []string      `json:"unknown_types,omitempty"`
}

// Normalizer converts documents into the flat shape.
type Normalizer struct {
	Registry *Registry
	// Strict rejects links whose target node or slot is missing instead of
	// skipping them.
	Strict bool
}

// NewNormalizer returns a lenient normalizer over the given registry, or
// the default registry when r is nil.
func NewNormalizer(r *Registry) *Normalizer {
	if r == nil {
		r = DefaultRegistry()
	}
	return &Normalizer{Registry: r}
}

// Normalize returns the flat form of a document. Flat documents come back
// as a deep copy.
func (n *Normalizer) Normalize(doc *Document) (Flat, error) {
	flat, _, err := n.NormalizeReport(doc)
	return flat, err
}

// NormalizeReport is Normalize that also returns what was skipped.
func (n *Normalizer) NormalizeReport(doc *Document) (Flat, *Report, error) {
	report := &Report{}

	switch doc.Shape() {
	case ShapeFlat:
		f, _ := doc.Flat()
		return f.Clone(), report, nil
	case ShapeGraph:
		g, _ := doc.Graph()
		flat, err := n.convert(g, report)
		if err != nil {
			return nil, report, err
		}
		return flat, report, nil
	default:
		return nil, report, ErrInvalidDocument
	}
}

func (n *Normalizer) convert(g *Graph, report *Report) (Flat, error) {
	registry := n.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	flat := make(Flat, len(g.Nodes))
	seen := make(map[string]bool)

	for _, gn := range g.Nodes {
		id := string(gn.ID)
		title := gn.Title
		if title == "" {
			title = gn.Type
		}

		node := Node{
			ClassType: gn.Type,
			Inputs:    make(map[string]Value),
			Meta:      &Meta{Title: title},
		}

		if !registry.Known(gn.Type) && len(gn.WidgetsValues) > 0 && !seen[gn.Type] {
			seen[gn.Type] = true
			report.UnknownTypes = append(report.UnknownTypes, gn.Type)
		}

		fields := registry.Fields(gn.Type)
		for i, raw := range gn.WidgetsValues {
			if i >= len(fields) {
				break
			}
			if fields[i] == "" {
				continue
			}
			node.Inputs[fields[i]] = Value(raw).clone()
		}

		flat[id] = node
	}

	for _, link := range g.Links {
		if err := n.resolve(g, flat, link, report); err != nil {
			return nil, err
		}
	}

	return flat, nil
}

func (n *Normalizer) resolve(g *Graph, flat Flat, link Link, report *Report) error {
	skip := func(reason string) error {
		if n.Strict {
			return fmt.Errorf("%w: link %d: %s", ErrInvalidLink, link.ID, reason)
		}
		report.Skipped = append(report.Skipped, SkippedLink{Link: link, Reason: reason})
		return nil
	}

	if link.Malformed() {
		return skip("malformed link")
	}

	target, ok := g.Node(link.Target)
	if !ok {
		return skip("target node " + string(link.Target) + " not found")
	}

	if link.TargetSlot < 0 || link.TargetSlot >= len(target.Inputs) {
		return skip("target slot " + strconv.Itoa(link.TargetSlot) + " not declared")
	}

	name := target.Inputs[link.TargetSlot].Name
	if name == "" {
		return skip("target slot " + strconv.Itoa(link.TargetSlot) + " has no name")
	}

	ref := Ref{NodeID: string(link.Source), Slot: link.SourceSlot}
	return flat.SetInput(string(link.Target), name, RefValue(ref))
}
