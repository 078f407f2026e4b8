package workflow_test

import (
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/JaimeStill/mender/pkg/workflow"
)

func flatJSON(t require.TestingT, f workflow.Flat) string {
	data, err := json.Marshal(f)
	require.NoError(t, err)
	return string(data)
}

func TestBothShapesNormalizeIdentically(t *testing.T) {
	n := workflow.NewNormalizer(nil)

	fromGraph, err := n.Normalize(parseFixture(t, "restore_graph.json"))
	require.NoError(t, err)

	fromFlat, err := n.Normalize(parseFixture(t, "restore_flat.json"))
	require.NoError(t, err)

	assert.JSONEq(t, flatJSON(t, fromFlat), flatJSON(t, fromGraph))
}

func TestLinkOverridesPositionalValue(t *testing.T) {
	flat, err := workflow.NewNormalizer(nil).Normalize(parseFixture(t, "restore_graph.json"))
	require.NoError(t, err)

	v, ok := flat.Input("6", "text")
	require.True(t, ok)
	ref, ok := v.Ref()
	require.True(t, ok, "positional text must be replaced by the link")
	assert.Equal(t, workflow.Ref{NodeID: "60", Slot: 0}, ref)
}

func TestPositionalMappingUsesAvailableValues(t *testing.T) {
	data := `{"nodes": [
		{"id": 1, "type": "EmptyLatentImage", "widgets_values": [512, 768]},
		{"id": 2, "type": "Unregistered", "widgets_values": ["a", "b"]},
		{"id": 3, "type": "LoadImage", "widgets_values": ["in.png", "image"]}
	], "links": []}`
	doc, err := workflow.Parse([]byte(data))
	require.NoError(t, err)

	flat, report, err := workflow.NewNormalizer(nil).NormalizeReport(doc)
	require.NoError(t, err)

	assert.JSONEq(t, `{"width": 512, "height": 768}`, inputsJSON(t, flat["1"]))
	assert.Empty(t, flat["2"].Inputs)
	assert.JSONEq(t, `{"image": "in.png"}`, inputsJSON(t, flat["3"]))
	assert.Equal(t, []string{"Unregistered"}, report.UnknownTypes)
}

func TestRegistryEmptyFieldSkipsPosition(t *testing.T) {
	r := workflow.NewRegistry()
	r.Register("KSampler", "seed", "", "steps")

	doc, err := workflow.Parse([]byte(`{"nodes": [{"id": 3, "type": "KSampler", "widgets_values": [7, "randomize", 30]}], "links": []}`))
	require.NoError(t, err)

	flat, err := workflow.NewNormalizer(r).Normalize(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"seed": 7, "steps": 30}`, inputsJSON(t, flat["3"]))
}

func TestRegistryTypes(t *testing.T) {
	r := workflow.NewRegistry()
	r.Register("VAEDecode")
	r.Register("KSampler", "seed")

	assert.Equal(t, []string{"KSampler", "VAEDecode"}, r.Types())
	assert.Contains(t, workflow.DefaultRegistry().Types(), "LoadImage")
}

func TestInvalidLinksLenientAndStrict(t *testing.T) {
	data := `{"nodes": [
		{"id": 1, "type": "LoadImage", "widgets_values": ["in.png"]},
		{"id": 2, "type": "SaveImage", "inputs": [{"name": "images", "link": 1}], "widgets_values": ["out"]}
	], "links": [
		[1, 1, 0, 2, 0, "IMAGE"],
		[2, 1, 0, 99, 0, "IMAGE"],
		[3, 1, 0, 2, 5, "IMAGE"],
		[4, 1, 0]
	]}`
	doc, err := workflow.Parse([]byte(data))
	require.NoError(t, err)

	t.Run("lenient skips and reports", func(t *testing.T) {
		flat, report, err := workflow.NewNormalizer(nil).NormalizeReport(doc)
		require.NoError(t, err)
		assert.Len(t, report.Skipped, 3)

		v, ok := flat.Input("2", "images")
		require.True(t, ok)
		ref, ok := v.Ref()
		require.True(t, ok)
		assert.Equal(t, workflow.Ref{NodeID: "1", Slot: 0}, ref)
	})

	t.Run("strict rejects", func(t *testing.T) {
		n := workflow.NewNormalizer(nil)
		n.Strict = true
		_, err := n.Normalize(doc)
		assert.ErrorIs(t, err, workflow.ErrInvalidLink)
	})
}

func TestFlatNormalizesToCopy(t *testing.T) {
	doc := parseFixture(t, "restore_flat.json")
	original, _ := doc.Flat()

	flat, err := workflow.NewNormalizer(nil).Normalize(doc)
	require.NoError(t, err)
	assert.JSONEq(t, flatJSON(t, original), flatJSON(t, flat))

	require.NoError(t, flat.SetInput("10", "image", workflow.Text("mutated.png")))
	v, _ := original.Input("10", "image")
	s, _ := v.String()
	assert.Equal(t, "example.png", s)
}

func inputsJSON(t *testing.T, n workflow.Node) string {
	t.Helper()
	data, err := json.Marshal(n.Inputs)
	require.NoError(t, err)
	return string(data)
}

var registeredTypes = []string{"LoadImage", "CLIPTextEncode", "KSampler", "SaveImage", "LoraLoader", "Custom"}

func genGraph(t *rapid.T) *workflow.Graph {
	count := rapid.IntRange(1, 8).Draw(t, "nodes")
	g := &workflow.Graph{}

	for i := range count {
		node := workflow.GraphNode{
			ID:   workflow.NodeID(strconv.Itoa(i + 1)),
			Type: rapid.SampledFrom(registeredTypes).Draw(t, fmt.Sprintf("type%d", i)),
		}
		slots := rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("slots%d", i))
		for s := range slots {
			node.Inputs = append(node.Inputs, workflow.GraphInput{Name: fmt.Sprintf("in%d", s)})
		}
		widgets := rapid.IntRange(0, 7).Draw(t, fmt.Sprintf("widgets%d", i))
		for w := range widgets {
			node.WidgetsValues = append(node.WidgetsValues, json.RawMessage(strconv.Itoa(w)))
		}
		g.Nodes = append(g.Nodes, node)
	}

	links := rapid.IntRange(0, 10).Draw(t, "links")
	for i := range links {
		g.Links = append(g.Links, workflow.Link{
			ID:         int64(i + 1),
			Source:     workflow.NodeID(strconv.Itoa(rapid.IntRange(1, count).Draw(t, fmt.Sprintf("src%d", i)))),
			SourceSlot: rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("srcSlot%d", i)),
			Target:     workflow.NodeID(strconv.Itoa(rapid.IntRange(1, count+2).Draw(t, fmt.Sprintf("dst%d", i)))),
			TargetSlot: rapid.IntRange(0, 4).Draw(t, fmt.Sprintf("dstSlot%d", i)),
		})
	}

	return g
}

func TestNormalizeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := genGraph(t)
		n := workflow.NewNormalizer(nil)

		flat, report, err := n.NormalizeReport(workflow.FromGraph(g))
		require.NoError(t, err)
		require.Len(t, flat, len(g.Nodes))

		again, err := n.Normalize(workflow.FromFlat(flat))
		require.NoError(t, err)
		require.JSONEq(t, flatJSON(t, flat), flatJSON(t, again))

		skipped := make(map[int64]bool)
		for _, s := range report.Skipped {
			skipped[s.Link.ID] = true
		}

		// the last link into a slot wins
		winners := make(map[string]workflow.Link)
		for _, l := range g.Links {
			if skipped[l.ID] {
				continue
			}
			target, ok := g.Node(l.Target)
			require.True(t, ok)
			winners[string(l.Target)+"/"+target.Inputs[l.TargetSlot].Name] = l
		}

		for _, l := range winners {
			target, _ := g.Node(l.Target)
			v, ok := flat.Input(string(l.Target), target.Inputs[l.TargetSlot].Name)
			require.True(t, ok)
			ref, ok := v.Ref()
			require.True(t, ok)
			require.Equal(t, workflow.Ref{NodeID: string(l.Source), Slot: l.SourceSlot}, ref)
		}

		for _, gn := range g.Nodes {
			fields := n.Registry.Fields(gn.Type)
			node := flat[string(gn.ID)]
			for i, field := range fields {
				if i >= len(gn.WidgetsValues) {
					_, linked := node.Inputs[field]
					if !linked {
						continue
					}
					v := node.Inputs[field]
					_, isRef := v.Ref()
					require.True(t, isRef, "field %s has no widget value and must come from a link", field)
				}
			}
		}
	})
}
