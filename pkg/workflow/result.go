package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var artifactKeys = []string{"images", "gifs", "videos"}

// Artifact locates one output file on the engine.
type Artifact struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the artifacts one node produced.
type NodeOutput struct {
	NodeID    string
	Artifacts []Artifact
}

// Outputs are the per-node results of a finished run in the order the
// engine reported them.
type Outputs []NodeOutput

// Node returns the output of a node.
func (o Outputs) Node(id string) (NodeOutput, bool) {
	for _, n := range o {
		if n.NodeID == id {
			return n, true
		}
	}
	return NodeOutput{}, false
}

// Count returns the number of artifacts across all nodes.
func (o Outputs) Count() int {
	total := 0
	for _, n := range o {
		total += len(n.Artifacts)
	}
	return total
}

// UnmarshalJSON decodes the engine's outputs object, keeping member order.
func (o *Outputs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*o = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("outputs must be an object")
	}

	var out Outputs
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var members map[string]json.RawMessage
		if err := dec.Decode(&members); err != nil {
			return fmt.Errorf("outputs of node %s: %w", key, err)
		}

		node := NodeOutput{NodeID: key}
		for _, name := range artifactKeys {
			raw, ok := members[name]
			if !ok {
				continue
			}
			var artifacts []Artifact
			if err := json.Unmarshal(raw, &artifacts); err != nil {
				continue
			}
			for _, a := range artifacts {
				if a.Filename != "" {
					node.Artifacts = append(node.Artifacts, a)
				}
			}
		}
		out = append(out, node)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*o = out
	return nil
}

// MarshalJSON encodes the outputs back into the engine's object form.
func (o Outputs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(n.NodeID)
		buf.Write(key)
		buf.WriteByte(':')

		artifacts := n.Artifacts
		if artifacts == nil {
			artifacts = []Artifact{}
		}
		body, err := json.Marshal(map[string][]Artifact{"images": artifacts})
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Selection decides which artifact of a run is the result.
type Selection struct {
	// ResultNode is the node designated to produce the final image.
	ResultNode string `json:"result_node" toml:"result"`
	// ReferenceNode echoes the input and is only chosen as a last resort.
	ReferenceNode string `json:"reference_node" toml:"reference"`
}

// Select picks the result artifact: the first artifact of the result node,
// else the first artifact of any node other than the reference node, else
// the first artifact overall. It returns a *NoResultError when the run
// produced no artifacts.
func (s Selection) Select(outputs Outputs) (Artifact, error) {
	if s.ResultNode != "" {
		if n, ok := outputs.Node(s.ResultNode); ok && len(n.Artifacts) > 0 {
			return n.Artifacts[0], nil
		}
	}

	for _, n := range outputs {
		if s.ReferenceNode != "" && n.NodeID == s.ReferenceNode {
			continue
		}
		if len(n.Artifacts) > 0 {
			return n.Artifacts[0], nil
		}
	}

	for _, n := range outputs {
		if len(n.Artifacts) > 0 {
			return n.Artifacts[0], nil
		}
	}

	return Artifact{}, &NoResultError{Nodes: len(outputs)}
}
