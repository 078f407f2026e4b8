package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/mender/pkg/workflow"
)

const manifestExt = ".toml"

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Manifest is the TOML file that pairs a workflow export with the node
// roles a run needs.
type Manifest struct {
	Description string `toml:"description"`
	// Workflow is the workflow file, relative to the templates directory.
	Workflow string `toml:"workflow"`
	// Strict rejects unresolved graph links instead of skipping them.
	Strict bool  `toml:"strict"`
	Roles  Roles `toml:"roles"`
	// Fields registers or replaces positional widget fields for node types
	// the built-in registry does not know.
	Fields map[string][]string `toml:"fields"`
}

// Roles names the nodes that receive overrides and produce the result.
type Roles struct {
	Image            string `toml:"image"`
	ImageInput       string `toml:"image_input"`
	Instruction      string `toml:"instruction"`
	InstructionInput string `toml:"instruction_input"`
	Result           string `toml:"result"`
	Reference        string `toml:"reference"`
}

// Targets returns the override targets described by the roles.
func (r Roles) Targets() workflow.Targets {
	return workflow.Targets{
		ImageNode:        r.Image,
		ImageInput:       r.ImageInput,
		InstructionNode:  r.Instruction,
		InstructionInput: r.InstructionInput,
	}
}

// Selection returns the result selection described by the roles.
func (r Roles) Selection() workflow.Selection {
	return workflow.Selection{
		ResultNode:    r.Result,
		ReferenceNode: r.Reference,
	}
}

// ValidName reports whether name can identify a template.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

func loadManifest(dir, name string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, name+manifestExt))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read manifest %s: %w", name, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %v", ErrInvalid, name, err)
	}

	if m.Workflow == "" {
		return nil, fmt.Errorf("%w: manifest %s names no workflow file", ErrInvalid, name)
	}
	if !filepath.IsLocal(m.Workflow) {
		return nil, fmt.Errorf("%w: workflow path %q escapes the templates directory", ErrInvalid, m.Workflow)
	}

	return &m, nil
}

func (m *Manifest) registry() *workflow.Registry {
	r := workflow.DefaultRegistry()
	for nodeType, fields := range m.Fields {
		r.Register(nodeType, fields...)
	}
	return r
}
