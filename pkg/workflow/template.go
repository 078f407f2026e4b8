package workflow

// Template is a normalized workflow together with the node roles a run
// needs: where overrides go and which output is the result.
type Template struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Document    Flat      `json:"document"`
	Targets     Targets   `json:"targets"`
	Selection   Selection `json:"selection"`
}

// NewTemplate normalizes doc and validates the override targets against it.
func NewTemplate(name string, doc *Document, n *Normalizer, targets Targets, sel Selection) (*Template, error) {
	if n == nil {
		n = NewNormalizer(nil)
	}

	flat, err := n.Normalize(doc)
	if err != nil {
		return nil, err
	}

	if err := targets.Check(flat); err != nil {
		return nil, err
	}

	return &Template{
		Name:      name,
		Document:  flat,
		Targets:   targets,
		Selection: sel,
	}, nil
}

// Render applies overrides to a copy of the template's document.
func (t *Template) Render(o Overrides) (Flat, error) {
	return t.Targets.Apply(t.Document, o)
}
