package workflow

import (
	"maps"
	"slices"
	"sync"
)

var defaultFields = map[string][]string{
	"LoadImage":                   {"image"},
	"CLIPTextEncode":              {"text"},
	"StringFunction|pysssss":      {"action", "tidy_tags", "text_a", "text_b", "text_c"},
	// Editor exports that keep the seed's "control after generate" widget
	// need {"seed", "", "steps", ...}; see templates/restore.toml.
	"KSampler":                    {"seed", "steps", "cfg", "sampler_name", "scheduler", "denoise"},
	"SetUnionControlNetType":      {"type"},
	"ControlNetLoader":            {"control_net_name"},
	"CheckpointLoaderSimple":      {"ckpt_name"},
	"VAELoader":                   {"vae_name"},
	"EmptyLatentImage":            {"width", "height", "batch_size"},
	"ImageScaleToTotalPixels":     {"upscale_method", "megapixels"},
	"ControlNetApplyAdvanced":     {"strength", "start_percent", "end_percent"},
	"LoraLoader":                  {"lora_name", "strength_model", "strength_clip"},
	"easy imageSizeByLongerSide":  {"resolution"},
	"easy float":                  {"value"},
	"LayerFilter: GaussianBlurV2": {"blur"},
	"LayerFilter: AddGrain":       {"grain_power", "grain_scale", "grain_sat"},
	"FluxGuidance":                {"guidance"},
	"ImageQuantize":               {"colors", "dither"},
	"LineArtPreprocessor":         {"coarse", "resolution"},
	"DepthAnythingV2Preprocessor": {"ckpt_name", "resolution"},
	"NunchakuTextEncoderLoaderV2": {"model_type", "text_encoder1", "text_encoder2", "t5_min_length"},
	"UNETLoader":                  {"unet_name", "weight_dtype"},
	"SaveImage":                   {"filename_prefix"},
}

// Registry maps a node type to the ordered input names of its positional
// widget values. An empty name skips that position, which covers
// editor-only widgets such as a seed's "control after generate".
// A Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	fields map[string][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fields: make(map[string][]string)}
}

// DefaultRegistry returns a registry seeded with the node types the bundled
// workflows use. Each call returns an independent copy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for t, f := range defaultFields {
		r.Register(t, f...)
	}
	return r
}

// Register sets the positional field list of a node type, replacing any
// previous entry.
func (r *Registry) Register(nodeType string, fields ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[nodeType] = slices.Clone(fields)
}

// Fields returns the positional field list of a node type. Unknown types
// return nil.
func (r *Registry) Fields(nodeType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.fields[nodeType])
}

// Known reports whether the node type has an entry.
func (r *Registry) Known(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fields[nodeType]
	return ok
}

// Types lists the registered node types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.fields))
}
