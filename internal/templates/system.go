// Package templates loads workflow templates from a directory of TOML
// manifests and keeps the normalized results in a cache.
package templates

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/JaimeStill/mender/internal/config"
	"github.com/JaimeStill/mender/pkg/lifecycle"
	"github.com/JaimeStill/mender/pkg/workflow"
)

// System defines the public contract for template operations.
type System interface {
	Start(lc *lifecycle.Coordinator) error
	Handler() *Handler

	// Get returns the named template, or the default template for "".
	Get(name string) (*workflow.Template, error)
	Detail(name string) (*Detail, error)
	List() ([]Info, error)
	Default() string
	// Evict drops cached templates affected by a change to the given file.
	Evict(file string)
}

// Info summarizes a template manifest without loading its workflow.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Workflow    string `json:"workflow"`
	Default     bool   `json:"default"`
}

// Detail is a loaded template with what normalization reported.
type Detail struct {
	Info
	Targets   workflow.Targets   `json:"targets"`
	Selection workflow.Selection `json:"selection"`
	Document  workflow.Flat      `json:"document"`
	Report    *workflow.Report   `json:"report"`
}

type entry struct {
	template *workflow.Template
	manifest *Manifest
	report   *workflow.Report
}

type registry struct {
	dir      string
	fallback string
	watch    bool
	cache    *gocache.Cache
	logger   *slog.Logger
	debounce time.Duration
}

// New creates the template system for cfg.Dir. The directory must exist.
func New(cfg *config.TemplatesConfig, logger *slog.Logger) (System, error) {
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("templates dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("templates dir %s is not a directory", cfg.Dir)
	}

	ttl := cfg.CacheTTLDuration()
	return &registry{
		dir:      cfg.Dir,
		fallback: cfg.Default,
		watch:    cfg.Watch,
		cache:    gocache.New(ttl, 2*ttl),
		logger:   logger.With("system", "templates"),
		debounce: defaultDebounce,
	}, nil
}

func (r *registry) Handler() *Handler {
	return NewHandler(r, r.logger)
}

func (r *registry) Default() string {
	return r.fallback
}

// Start begins watching the templates directory when enabled.
func (r *registry) Start(lc *lifecycle.Coordinator) error {
	if !r.watch {
		return nil
	}

	w, err := newWatcher(r.dir, r.debounce, r.Evict, r.logger)
	if err != nil {
		return err
	}

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		if err := w.Stop(); err != nil {
			r.logger.Error("templates watcher stop failed", "error", err)
		}
	})

	r.logger.Info("watching templates", "dir", r.dir)
	return nil
}

func (r *registry) Get(name string) (*workflow.Template, error) {
	e, err := r.load(name)
	if err != nil {
		return nil, err
	}
	return e.template, nil
}

func (r *registry) Detail(name string) (*Detail, error) {
	e, err := r.load(name)
	if err != nil {
		return nil, err
	}

	return &Detail{
		Info:      r.info(e.template.Name, e.manifest),
		Targets:   e.template.Targets,
		Selection: e.template.Selection,
		Document:  e.template.Document,
		Report:    e.report,
	}, nil
}

func (r *registry) List() ([]Info, error) {
	files, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	infos := make([]Info, 0, len(files))
	for _, f := range files {
		name, ok := strings.CutSuffix(f.Name(), manifestExt)
		if f.IsDir() || !ok || !ValidName(name) {
			continue
		}

		m, err := loadManifest(r.dir, name)
		if err != nil {
			r.logger.Warn("skipping template", "name", name, "error", err)
			continue
		}
		infos = append(infos, r.info(name, m))
	}

	slices.SortFunc(infos, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return infos, nil
}

func (r *registry) Evict(file string) {
	base := filepath.Base(file)

	if name, ok := strings.CutSuffix(base, manifestExt); ok {
		if _, found := r.cache.Get(name); found {
			r.cache.Delete(name)
			r.logger.Info("template evicted", "name", name, "file", base)
		}
		return
	}

	for name, item := range r.cache.Items() {
		e, ok := item.Object.(*entry)
		if !ok || !r.references(e.manifest, file) {
			continue
		}
		r.cache.Delete(name)
		r.logger.Info("template evicted", "name", name, "file", base)
	}
}

func (r *registry) load(name string) (*entry, error) {
	if name == "" {
		name = r.fallback
	}
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	if cached, ok := r.cache.Get(name); ok {
		if e, ok := cached.(*entry); ok {
			return e, nil
		}
	}

	m, err := loadManifest(r.dir, name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(r.dir, m.Workflow))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: workflow file %s missing", ErrInvalid, m.Workflow)
		}
		return nil, fmt.Errorf("read workflow %s: %w", m.Workflow, err)
	}

	doc, err := workflow.Parse(data)
	if err != nil {
		return nil, err
	}

	n := &workflow.Normalizer{Registry: m.registry(), Strict: m.Strict}
	flat, report, err := n.NormalizeReport(doc)
	if err != nil {
		return nil, err
	}

	for _, s := range report.Skipped {
		r.logger.Warn("skipped workflow link", "template", name, "link", s.Link.ID, "reason", s.Reason)
	}
	if len(report.UnknownTypes) > 0 {
		r.logger.Warn("unknown node types", "template", name, "types", report.UnknownTypes)
	}

	targets := m.Roles.Targets()
	if err := targets.Check(flat); err != nil {
		return nil, err
	}

	e := &entry{
		template: &workflow.Template{
			Name:        name,
			Description: m.Description,
			Document:    flat,
			Targets:     targets,
			Selection:   m.Roles.Selection(),
		},
		manifest: m,
		report:   report,
	}

	r.cache.Set(name, e, gocache.DefaultExpiration)
	r.logger.Debug("template loaded", "name", name, "nodes", len(flat))
	return e, nil
}

func (r *registry) info(name string, m *Manifest) Info {
	return Info{
		Name:        name,
		Description: m.Description,
		Workflow:    m.Workflow,
		Default:     name == r.fallback,
	}
}

// references reports whether file, given either relative to the templates
// directory or as a path under it, is the manifest's workflow file.
func (r *registry) references(m *Manifest, file string) bool {
	wf := filepath.Clean(m.Workflow)
	return filepath.Clean(file) == wf || filepath.Clean(file) == filepath.Join(r.dir, wf)
}
