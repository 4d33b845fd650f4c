package core

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Registry holds importer and exporter definitions by name.
type Registry struct {
	mu        sync.RWMutex
	importers map[string]*ImporterDefinition
	exporters map[string]*ExporterDefinition
	order     []string // importer registration order
}

// DefaultRegistry is populated by definition packages at init time.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		importers: make(map[string]*ImporterDefinition),
		exporters: make(map[string]*ExporterDefinition),
	}
}

// RegisterImporter adds an importer definition to the default registry.
func RegisterImporter(def ImporterDefinition) { DefaultRegistry.RegisterImporter(def) }

// RegisterExporter adds an exporter definition to the default registry.
func RegisterExporter(def ExporterDefinition) { DefaultRegistry.RegisterExporter(def) }

// RegisterImporter adds an importer definition.
// Panics if one with the same name is already registered.
func (r *Registry) RegisterImporter(def ImporterDefinition) {
	if err := r.AddImporter(def); err != nil {
		panic(err.Error())
	}
}

// RegisterExporter adds an exporter definition.
// Panics if one with the same name is already registered.
func (r *Registry) RegisterExporter(def ExporterDefinition) {
	if err := r.AddExporter(def); err != nil {
		panic(err.Error())
	}
}

// AddImporter is RegisterImporter returning an error instead of panicking.
func (r *Registry) AddImporter(def ImporterDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def.Name == "" {
		return &ConfigError{Msg: "importer has no name"}
	}
	if _, exists := r.importers[def.Name]; exists {
		return &ConfigError{Msg: fmt.Sprintf("importer already registered: %s", def.Name)}
	}
	r.importers[def.Name] = &def
	r.order = append(r.order, def.Name)
	return nil
}

// AddExporter is RegisterExporter returning an error instead of panicking.
func (r *Registry) AddExporter(def ExporterDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def.Name == "" {
		return &ConfigError{Msg: "exporter has no name"}
	}
	if _, exists := r.exporters[def.Name]; exists {
		return &ConfigError{Msg: fmt.Sprintf("exporter already registered: %s", def.Name)}
	}
	r.exporters[def.Name] = &def
	return nil
}

// Importer returns an importer definition by name.
func (r *Registry) Importer(name string) (*ImporterDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.importers[name]
	return def, ok
}

// Exporter returns an exporter definition by name.
func (r *Registry) Exporter(name string) (*ExporterDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.exporters[name]
	return def, ok
}

// CheckAdd reports whether defs could be added with AddImporter without
// clashing on a name, among themselves or with registered importers, and
// without closing a dependency cycle. Dependencies on names neither
// registered nor in defs are left for ImporterNames to report.
func (r *Registry) CheckAdd(defs ...ImporterDefinition) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Clone(r.order)
	deps := make(map[string][]string, len(r.importers)+len(defs))
	for name, def := range r.importers {
		deps[name] = def.Dependencies
	}
	for _, def := range defs {
		if _, exists := r.importers[def.Name]; exists {
			return &ConfigError{Msg: fmt.Sprintf("importer already registered: %s", def.Name)}
		}
		if _, dup := deps[def.Name]; dup {
			return &ConfigError{Msg: fmt.Sprintf("importer defined twice: %s", def.Name)}
		}
		deps[def.Name] = def.Dependencies
		names = append(names, def.Name)
	}

	known := make(map[string][]string, len(deps))
	for name, ds := range deps {
		for _, d := range ds {
			if _, ok := deps[d]; ok {
				known[name] = append(known[name], d)
			}
		}
	}
	_, err := SortDependencies(names, known)
	return err
}

// ImporterNames returns every importer in dependency order.
func (r *Registry) ImporterNames() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deps := make(map[string][]string, len(r.importers))
	for name, def := range r.importers {
		deps[name] = def.Dependencies
	}
	return SortDependencies(r.order, deps)
}

// ExporterNames returns every exporter, sorted alphabetically.
func (r *Registry) ExporterNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.exporters))
	for name := range r.exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Plan returns the importers needed to import names: the requested
// definitions plus everything they depend on, in dependency order.
func (r *Registry) Plan(names []string) ([]*ImporterDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var closure []string
	deps := make(map[string][]string)
	var collect func(name, from string) error
	collect = func(name, from string) error {
		if _, seen := deps[name]; seen {
			return nil
		}
		def, ok := r.importers[name]
		if !ok {
			if from != "" {
				return &ConfigError{Entity: from, Msg: fmt.Sprintf("depends on %q", name), Err: ErrUnknownDependency}
			}
			return &ConfigError{Msg: fmt.Sprintf("importer %q", name), Err: ErrUnknownModel}
		}
		deps[name] = def.Dependencies
		closure = append(closure, name)
		for _, d := range def.Dependencies {
			if err := collect(d, name); err != nil {
				return err
			}
		}
		return nil
	}
	for _, n := range names {
		if err := collect(n, ""); err != nil {
			return nil, err
		}
	}

	order, err := SortDependencies(closure, deps)
	if err != nil {
		return nil, err
	}
	plan := make([]*ImporterDefinition, len(order))
	for i, name := range order {
		plan[i] = r.importers[name]
	}
	return plan, nil
}

// Len returns the number of importers and exporters.
func (r *Registry) Len() (importers, exporters int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.importers), len(r.exporters)
}

// AllModels expands to every definition of the run's kind.
const AllModels = "all"

// ModelNames returns the names of every importer and exporter, sorted.
func (r *Registry) ModelNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.importers)+len(r.exporters))
	var names []string
	for name := range r.importers {
		seen[name] = true
		names = append(names, name)
	}
	for name := range r.exporters {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Expand resolves a model argument for a run of the given kind. AllModels
// becomes every importer in dependency order for imports, every exporter
// for exports and every model for backups, sorted by name. Other names are
// returned unchanged and checked when the run starts.
func (r *Registry) Expand(kind RunKind, model string) ([]string, error) {
	if model != AllModels {
		return []string{model}, nil
	}
	switch kind {
	case RunImport:
		return r.ImporterNames()
	case RunExport:
		return r.ExporterNames(), nil
	default:
		return r.ModelNames(), nil
	}
}
