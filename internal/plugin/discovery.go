package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	supportedProtocol = 1
	manifestFilename  = "manifest.yaml"
)

// Registry holds discovered plugins indexed by name and id, remembering
// discovery order.
type Registry struct {
	plugins map[string]*Plugin
	byID    map[string]*Plugin
	order   []*Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Plugin),
		byID:    make(map[string]*Plugin),
	}
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// ByID retrieves a plugin by id.
func (r *Registry) ByID(id string) (*Plugin, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// All returns all registered plugins.
func (r *Registry) All() map[string]*Plugin {
	return r.plugins
}

// Sorted returns plugins by ascending order, ties kept in discovery order.
func (r *Registry) Sorted() []*Plugin {
	out := make([]*Plugin, len(r.order))
	copy(out, r.order)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Add registers a plugin in the registry.
func (r *Registry) Add(plugin *Plugin) error {
	if _, exists := r.plugins[plugin.Name]; exists {
		return fmt.Errorf("plugin %q already registered", plugin.Name)
	}
	if plugin.ID == "" {
		plugin.ID = pluginID(filepath.Join(plugin.Path, manifestFilename), plugin.Name)
	}
	r.plugins[plugin.Name] = plugin
	r.byID[plugin.ID] = plugin
	r.order = append(r.order, plugin)
	return nil
}

// Discover is DiscoverMany over a single root.
func Discover(pluginsDir string, logger func(level, msg string, args ...any)) (*Registry, error) {
	return DiscoverMany([]string{pluginsDir}, logger)
}

// DiscoverMany walks every root for manifest.yaml files. Roots are scanned in
// the order given and the first plugin registered under a name wins. Broken
// manifests are logged and skipped; only unusable roots are fatal.
func DiscoverMany(pluginRoots []string, logger func(level, msg string, args ...any)) (*Registry, error) {
	if logger == nil {
		logger = func(string, string, ...any) {}
	}
	roots, err := resolveRoots(pluginRoots)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for _, root := range roots {
		walk := func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !d.IsDir() && d.Name() == manifestFilename {
				registry.admit(filepath.Dir(path), roots, logger)
			}
			return nil
		}
		if err := filepath.WalkDir(root, walk); err != nil {
			return nil, fmt.Errorf("scan plugin root %s: %w", root, err)
		}
	}
	return registry, nil
}

// resolveRoots makes each root absolute, checks it is a directory and drops
// blanks and repeats.
func resolveRoots(pluginRoots []string) ([]string, error) {
	var roots []string
	seen := make(map[string]bool, len(pluginRoots))
	for _, root := range pluginRoots {
		if root = strings.TrimSpace(root); root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(abs)
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("plugin root does not exist: %s", abs)
		case err != nil:
			return nil, fmt.Errorf("stat plugin root %s: %w", abs, err)
		case !info.IsDir():
			return nil, fmt.Errorf("plugin root is not a directory: %s", abs)
		}
		if !seen[abs] {
			seen[abs] = true
			roots = append(roots, abs)
		}
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one plugin root is required")
	}
	return roots, nil
}

// admit loads the plugin in dir and registers it, logging why it was not.
func (r *Registry) admit(dir string, roots []string, logger func(level, msg string, args ...any)) {
	p, err := loadPlugin(dir, roots)
	switch {
	case err != nil:
		logger("warn", "plugin rejected", "path", dir, "error", err.Error())
		return
	case p == nil:
		logger("debug", "inactive plugin skipped", "path", dir)
		return
	}
	if kept, dup := r.Get(p.Name); dup {
		logger("warn", "duplicate plugin ignored", "plugin", p.Name, "ignored_path", p.Path, "kept_path", kept.Path)
		return
	}
	if err := r.Add(p); err != nil {
		logger("warn", "plugin not registered", "plugin", p.Name, "error", err.Error())
		return
	}
	logger("info", "loaded plugin", "plugin", p.Name, "path", p.Path, "version", p.Version, "order", p.Order)
}

// loadPlugin reads and validates a single plugin. Inactive plugins return nil.
func loadPlugin(pluginPath string, pluginRoots []string) (*Plugin, error) {
	manifestPath := filepath.Join(pluginPath, manifestFilename)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if manifest.Protocol != supportedProtocol {
		return nil, fmt.Errorf("unsupported protocol version %d (supported: %d)", manifest.Protocol, supportedProtocol)
	}
	if manifest.Active != nil && !*manifest.Active {
		return nil, nil
	}

	entrypointPath := filepath.Join(pluginPath, manifest.Entrypoint)
	if err := validateTrustInRoots(entrypointPath, pluginPath, pluginRoots); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	instance := !manifest.Context
	if manifest.Instance != nil {
		instance = *manifest.Instance
	}

	return &Plugin{
		ID:          pluginID(manifestPath, manifest.Name),
		Name:        manifest.Name,
		Path:        pluginPath,
		Entrypoint:  entrypointPath,
		Protocol:    manifest.Protocol,
		Version:     manifest.Version,
		Label:       manifest.Label,
		Description: manifest.Description,
		Order:       manifest.Order,
		Families:    manifest.Families,
		Hosts:       manifest.Hosts,
		Targets:     manifest.Targets,
		Optional:    manifest.Optional,
		HasRepair:   manifest.Repair,
		Context:     manifest.Context,
		Instance:    instance,
	}, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}
	if m.Instance != nil && !*m.Instance && !m.Context {
		return fmt.Errorf("plugin processes neither context nor instances")
	}
	// Instance plugins with no families would never be compatible with anything.
	if len(m.Families) == 0 && !m.Context {
		m.Families = []string{"*"}
	}
	for _, f := range m.Families {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("families must not contain empty names")
		}
	}
	return nil
}

// validateTrust checks a plugin against a single root.
func validateTrust(entrypointPath, pluginPath, pluginsDir string) error {
	return validateTrustInRoots(entrypointPath, pluginPath, []string{pluginsDir})
}

// validateTrustInRoots refuses entrypoints that resolve outside their plugin
// directory or outside every root, that are not executable, or whose plugin
// directory is world-writable. Symlinks are resolved first.
func validateTrustInRoots(entrypointPath, pluginPath string, pluginRoots []string) error {
	if len(pluginRoots) == 0 {
		return fmt.Errorf("no plugin roots configured")
	}
	entry, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("resolve entrypoint: %w", err)
	}
	dir, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("resolve plugin directory: %w", err)
	}

	underRoot := false
	for _, root := range pluginRoots {
		resolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			return fmt.Errorf("resolve plugin root %s: %w", root, err)
		}
		if within(entry, resolved) {
			underRoot = true
			break
		}
	}
	if !underRoot {
		return fmt.Errorf("entrypoint %s is not under any configured plugin root", entry)
	}
	if !within(entry, dir) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", entry, dir)
	}

	info, err := os.Stat(entry)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", entry)
	}
	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", dir)
	}
	return nil
}

// within reports whether path lies strictly below dir.
func within(path, dir string) bool {
	return strings.HasPrefix(path, dir+string(os.PathSeparator))
}
