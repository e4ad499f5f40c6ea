package plugin

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/vessel/internal/protocol"
)

// Manifest defines the structure of a plugin's manifest.yaml file.
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Protocol    int      `yaml:"protocol"`
	Entrypoint  string   `yaml:"entrypoint"`
	Label       string   `yaml:"label,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Order       float64  `yaml:"order"`
	Families    []string `yaml:"families,omitempty"`
	Hosts       []string `yaml:"hosts,omitempty"`
	Targets     []string `yaml:"targets,omitempty"`
	Optional    bool     `yaml:"optional"`
	Repair      bool     `yaml:"repair"`
	// Context and Instance choose the processing signature. A plugin that
	// sets neither processes instances.
	Context  bool  `yaml:"context"`
	Instance *bool `yaml:"instance,omitempty"`
	Active   *bool `yaml:"active,omitempty"`
}

// Plugin represents a discovered and validated plugin.
type Plugin struct {
	ID          string   // Stable content id derived from manifest path and name
	Name        string   // Plugin name from manifest
	Path        string   // Absolute path to plugin directory
	Entrypoint  string   // Absolute path to entrypoint executable
	Protocol    int      // Protocol version
	Version     string   // Plugin version
	Label       string   // Display label
	Description string   // Human-readable description
	Order       float64  // Position in the pipeline
	Families    []string // Families the plugin applies to; "*" matches any
	Hosts       []string // Hosts the plugin supports; "*" matches any
	Targets     []string // Publish targets the plugin belongs to
	Optional    bool
	HasRepair   bool
	Context     bool
	Instance    bool
}

// pluginID hashes the manifest location so ids survive rediscovery but two
// copies of the same plugin in different roots stay distinct.
func pluginID(manifestPath, name string) string {
	sum := blake3.Sum256([]byte(manifestPath + "\x00" + name))
	return hex.EncodeToString(sum[:16])
}

// Matches reports whether the plugin applies to any of the given families.
func (p *Plugin) Matches(families []string) bool {
	for _, want := range p.Families {
		if want == "*" {
			return true
		}
		for _, f := range families {
			if f == want {
				return true
			}
		}
	}
	return false
}

// SupportsHost reports whether the plugin may run inside host.
func (p *Plugin) SupportsHost(host string) bool {
	if len(p.Hosts) == 0 {
		return true
	}
	for _, h := range p.Hosts {
		if h == "*" || h == host {
			return true
		}
	}
	return false
}

// InTargets reports whether the plugin belongs to one of targets.
// Plugins without targets belong to "default".
func (p *Plugin) InTargets(targets []string) bool {
	own := p.Targets
	if len(own) == 0 {
		own = []string{"default"}
	}
	for _, t := range targets {
		for _, o := range own {
			if t == o {
				return true
			}
		}
	}
	return false
}

// DTO converts the plugin to its wire form.
func (p *Plugin) DTO() protocol.Plugin {
	families := p.Families
	if families == nil {
		families = []string{}
	}
	label := p.Label
	if label == "" {
		label = p.Name
	}
	return protocol.Plugin{
		ID:              p.ID,
		Name:            p.Name,
		Label:           label,
		Version:         p.Version,
		Order:           p.Order,
		Families:        families,
		Hosts:           p.Hosts,
		Targets:         p.Targets,
		Optional:        p.Optional,
		HasRepair:       p.HasRepair,
		ContextEnabled:  p.Context,
		InstanceEnabled: p.Instance,
		Type:            protocol.BandOf(p.Order),
		Doc:             p.Description,
		Path:            p.Path,
	}
}
