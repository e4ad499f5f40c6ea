// Package doctor validates vessel configuration and plugin setup.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/mattjoyce/vessel/internal/config"
	"github.com/mattjoyce/vessel/internal/plugin"
	"github.com/mattjoyce/vessel/internal/protocol"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered plugins.
type Doctor struct {
	cfg      *config.Config
	registry *plugin.Registry
}

// New creates a Doctor from a loaded config and plugin registry.
func New(cfg *config.Config, registry *plugin.Registry) *Doctor {
	if registry == nil {
		registry = plugin.NewRegistry()
	}
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validatePaths(r)
	d.validatePorts(r)
	d.validateThreshold(r)
	d.validatePlugins(r)
	d.warnUnusedPlugins(r)
	d.warnOrderTies(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validatePaths checks that plugin roots exist and the journal has a home.
func (d *Doctor) validatePaths(r *Result) {
	for i, root := range d.cfg.Plugins.Roots {
		field := fmt.Sprintf("plugins.roots[%d]", i)
		info, err := os.Stat(root)
		switch {
		case err != nil:
			d.addError(r, "paths", field, fmt.Sprintf("plugin root %q does not exist", root))
		case !info.IsDir():
			d.addError(r, "paths", field, fmt.Sprintf("plugin root %q is not a directory", root))
		}
	}
	if d.cfg.Journal.Path == "" {
		d.addError(r, "paths", "journal.path", "journal.path is required")
	}
	if d.cfg.Ports.ClaimsDir == "" {
		d.addError(r, "paths", "ports.claims_dir", "ports.claims_dir is required")
	}
}

// validatePorts checks the allocator window.
func (d *Doctor) validatePorts(r *Result) {
	if d.cfg.Ports.Base <= 0 || d.cfg.Ports.Base > 65535 {
		d.addError(r, "ports", "ports.base", fmt.Sprintf("ports.base %d is not a valid port", d.cfg.Ports.Base))
		return
	}
	if d.cfg.Ports.Range <= 0 {
		d.addError(r, "ports", "ports.range", "ports.range must be positive")
		return
	}
	if d.cfg.Ports.Base+d.cfg.Ports.Range-1 > 65535 {
		d.addError(r, "ports", "ports.range",
			fmt.Sprintf("ports %d..%d run past 65535", d.cfg.Ports.Base, d.cfg.Ports.Base+d.cfg.Ports.Range-1))
	}
	if d.cfg.Ports.Base < 1024 {
		d.addWarning(r, "ports", "ports.base", "ports below 1024 usually need elevated privileges")
	}
}

// validateThreshold warns when the halt point cuts the validator band short
// or never stops a publish.
func (d *Doctor) validateThreshold(r *Result) {
	t := d.cfg.Pipeline.ValidationThreshold
	if t < 0 {
		d.addError(r, "pipeline", "pipeline.validation_threshold", "validation_threshold must not be negative")
		return
	}
	if t < protocol.ValidatorOrder+0.5 {
		d.addWarning(r, "pipeline", "pipeline.validation_threshold",
			fmt.Sprintf("threshold %g halts before every validator has run", t))
	}
	if t > protocol.IntegratorOrder+0.5 {
		d.addWarning(r, "pipeline", "pipeline.validation_threshold",
			fmt.Sprintf("threshold %g is past the integrator band; failed validation never stops a publish", t))
	}
}

// validatePlugins checks discovered plugins for unusable declarations.
func (d *Doctor) validatePlugins(r *Result) {
	if len(d.registry.All()) == 0 {
		d.addWarning(r, "plugins", "plugins.roots", "no plugins discovered")
		return
	}
	for _, p := range d.registry.Sorted() {
		field := fmt.Sprintf("plugins.%s", p.Name)
		if !p.Context && !p.Instance {
			d.addError(r, "plugins", field, fmt.Sprintf("plugin %q processes neither context nor instances", p.Name))
		}
		if p.HasRepair && !p.Instance {
			d.addWarning(r, "plugins", field,
				fmt.Sprintf("plugin %q declares repair but never processes instances", p.Name))
		}
		if p.Instance && len(p.Families) == 0 {
			d.addWarning(r, "plugins", field,
				fmt.Sprintf("plugin %q has no families and will match no instance", p.Name))
		}
		if protocol.BandOf(p.Order) == "Other" {
			d.addWarning(r, "plugins", field,
				fmt.Sprintf("plugin %q order %g falls outside the known bands", p.Name, p.Order))
		}
	}
}

// warnUnusedPlugins warns about discovered plugins no configured target selects.
func (d *Doctor) warnUnusedPlugins(r *Result) {
	for _, p := range d.registry.Sorted() {
		if !p.InTargets(d.cfg.Plugins.Targets) {
			d.addWarning(r, "unused", "plugins.targets",
				fmt.Sprintf("plugin %q discovered but not in targets %v", p.Name, d.cfg.Plugins.Targets))
		}
	}
}

// warnOrderTies warns when plugins share an order, since their relative
// position then depends on discovery order.
func (d *Doctor) warnOrderTies(r *Result) {
	byOrder := make(map[float64][]string)
	for _, p := range d.registry.Sorted() {
		byOrder[p.Order] = append(byOrder[p.Order], p.Name)
	}
	orders := make([]float64, 0, len(byOrder))
	for o := range byOrder {
		orders = append(orders, o)
	}
	sort.Float64s(orders)
	for _, o := range orders {
		if names := byOrder[o]; len(names) > 1 {
			d.addWarning(r, "order", "",
				fmt.Sprintf("plugins %s share order %g", strings.Join(names, ", "), o))
		}
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved by the loader.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	envVarRe := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
	for i, root := range d.cfg.Plugins.Roots {
		check(fmt.Sprintf("plugins.roots[%d]", i), root)
	}
	check("journal.path", d.cfg.Journal.Path)
	check("ports.claims_dir", d.cfg.Ports.ClaimsDir)
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
