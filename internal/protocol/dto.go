package protocol

// Order bands. A plugin belongs to band b when b-0.5 <= order < b+0.5.
const (
	CollectorOrder  = 0.0
	ValidatorOrder  = 1.0
	ExtractorOrder  = 2.0
	IntegratorOrder = 3.0
)

// ContextID is the compatibility key used for context-level plugins.
const ContextID = "Context"

// InBand reports whether order falls in the band centred on base.
func InBand(order, base float64) bool {
	return order >= base-0.5 && order < base+0.5
}

// BandOf names the band an order falls in.
func BandOf(order float64) string {
	switch {
	case InBand(order, CollectorOrder):
		return "Collector"
	case InBand(order, ValidatorOrder):
		return "Validator"
	case InBand(order, ExtractorOrder):
		return "Extractor"
	case InBand(order, IntegratorOrder):
		return "Integrator"
	default:
		return "Other"
	}
}

// Plugin describes one discovered plugin as sent over the wire.
type Plugin struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Label           string   `json:"label,omitempty"`
	Version         string   `json:"version,omitempty"`
	Order           float64  `json:"order"`
	Families        []string `json:"families"`
	Hosts           []string `json:"hosts,omitempty"`
	Targets         []string `json:"targets,omitempty"`
	Optional        bool     `json:"optional"`
	HasRepair       bool     `json:"hasRepair"`
	ContextEnabled  bool     `json:"contextEnabled"`
	InstanceEnabled bool     `json:"instanceEnabled"`
	Type            string   `json:"type"`
	Doc             string   `json:"doc,omitempty"`
	Path            string   `json:"path,omitempty"`
}

// Instance is one publishable item in the context tree.
type Instance struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Data     map[string]any `json:"data"`
	Children []Instance     `json:"children"`
}

// Family returns the primary family of the instance.
func (i Instance) Family() string {
	if s, ok := i.Data["family"].(string); ok {
		return s
	}
	return ""
}

// Families returns the primary family followed by any extra families.
func (i Instance) Families() []string {
	var out []string
	seen := map[string]bool{}
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	add(i.Family())
	switch v := i.Data["families"].(type) {
	case []string:
		for _, f := range v {
			add(f)
		}
	case []any:
		for _, f := range v {
			if s, ok := f.(string); ok {
				add(s)
			}
		}
	}
	return out
}

// Publish reports whether the instance is marked for publishing.
// Instances without the key publish.
func (i Instance) Publish() bool {
	if b, ok := i.Data["publish"].(bool); ok {
		return b
	}
	return true
}

// Optional reports whether the user may toggle the instance.
func (i Instance) Optional() bool {
	if b, ok := i.Data["optional"].(bool); ok {
		return b
	}
	return true
}

// Label returns the display label, falling back to the name.
func (i Instance) Label() string {
	if s, ok := i.Data["label"].(string); ok && s != "" {
		return s
	}
	return i.Name
}

// Context is the root of the instance tree.
type Context struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Data     map[string]any `json:"data"`
	Children []Instance     `json:"children"`
}

// ErrorInfo describes a failure raised while processing a pair.
type ErrorInfo struct {
	Message    string `json:"message"`
	Fname      string `json:"fname,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
	Func       string `json:"func,omitempty"`
	Exc        string `json:"exc,omitempty"`
}

// Record is one log record emitted by a plugin.
type Record struct {
	Name      string  `json:"name"`
	LevelName string  `json:"levelname"`
	LevelNo   int     `json:"levelno"`
	Message   string  `json:"message"`
	Created   float64 `json:"created"`
	Msecs     float64 `json:"msecs"`
}

// Result is the outcome of processing one pair.
type Result struct {
	Success  bool       `json:"success"`
	Plugin   Plugin     `json:"plugin"`
	Instance *Instance  `json:"instance"`
	Error    *ErrorInfo `json:"error"`
	Records  []Record   `json:"records"`
	// Duration in milliseconds.
	Duration float64 `json:"duration"`
}

// LevelNo maps a level name to its numeric severity.
func LevelNo(level string) int {
	switch level {
	case "debug", "DEBUG":
		return 10
	case "warn", "warning", "WARN", "WARNING":
		return 30
	case "error", "ERROR":
		return 40
	case "critical", "CRITICAL":
		return 50
	default:
		return 20
	}
}

// DefaultValidationThreshold is the first order that must not run once
// validation has failed.
const DefaultValidationThreshold = ExtractorOrder

// TestVars is the argument of the test command.
type TestVars struct {
	NextOrder       float64   `json:"nextOrder"`
	OrdersWithError []float64 `json:"ordersWithError"`
}

// FailedValidation applies the validation boundary: once a validator has
// failed, nothing at or past threshold runs.
func FailedValidation(threshold float64, vars TestVars) bool {
	if vars.NextOrder < threshold {
		return false
	}
	for _, order := range vars.OrdersWithError {
		if InBand(order, ValidatorOrder) {
			return true
		}
	}
	return false
}
