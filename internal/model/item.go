package model

import (
	"slices"

	"github.com/mattjoyce/vessel/internal/protocol"
)

// ItemType tells plugins, instances and the context apart.
type ItemType string

const (
	TypePlugin   ItemType = "plugin"
	TypeInstance ItemType = "instance"
	TypeContext  ItemType = "context"
)

// Item is the presentation state of one plugin, instance or the context.
// Field names double as patch keys for Update.
type Item struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ItemType ItemType `json:"itemType"`
	Label    string   `json:"label"`

	// Plugins
	Order               float64  `json:"order"`
	Type                string   `json:"type,omitempty"`
	Doc                 string   `json:"doc,omitempty"`
	HasRepair           bool     `json:"hasRepair"`
	CanProcessContext   bool     `json:"canProcessContext"`
	CanProcessInstance  bool     `json:"canProcessInstance"`
	HasCompatible       bool     `json:"hasCompatible"`
	CompatibleInstances []string `json:"compatibleInstances,omitempty"`

	// Instances
	Family            string   `json:"family,omitempty"`
	CompatiblePlugins []string `json:"compatiblePlugins,omitempty"`

	Families        []string             `json:"families,omitempty"`
	Optional        bool                 `json:"optional"`
	IsToggled       bool                 `json:"isToggled"`
	IsProcessing    bool                 `json:"isProcessing"`
	Processed       bool                 `json:"processed"`
	Succeeded       bool                 `json:"succeeded"`
	HasError        bool                 `json:"hasError"`
	CurrentProgress float64              `json:"currentProgress"`
	Duration        float64              `json:"duration"`
	Records         []protocol.Record    `json:"records,omitempty"`
	Errors          []protocol.ErrorInfo `json:"errors,omitempty"`

	Plugin   *protocol.Plugin   `json:"-"`
	Instance *protocol.Instance `json:"-"`
}

// PluginItem builds the item for a discovered plugin. Collectors have
// already run by the time the user sees them, so they start untoggled.
func PluginItem(p protocol.Plugin) Item {
	dto := p
	return Item{
		ID:                 p.ID,
		Name:               p.Name,
		ItemType:           TypePlugin,
		Label:              p.Label,
		Order:              p.Order,
		Type:               p.Type,
		Doc:                p.Doc,
		HasRepair:          p.HasRepair,
		CanProcessContext:  p.ContextEnabled,
		CanProcessInstance: p.InstanceEnabled,
		Families:           slices.Clone(p.Families),
		Optional:           p.Optional,
		IsToggled:          !protocol.InBand(p.Order, protocol.CollectorOrder),
		Plugin:             &dto,
	}
}

// InstanceItem builds the item for an instance. Instances marked
// publish=false start untoggled.
func InstanceItem(inst protocol.Instance) Item {
	dto := inst
	family := inst.Family()
	if family == "" {
		family = "default"
	}
	families := inst.Families()
	if len(families) == 0 {
		families = []string{family}
	}
	return Item{
		ID:        inst.ID,
		Name:      inst.Name,
		ItemType:  TypeInstance,
		Label:     inst.Label(),
		Family:    family,
		Families:  families,
		Optional:  inst.Optional(),
		IsToggled: inst.Publish(),
		Instance:  &dto,
	}
}

// ContextItem builds the item context-level results are reported on.
func ContextItem() Item {
	return Item{
		ID:        protocol.ContextID,
		Name:      protocol.ContextID,
		ItemType:  TypeContext,
		Label:     protocol.ContextID,
		IsToggled: true,
	}
}

// Compatible reports whether plugin p applies to instance inst by family.
func Compatible(p, inst Item) bool {
	for _, want := range p.Families {
		if want == "*" || slices.Contains(inst.Families, want) {
			return true
		}
	}
	return false
}
