// Package registry implements the Template Registry (C1): loading,
// validating, versioning and hot-reloading declarative function templates,
// and resolving quality-preset parameter overlays.
package registry

import "time"

// ParamType enumerates the semantic types a template interface parameter
// may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeFloat   ParamType = "float"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
	TypeFile    ParamType = "file"
)

// Constraint bundles the optional per-parameter validation constraints.
type Constraint struct {
	Min     *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Length  *int     `yaml:"length,omitempty" json:"length,omitempty"`
	Pattern string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Enum    []string `yaml:"enum,omitempty" json:"enum,omitempty"`
	Format  string   `yaml:"format,omitempty" json:"format,omitempty"`
}

// Param describes one input or output of a template's interface.
type Param struct {
	Name        string      `yaml:"name" json:"name"`
	Type        ParamType   `yaml:"type" json:"type"`
	Required    bool        `yaml:"required" json:"required"`
	Default     interface{} `yaml:"default,omitempty" json:"default,omitempty"`
	Constraints Constraint  `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
}

// Interface is the template's input/output parameter contract.
type Interface struct {
	Inputs  []Param `yaml:"inputs" json:"inputs"`
	Outputs []Param `yaml:"outputs" json:"outputs"`
}

// RequiredModel names a model artifact a template depends on.
type RequiredModel struct {
	Name    string `yaml:"name" json:"name"`
	SizeGB  float64 `yaml:"size_gb" json:"size_gb"`
	Hash    string `yaml:"hash,omitempty" json:"hash,omitempty"`
}

// Requirements is the template's resource and model dependency block.
type Requirements struct {
	GPU      bool            `yaml:"gpu" json:"gpu"`
	VRAMGB   float64         `yaml:"vram_gb" json:"vram_gb"`
	CPUCores float64         `yaml:"cpu_cores" json:"cpu_cores"`
	MemoryGB float64         `yaml:"memory_gb" json:"memory_gb"`
	DiskGB   float64         `yaml:"disk_gb" json:"disk_gb"`
	Models   []RequiredModel `yaml:"models,omitempty" json:"models,omitempty"`

	// QualityOverlays maps a quality-preset name to a parameter overlay
	// applied on top of the template's defaults.
	QualityOverlays map[string]map[string]interface{} `yaml:"quality_overlays,omitempty" json:"quality_overlays,omitempty"`
}

// Example is a worked input/output pair used by the Examples validation
// stage and documentation surfaces.
type Example struct {
	Name   string                 `yaml:"name" json:"name"`
	Inputs map[string]interface{} `yaml:"inputs" json:"inputs"`
}

// Template is a declarative function template (identity: id+version).
type Template struct {
	ID           string       `yaml:"id" json:"id"`
	Version      string       `yaml:"version" json:"version"`
	Category     string       `yaml:"category" json:"category"`
	Description  string       `yaml:"description,omitempty" json:"description,omitempty"`
	Extends      string       `yaml:"extends,omitempty" json:"extends,omitempty"`
	Interface    Interface    `yaml:"interface" json:"interface"`
	Requirements Requirements `yaml:"requirements" json:"requirements"`
	Examples     []Example    `yaml:"examples,omitempty" json:"examples,omitempty"`
	Tags         []string     `yaml:"tags,omitempty" json:"tags,omitempty"`
	MaxRetries   int          `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	SourcePath string    `yaml:"-" json:"-"`
	LoadedAt   time.Time `yaml:"-" json:"-"`
}

// Key returns the registry's canonical "id@version" composite key.
func (t *Template) Key() string {
	return t.ID + "@" + t.Version
}

// TemplateInfo is the admin-surface summary listTemplates returns.
type TemplateInfo struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Category    string   `json:"category"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// QualityLevel enumerates the built-in preset levels (custom presets use
// their own name but still occupy level 1..4).
type QualityLevel int

const (
	LevelDraft QualityLevel = iota + 1
	LevelStandard
	LevelHigh
	LevelUltra
)

// QualityPreset is a named bundle of time/resource/cost multipliers and
// per-category parameter overrides, with at most one level of inheritance
// via BasePreset.
type QualityPreset struct {
	ID                string                            `yaml:"id" json:"id"`
	Level             QualityLevel                      `yaml:"level" json:"level"`
	TimeMultiplier    float64                           `yaml:"time_multiplier" json:"time_multiplier"`
	ResourceMultiplier float64                          `yaml:"resource_multiplier" json:"resource_multiplier"`
	CostMultiplier    float64                           `yaml:"cost_multiplier" json:"cost_multiplier"`
	CategoryOverrides map[string]map[string]interface{} `yaml:"category_overrides,omitempty" json:"category_overrides,omitempty"`
	BasePreset        string                            `yaml:"base_preset,omitempty" json:"base_preset,omitempty"`

	// CreatedBy and UsageCount apply to user-defined custom presets.
	CreatedBy  string `yaml:"created_by,omitempty" json:"created_by,omitempty"`
	UsageCount int64  `yaml:"-" json:"usage_count,omitempty"`
}

// BuiltinPresets returns the four standard quality presets.
func BuiltinPresets() map[string]QualityPreset {
	return map[string]QualityPreset{
		"draft":    {ID: "draft", Level: LevelDraft, TimeMultiplier: 0.4, ResourceMultiplier: 0.6, CostMultiplier: 0.5},
		"standard": {ID: "standard", Level: LevelStandard, TimeMultiplier: 1.0, ResourceMultiplier: 1.0, CostMultiplier: 1.0},
		"high":     {ID: "high", Level: LevelHigh, TimeMultiplier: 1.8, ResourceMultiplier: 1.4, CostMultiplier: 2.0},
		"ultra":    {ID: "ultra", Level: LevelUltra, TimeMultiplier: 3.0, ResourceMultiplier: 2.0, CostMultiplier: 4.0},
	}
}

// QualitySidecar is the "_quality" block attached to resolved inputs.
type QualitySidecar struct {
	PresetID        string  `json:"preset_id"`
	Level           QualityLevel `json:"level"`
	EstimatedTimeS  float64 `json:"estimated_time_seconds"`
	ResourceHintMem float64 `json:"resource_hint_memory_gb"`
	Priority        int     `json:"priority"`
}
