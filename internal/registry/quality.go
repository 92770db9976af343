package registry

import (
	"fmt"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
)

// PresetResolver looks up a named preset, following BasePreset inheritance.
type PresetResolver interface {
	Preset(id string) (QualityPreset, bool)
}

// staticPresets is the trivial PresetResolver over a fixed map, letting
// callers mix built-ins with registered custom presets.
type staticPresets map[string]QualityPreset

func (p staticPresets) Preset(id string) (QualityPreset, bool) {
	v, ok := p[id]
	return v, ok
}

// NewPresetResolver merges the built-in presets with any custom ones.
func NewPresetResolver(custom map[string]QualityPreset) PresetResolver {
	merged := make(staticPresets, len(custom)+4)
	for id, p := range BuiltinPresets() {
		merged[id] = p
	}
	for id, p := range custom {
		merged[id] = p
	}
	return merged
}

// resolvedPreset flattens a preset's inheritance chain (parent overridden
// by child), capped at one level as the data model requires.
func resolvedPreset(resolver PresetResolver, id string) (QualityPreset, map[string]map[string]interface{}, error) {
	preset, ok := resolver.Preset(id)
	if !ok {
		return QualityPreset{}, nil, apierrors.New(apierrors.CodeValidation, "preset not found").WithDetail("preset", id)
	}

	merged := map[string]map[string]interface{}{}
	if preset.BasePreset != "" {
		base, ok := resolver.Preset(preset.BasePreset)
		if !ok {
			return QualityPreset{}, nil, apierrors.New(apierrors.CodeValidation, "base preset not found").WithDetail("preset", preset.BasePreset)
		}
		for cat, params := range base.CategoryOverrides {
			merged[cat] = cloneParams(params)
		}
	}
	for cat, params := range preset.CategoryOverrides {
		if merged[cat] == nil {
			merged[cat] = map[string]interface{}{}
		}
		for k, v := range params {
			merged[cat][k] = v
		}
	}
	return preset, merged, nil
}

func cloneParams(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ApplyQuality resolves the final input set for t given presetID and the
// user-supplied inputs:
//
//	(a) fill in preset-supplied parameters the user didn't specify
//	(b) apply category-specific calculators
//	(c) apply global scaling to batch size / iterations
//	(d) attach a "_quality" sidecar
func ApplyQuality(t *Template, resolver PresetResolver, presetID string, userInputs map[string]interface{}) (map[string]interface{}, *QualitySidecar, error) {
	preset, overlays, err := resolvedPreset(resolver, presetID)
	if err != nil {
		return nil, nil, err
	}

	categoryParams, hasCategory := overlays[t.Category]
	if !hasCategory && len(overlays) > 0 {
		// PresetIncompatible: the preset carries overrides but
		// none apply to this template's category.
		return nil, nil, apierrors.New(apierrors.CodeValidation, "preset incompatible with template category").
			WithDetail("preset", presetID).
			WithDetail("category", t.Category)
	}

	resolved := make(map[string]interface{}, len(userInputs)+len(categoryParams))
	for k, v := range userInputs {
		resolved[k] = v
	}

	// (a) fill in preset-supplied params the user omitted.
	for k, v := range categoryParams {
		if _, present := resolved[k]; !present {
			resolved[k] = v
		}
	}

	// (b) category-specific calculators.
	applyCategoryCalculator(t.Category, resolved, preset)

	// (c) global scaling of batch size / iterations.
	scaleIfNumeric(resolved, "batch_size", preset.ResourceMultiplier)
	scaleIfNumeric(resolved, "iterations", preset.TimeMultiplier)

	baseTime := 60.0 // default per-template baseline when no history exists
	sidecar := &QualitySidecar{
		PresetID:        preset.ID,
		Level:           preset.Level,
		EstimatedTimeS:  baseTime * preset.TimeMultiplier,
		ResourceHintMem: t.Requirements.MemoryGB * preset.ResourceMultiplier,
		Priority:        int(preset.Level),
	}

	return resolved, sidecar, nil
}

func applyCategoryCalculator(category string, inputs map[string]interface{}, preset QualityPreset) {
	switch category {
	case "image":
		if preset.Level >= LevelHigh {
			if _, ok := inputs["sampler"]; !ok {
				inputs["sampler"] = "dpmpp_2m_karras"
			}
			inputs["enable_hires_fix"] = true
		}
		scaleIfNumeric(inputs, "resolution_scale", preset.ResourceMultiplier)
	case "video":
		if preset.Level >= LevelHigh {
			inputs["enable_frame_interpolation"] = true
		}
	case "audio":
		if preset.Level >= LevelUltra {
			inputs["sample_rate"] = 48000
		}
	case "text":
		scaleIfNumeric(inputs, "max_tokens", preset.ResourceMultiplier)
	}
}

func scaleIfNumeric(inputs map[string]interface{}, key string, factor float64) {
	v, ok := inputs[key]
	if !ok {
		return
	}
	switch n := v.(type) {
	case int:
		inputs[key] = int(float64(n) * factor)
	case int64:
		inputs[key] = int64(float64(n) * factor)
	case float64:
		inputs[key] = n * factor
	default:
		_ = fmt.Sprintf("%v", n) // non-numeric values are left untouched
	}
}
