package orchestrator

import (
	"fmt"
	"regexp"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/registry"
)

// validateInputs checks a submission's inputs against a template's
// interface (mirroring the registry's own type-checking stage, applied here to instance data rather
// than the template definition itself).
func validateInputs(t *registry.Template, inputs map[string]interface{}) error {
	for _, p := range t.Interface.Inputs {
		v, present := inputs[p.Name]
		if !present {
			if p.Required {
				return apierrors.Validation(p.Name, "missing required input")
			}
			continue
		}
		if err := validateParam(p, v); err != nil {
			return err
		}
	}
	return nil
}

func validateParam(p registry.Param, v interface{}) error {
	if !typeMatches(p.Type, v) {
		return apierrors.Validation(p.Name, fmt.Sprintf("expected type %s", p.Type))
	}

	c := p.Constraints
	switch n := asFloat(v); {
	case c.Min != nil && n < *c.Min:
		return apierrors.Validation(p.Name, "value below minimum")
	case c.Max != nil && n > *c.Max:
		return apierrors.Validation(p.Name, "value above maximum")
	}

	if c.Length != nil {
		if l, ok := lengthOf(v); ok && l != *c.Length {
			return apierrors.Validation(p.Name, "value does not satisfy length constraint")
		}
	}

	if len(c.Enum) > 0 {
		if s, ok := v.(string); ok && !contains(c.Enum, s) {
			return apierrors.Validation(p.Name, "value not in enum")
		}
	}

	if c.Pattern != "" {
		if s, ok := v.(string); ok {
			re, err := regexp.Compile(c.Pattern)
			if err == nil && !re.MatchString(s) {
				return apierrors.Validation(p.Name, "value does not match pattern")
			}
		}
	}

	return nil
}

func typeMatches(t registry.ParamType, v interface{}) bool {
	switch t {
	case registry.TypeString, registry.TypeFile:
		_, ok := v.(string)
		return ok
	case registry.TypeInteger:
		switch v.(type) {
		case int, int32, int64, float64:
			return true
		}
		return false
	case registry.TypeFloat:
		switch v.(type) {
		case float32, float64, int:
			return true
		}
		return false
	case registry.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case registry.TypeArray:
		_, ok := v.([]interface{})
		return ok
	case registry.TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return true
	}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func lengthOf(v interface{}) (int, bool) {
	switch x := v.(type) {
	case string:
		return len(x), true
	case []interface{}:
		return len(x), true
	default:
		return 0, false
	}
}

func contains(set []string, s string) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}
