package registry

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Severity is an issue's severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Issue is one validation finding.
type Issue struct {
	Stage    string   `json:"stage"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
}

// Result is the outcome of running the six-stage validation pipeline.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

var idPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
var hashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Validate runs the six ordered validation stages against t, given a
// resolver for `extends` chains used by the Dependencies stage.
func Validate(t *Template, resolve func(id, version string) (*Template, bool)) Result {
	var issues []Issue
	add := func(stage string, sev Severity, field, msg string, args ...interface{}) {
		issues = append(issues, Issue{Stage: stage, Severity: sev, Field: field, Message: fmt.Sprintf(msg, args...)})
	}
	hasCritical := func() bool {
		for _, i := range issues {
			if i.Severity == SeverityCritical {
				return true
			}
		}
		return false
	}
	hasError := func() bool {
		for _, i := range issues {
			if i.Severity == SeverityError || i.Severity == SeverityCritical {
				return true
			}
		}
		return false
	}

	// 1. Schema
	if !idPattern.MatchString(t.ID) {
		add("schema", SeverityCritical, "id", "id %q does not match [a-z0-9_]+", t.ID)
	}
	if _, err := semver.NewVersion(t.Version); err != nil {
		add("schema", SeverityCritical, "version", "version %q is not valid semver: %v", t.Version, err)
	}
	if len(t.Interface.Outputs) == 0 {
		add("schema", SeverityCritical, "interface.outputs", "template must declare at least one output")
	}
	if hasCritical() {
		return finalize(issues)
	}

	// 2. Types
	validateParams(t.Interface.Inputs, "interface.inputs", add)
	validateParams(t.Interface.Outputs, "interface.outputs", add)
	if hasCritical() {
		return finalize(issues)
	}

	// 3. Resources
	if t.Requirements.GPU {
		if t.Requirements.VRAMGB <= 0 {
			add("resources", SeverityError, "requirements.vram_gb", "gpu templates require positive vram_gb")
		} else if t.Requirements.VRAMGB > 24 {
			add("resources", SeverityWarning, "requirements.vram_gb", "vram_gb %.1f exceeds the 24GB advisory ceiling", t.Requirements.VRAMGB)
		}
	}
	if t.Requirements.MemoryGB <= 0 {
		add("resources", SeverityError, "requirements.memory_gb", "memory_gb must be positive")
	}
	seenModels := map[string]bool{}
	for _, m := range t.Requirements.Models {
		if m.Hash != "" && !hashPattern.MatchString(m.Hash) {
			add("resources", SeverityError, "requirements.models", "model %q hash is not 64-hex", m.Name)
		}
		if seenModels[m.Name] {
			add("resources", SeverityError, "requirements.models", "duplicate model declaration %q", m.Name)
		}
		seenModels[m.Name] = true
	}
	if hasCritical() {
		return finalize(issues)
	}

	// 4. Examples
	inputByName := map[string]Param{}
	for _, p := range t.Interface.Inputs {
		inputByName[p.Name] = p
	}
	for _, ex := range t.Examples {
		seen := map[string]bool{}
		for name := range ex.Inputs {
			seen[name] = true
			if _, ok := inputByName[name]; !ok {
				add("examples", SeverityWarning, "examples."+ex.Name, "unknown input %q", name)
			}
		}
		for _, p := range t.Interface.Inputs {
			if p.Required && !seen[p.Name] {
				add("examples", SeverityError, "examples."+ex.Name, "missing required input %q", p.Name)
			}
		}
	}
	if hasCritical() {
		return finalize(issues)
	}

	// 5. Dependencies
	if t.Extends != "" && resolve != nil {
		visited := map[string]bool{t.Key(): true}
		cur := t
		depth := 0
		const maxDepth = 8
		for cur.Extends != "" {
			depth++
			if depth > maxDepth {
				add("dependencies", SeverityCritical, "extends", "extends chain exceeds max depth %d", maxDepth)
				break
			}
			parent, ok := resolve(cur.Extends, "")
			if !ok {
				add("dependencies", SeverityError, "extends", "extends target %q not found", cur.Extends)
				break
			}
			if visited[parent.Key()] {
				add("dependencies", SeverityCritical, "extends", "cyclic extends chain detected at %q", parent.Key())
				break
			}
			visited[parent.Key()] = true
			cur = parent
		}
	}

	// 6. Uniqueness is registry-scoped; Registry.Register checks for a
	// duplicate id@version once the template has passed the above stages.

	return Result{Valid: !hasError(), Issues: issues}
}

func finalize(issues []Issue) Result {
	for _, i := range issues {
		if i.Severity == SeverityError || i.Severity == SeverityCritical {
			return Result{Valid: false, Issues: issues}
		}
	}
	return Result{Valid: true, Issues: issues}
}

func validateParams(params []Param, field string, add func(stage string, sev Severity, field, msg string, args ...interface{})) {
	for _, p := range params {
		c := p.Constraints
		if c.Pattern != "" {
			if _, err := regexp.Compile(c.Pattern); err != nil {
				add("types", SeverityError, field+"."+p.Name, "invalid pattern regex: %v", err)
			}
		}
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			add("types", SeverityError, field+"."+p.Name, "min %.2f exceeds max %.2f", *c.Min, *c.Max)
		}
		if c.Enum != nil && len(c.Enum) == 0 {
			add("types", SeverityError, field+"."+p.Name, "enum constraint must be non-empty when present")
		}
		if p.Type != TypeFile && c.Format != "" && isFileFormat(c.Format) {
			add("types", SeverityError, field+"."+p.Name, "format %q only valid on file type", c.Format)
		}
		if p.Default != nil && !defaultSatisfiesConstraints(p) {
			add("types", SeverityError, field+"."+p.Name, "default value does not satisfy its constraints")
		}
	}
}

func isFileFormat(format string) bool {
	switch format {
	case "png", "jpg", "jpeg", "wav", "mp4", "mp3":
		return true
	default:
		return false
	}
}

func defaultSatisfiesConstraints(p Param) bool {
	switch v := p.Default.(type) {
	case float64:
		if p.Constraints.Min != nil && v < *p.Constraints.Min {
			return false
		}
		if p.Constraints.Max != nil && v > *p.Constraints.Max {
			return false
		}
	case string:
		if len(p.Constraints.Enum) > 0 {
			for _, e := range p.Constraints.Enum {
				if e == v {
					return true
				}
			}
			return false
		}
	}
	return true
}

// CanonicalDigest computes the SHA-256 hash of t's canonical (stable key
// order) JSON representation, used as the memoization cache key.
func CanonicalDigest(t *Template) (string, error) {
	canon, err := canonicalize(t)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%x", sum), nil
}

func canonicalize(t *Template) ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return marshalSorted(m)
}

func marshalSorted(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}
