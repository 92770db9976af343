package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTemplate(id, version string) *Template {
	return &Template{
		ID:       id,
		Version:  version,
		Category: "image",
		Interface: Interface{
			Outputs: []Param{{Name: "image", Type: TypeFile, Required: true}},
		},
		Requirements: Requirements{MemoryGB: 2},
	}
}

func TestValidateRejectsBadID(t *testing.T) {
	tpl := validTemplate("Bad-ID!", "1.0.0")
	result := Validate(tpl, nil)
	assert.False(t, result.Valid)
}

func TestValidateRequiresAtLeastOneOutput(t *testing.T) {
	tpl := validTemplate("ok_id", "1.0.0")
	tpl.Interface.Outputs = nil
	result := Validate(tpl, nil)
	assert.False(t, result.Valid)
}

func TestValidateGPUTemplateRequiresPositiveVRAM(t *testing.T) {
	tpl := validTemplate("gpu_tpl", "1.0.0")
	tpl.Requirements.GPU = true
	result := Validate(tpl, nil)
	assert.False(t, result.Valid)
}

func TestValidateWarnsAboveVRAMCeiling(t *testing.T) {
	tpl := validTemplate("gpu_tpl", "1.0.0")
	tpl.Requirements.GPU = true
	tpl.Requirements.VRAMGB = 32
	result := Validate(tpl, nil)
	assert.True(t, result.Valid)
	found := false
	for _, i := range result.Issues {
		if i.Severity == SeverityWarning {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateExampleMissingRequiredInput(t *testing.T) {
	tpl := validTemplate("needs_input", "1.0.0")
	tpl.Interface.Inputs = []Param{{Name: "prompt", Type: TypeString, Required: true}}
	tpl.Examples = []Example{{Name: "ex1", Inputs: map[string]interface{}{}}}
	result := Validate(tpl, nil)
	assert.False(t, result.Valid)
}

func TestRegisterAndGetLatestVersion(t *testing.T) {
	r, err := New(8, time.Hour)
	require.NoError(t, err)

	require.NoError(t, r.Register(validTemplate("img", "1.0.0")))
	require.NoError(t, r.Register(validTemplate("img", "2.0.0")))

	tpl, err := r.Get("img", "")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", tpl.Version)

	versions := r.Versions("img")
	assert.Equal(t, []string{"2.0.0", "1.0.0"}, versions)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r, err := New(8, time.Hour)
	require.NoError(t, err)
	require.NoError(t, r.Register(validTemplate("img", "1.0.0")))
	err = r.Register(validTemplate("img", "1.0.0"))
	assert.Error(t, err)
}

func TestListFiltersByCategoryAndTags(t *testing.T) {
	r, err := New(8, time.Hour)
	require.NoError(t, err)

	a := validTemplate("a", "1.0.0")
	a.Tags = []string{"portrait"}
	b := validTemplate("b", "1.0.0")
	b.Category = "video"

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	imgOnly := r.List(ListFilter{Category: "image"})
	assert.Len(t, imgOnly, 1)
	assert.Equal(t, "a", imgOnly[0].ID)

	tagged := r.List(ListFilter{Tags: []string{"portrait"}})
	assert.Len(t, tagged, 1)
	assert.Equal(t, "a", tagged[0].ID)
}

func TestLoadDirectoryRegistersYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	content := `
id: loaded_tpl
version: 1.0.0
category: image
interface:
  outputs:
    - name: image
      type: file
      required: true
requirements:
  memory_gb: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loaded.yaml"), []byte(content), 0o644))

	r, err := New(8, time.Hour)
	require.NoError(t, err)
	require.NoError(t, r.Load(dir))

	tpl, err := r.Get("loaded_tpl", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "image", tpl.Category)
}

func TestKeyForPathResolvesAndClearsOnRemove(t *testing.T) {
	r, err := New(8, time.Hour)
	require.NoError(t, err)

	tpl := validTemplate("path_tpl", "1.0.0")
	tpl.SourcePath = "/templates/path_tpl.yaml"
	require.NoError(t, r.Register(tpl))

	id, version, ok := r.KeyForPath("/templates/path_tpl.yaml")
	require.True(t, ok)
	assert.Equal(t, "path_tpl", id)
	assert.Equal(t, "1.0.0", version)

	r.Remove(id, version)

	_, _, ok = r.KeyForPath("/templates/path_tpl.yaml")
	assert.False(t, ok)
}

func TestValidateMemoizedServesCachedResult(t *testing.T) {
	r, err := New(8, time.Hour)
	require.NoError(t, err)

	tpl := validTemplate("memo", "1.0.0")
	res1, err := r.ValidateMemoized(tpl)
	require.NoError(t, err)
	res2, err := r.ValidateMemoized(tpl)
	require.NoError(t, err)
	assert.Equal(t, res1, res2)
}

func TestCanonicalDigestStableAcrossFieldOrder(t *testing.T) {
	a := validTemplate("x", "1.0.0")
	b := validTemplate("x", "1.0.0")
	da, err := CanonicalDigest(a)
	require.NoError(t, err)
	db, err := CanonicalDigest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}
