package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/internal/state"
	"github.com/dshills/deltaindex/pkg/types"
)

func paths(plan *Plan) []string {
	out := make([]string, len(plan.Files))
	for i, f := range plan.Files {
		out[i] = f.Path
	}
	return out
}

func TestPlan_ClassOrdering(t *testing.T) {
	prev := types.NewManifest(state.ManifestVersion)
	prev.Files["a.go"] = &types.FileRecord{Digest: "old"}
	prev.Files["b.go"] = &types.FileRecord{Digest: "old"}
	prev.Files["c.go"] = &types.FileRecord{Digest: "same"}
	prev.Files["gone.go"] = &types.FileRecord{Digest: "x"}

	diff := state.Diff(prev, map[string]types.Digest{
		"c.go": "same",
		"b.go": "new",
		"a.go": "new",
		"d.go": "fresh",
	})
	signals := map[string]types.FileSignals{
		"a.go": {EntryPoint: true},
		"b.go": {FanIn: 10},
		"c.go": {FanIn: 50},
		"d.go": {FanIn: 1},
	}

	plan := New(3).Plan(diff, signals)
	assert.Equal(t, []string{"a.go", "b.go", "d.go", "c.go"}, paths(plan))
	assert.Equal(t, []string{"gone.go"}, plan.Deleted)

	classes := make([]types.PriorityClass, len(plan.Files))
	for i, f := range plan.Files {
		classes[i] = f.Class
	}
	assert.Equal(t, []types.PriorityClass{0, 1, 2, 3}, classes)
	assert.Equal(t, types.FileNew, plan.Files[2].Status)
}

func TestPlan_TieBreakIsTotal(t *testing.T) {
	prev := types.NewManifest(state.ManifestVersion)
	current := map[string]types.Digest{}
	signals := map[string]types.FileSignals{}
	for _, p := range []string{"z.go", "m.go", "a.go", "k.go"} {
		prev.Files[p] = &types.FileRecord{Digest: "d"}
		current[p] = "d"
		signals[p] = types.FileSignals{FanIn: 2}
	}
	signals["k.go"] = types.FileSignals{FanIn: 9}

	plan := New(0).Plan(state.Diff(prev, current), signals)
	assert.Equal(t, []string{"k.go", "a.go", "m.go", "z.go"}, paths(plan))
	for _, f := range plan.Files {
		assert.Equal(t, types.ClassUnchanged, f.Class)
	}
}

func TestClassify_ThresholdIsExclusive(t *testing.T) {
	p := New(3)
	assert.Equal(t, types.ClassChangedOther, p.Classify(types.FileChanged, types.FileSignals{FanIn: 3}))
	assert.Equal(t, types.ClassChangedHighFanIn, p.Classify(types.FileChanged, types.FileSignals{FanIn: 4}))
	assert.Equal(t, types.ClassChangedEntryPoint, p.Classify(types.FileNew, types.FileSignals{EntryPoint: true, FanIn: 40}))
	assert.Equal(t, types.ClassUnchanged, p.Classify(types.FileUnchanged, types.FileSignals{EntryPoint: true}))
}

func TestPlan_CountByClass(t *testing.T) {
	prev := types.NewManifest(state.ManifestVersion)
	plan := New(3).Plan(state.Diff(prev, map[string]types.Digest{"a.go": "1", "b.go": "2"}), nil)
	require.Len(t, plan.Files, 2)
	assert.Equal(t, 2, plan.CountByClass()[types.ClassChangedOther])
}
