package ironlaw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var lawT0 = time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

func TestIsProtectedBranch(t *testing.T) {
	tests := []struct {
		branch string
		want   bool
	}{
		{"main", true},
		{"MASTER", true},
		{"trunk", true},
		{"develop", true},
		{"production", true},
		{"release/1.2", true},
		{"release-1.2", true},
		{"feature/queue-eviction", false},
		{"fix-loop-detector", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.branch, func(t *testing.T) {
			assert.Equal(t, tt.want, IsProtectedBranch(tt.branch, nil))
		})
	}
}

func TestTrunkBranchLaw(t *testing.T) {
	law := &TrunkBranchLaw{}

	tests := []struct {
		name string
		snap Snapshot
		pass bool
	}{
		{"dirty tree on main", Snapshot{Branch: "main", DirtyTree: true}, false},
		{"clean tree on main", Snapshot{Branch: "main", DirtyTree: false}, true},
		{"dirty tree on feature branch", Snapshot{Branch: "feature/x", DirtyTree: true}, true},
		{"branch unknown", Snapshot{Branch: "", DirtyTree: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pass, detail := law.Check(&tt.snap)
			assert.Equal(t, tt.pass, pass)
			if !pass {
				assert.NotEmpty(t, detail)
			}
		})
	}
}

func TestTrunkBranchLawCustomProtected(t *testing.T) {
	law := &TrunkBranchLaw{Protected: []string{"stable"}}

	pass, _ := law.Check(&Snapshot{Branch: "stable", DirtyTree: true})
	assert.False(t, pass)
	// With an override, main is no longer protected.
	pass, _ = law.Check(&Snapshot{Branch: "main", DirtyTree: true})
	assert.True(t, pass)
}

func TestCompanionDocsLaw(t *testing.T) {
	law := &CompanionDocsLaw{StalenessWindow: 24 * time.Hour}

	tests := []struct {
		name string
		snap Snapshot
		pass bool
	}{
		{
			name: "all docs fresh",
			snap: Snapshot{
				NewestSourceMod: lawT0,
				Docs: []DocState{
					{Path: "PLAN.md", Exists: true, ModTime: lawT0.Add(-time.Hour)},
					{Path: "NOTES.md", Exists: true, ModTime: lawT0},
				},
			},
			pass: true,
		},
		{
			name: "missing doc",
			snap: Snapshot{
				NewestSourceMod: lawT0,
				Docs: []DocState{
					{Path: "PLAN.md", Exists: false},
				},
			},
			pass: false,
		},
		{
			name: "stale doc",
			snap: Snapshot{
				NewestSourceMod: lawT0,
				Docs: []DocState{
					{Path: "PLAN.md", Exists: true, ModTime: lawT0.Add(-48 * time.Hour)},
				},
			},
			pass: false,
		},
		{
			name: "doc inside the staleness window",
			snap: Snapshot{
				NewestSourceMod: lawT0,
				Docs: []DocState{
					{Path: "PLAN.md", Exists: true, ModTime: lawT0.Add(-12 * time.Hour)},
				},
			},
			pass: true,
		},
		{
			name: "no source mod time known",
			snap: Snapshot{
				Docs: []DocState{
					{Path: "PLAN.md", Exists: true, ModTime: lawT0.Add(-1000 * time.Hour)},
				},
			},
			pass: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pass, _ := law.Check(&tt.snap)
			assert.Equal(t, tt.pass, pass)
		})
	}
}

func TestTestPairingLaw(t *testing.T) {
	law := &TestPairingLaw{}

	pass, _ := law.Check(&Snapshot{ModulePath: "example.com/m", UnpairedSources: nil})
	assert.True(t, pass)

	pass, detail := law.Check(&Snapshot{ModulePath: "example.com/m", UnpairedSources: []string{"internal/a/a.go"}})
	assert.False(t, pass)
	assert.Contains(t, detail, "internal/a/a.go")

	// Not a Go module: the convention does not apply.
	pass, _ = law.Check(&Snapshot{ModulePath: "", UnpairedSources: []string{"internal/a/a.go"}})
	assert.True(t, pass)

	tolerant := &TestPairingLaw{MaxUnpaired: 2}
	pass, _ = tolerant.Check(&Snapshot{ModulePath: "example.com/m", UnpairedSources: []string{"a.go", "b.go"}})
	assert.True(t, pass)
}

func TestDefaultLawsHaveDistinctIDs(t *testing.T) {
	seen := map[int]bool{}
	for _, law := range DefaultLaws() {
		assert.False(t, seen[law.ID()], "duplicate law id %d", law.ID())
		seen[law.ID()] = true
		assert.NotEmpty(t, law.Name())
	}
}
